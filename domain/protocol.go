package domain

// Request headers shared by the Mutation API and its clients.
const (
	HeaderClientID       = "X-Client-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// DeleteConfirmation is the DELETE /api/tasks/:id response body.
type DeleteConfirmation struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the body of every non-2xx Mutation API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
