package api

const taskBodyMaxSize = 64 * 1024 // 64 KiB

const deletedMessage = "task deleted"

type healthResponse struct {
	Status string `json:"status"`
}
