package storage

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// QueuedMessage is one dequeued export queue message. It stays invisible to
// other consumers until its visibility timeout lapses or it is deleted.
type QueuedMessage struct {
	ID      string
	Receipt string
	Body    string
	Dequeue int64
}

// EventQueue consumes the queue ExportEvent writes to.
type EventQueue struct {
	queue *azqueue.QueueClient
}

func NewEventQueue(connStr, name string) (*EventQueue, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: q}, nil
}

// Dequeue returns the next message, or nil when the queue is empty.
func (q *EventQueue) Dequeue(ctx context.Context) (*QueuedMessage, error) {
	resp, err := q.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return toQueuedMessage(resp.Messages[0]), nil
}

// Delete removes a processed message.
func (q *EventQueue) Delete(ctx context.Context, m *QueuedMessage) error {
	_, err := q.queue.DeleteMessage(ctx, m.ID, m.Receipt, nil)
	return err
}

func toQueuedMessage(m *azqueue.DequeuedMessage) *QueuedMessage {
	out := &QueuedMessage{}
	if m.MessageID != nil {
		out.ID = *m.MessageID
	}
	if m.PopReceipt != nil {
		out.Receipt = *m.PopReceipt
	}
	if m.MessageText != nil {
		out.Body = *m.MessageText
	}
	if m.DequeueCount != nil {
		out.Dequeue = *m.DequeueCount
	}
	return out
}
