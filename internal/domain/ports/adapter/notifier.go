package adapter

import "context"

// Notifier delivers a text message to a customer or admin chat.
type Notifier interface {
	Notify(ctx context.Context, recipientID, message string) error
}
