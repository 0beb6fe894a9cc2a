package email

import "context"

// EmailSender is the delivery surface used by staff alerts. SESClient implements it.
type EmailSender interface {
	Send(ctx context.Context, recipient, subject, body string) error
	SendFrom(ctx context.Context, recipient, subject, body, sender string) error
}
