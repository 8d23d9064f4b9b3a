package mailer

import "context"

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer is the injected send capability. Dispatch logic only ever sees this
// interface so it stays testable with a substitutable fake.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
