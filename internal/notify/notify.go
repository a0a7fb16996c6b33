// Package notify delivers account emails: verification links, password reset
// links and password-changed notices.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindVerification    Kind = "verification"
	KindPasswordReset   Kind = "password_reset"
	KindPasswordChanged Kind = "password_changed"
)

var ErrQueueFull = errors.New("notification queue full")

// Message is what the auth service asks to be delivered. Link carries a
// one-time token and must never be logged.
type Message struct {
	Kind      Kind   `json:"kind"`
	To        string `json:"to"`
	FirstName string `json:"firstName"`
	Link      string `json:"link,omitempty"`
}

// Notifier dispatches a message. A nil error means the message was accepted
// for delivery, not that it reached the inbox.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

type Mail struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, mail Mail) error
}

func Render(msg Message) (Mail, error) {
	if strings.TrimSpace(msg.To) == "" {
		return Mail{}, errors.New("render mail: recipient is empty")
	}

	name := msg.FirstName
	if strings.TrimSpace(name) == "" {
		name = "there"
	}

	switch msg.Kind {
	case KindVerification:
		return Mail{
			To:      msg.To,
			Subject: "Welcome to LiveStock Track - Verify Your Email",
			Body: fmt.Sprintf("Hi %s,\n\nWelcome to LiveStock Track! Please verify your email: %s\n\nThis link expires in 24 hours.",
				name, msg.Link),
		}, nil
	case KindPasswordReset:
		return Mail{
			To:      msg.To,
			Subject: "Reset Your LiveStock Track Password",
			Body: fmt.Sprintf("Hi %s,\n\nReset your password here: %s\nThis link expires in 1 hour. If you didn't request this, ignore the email.",
				name, msg.Link),
		}, nil
	case KindPasswordChanged:
		return Mail{
			To:      msg.To,
			Subject: "Your Password Has Been Changed",
			Body: fmt.Sprintf("Hi %s,\n\nYour LiveStock Track password was changed. If this wasn't you, contact support immediately.",
				name),
		}, nil
	default:
		return Mail{}, fmt.Errorf("render mail: unknown kind %q", msg.Kind)
	}
}

// Deliverer renders and sends a message. It is the final hop for every
// transport.
type Deliverer struct {
	sender Sender
}

func NewDeliverer(sender Sender) *Deliverer {
	return &Deliverer{sender: sender}
}

func (d *Deliverer) Deliver(ctx context.Context, msg Message) error {
	mail, err := Render(msg)
	if err != nil {
		return err
	}
	if err := d.sender.Send(ctx, mail); err != nil {
		return fmt.Errorf("send %s mail: %w", msg.Kind, err)
	}
	return nil
}

// Notify delivers synchronously, which lets a Deliverer stand in as a
// Notifier.
func (d *Deliverer) Notify(ctx context.Context, msg Message) error {
	return d.Deliver(ctx, msg)
}
