package scheduler

import (
	"context"

	"github.com/sngor/bayon-realtime/internal/model"
)

// EmailClient is satisfied by pkg/email.
type EmailClient interface {
	Send(to string, subject string, msg string) error
}

// EmailSender adapts the SMTP client to the delivery pipeline.
type EmailSender struct {
	client EmailClient
}

func NewEmailSender(client EmailClient) *EmailSender {
	return &EmailSender{client: client}
}

func (s *EmailSender) Send(_ context.Context, delivery model.Delivery, notification model.Notification) error {
	return s.client.Send(delivery.Recipient, notification.Title, notification.Body)
}

// TextClient is satisfied by pkg/telegram.
type TextClient interface {
	Send(to string, text string) error
}

// TelegramSender adapts the bot client to the delivery pipeline.
type TelegramSender struct {
	client TextClient
}

func NewTelegramSender(client TextClient) *TelegramSender {
	return &TelegramSender{client: client}
}

func (s *TelegramSender) Send(_ context.Context, delivery model.Delivery, notification model.Notification) error {
	text := notification.Title
	if notification.Body != "" {
		text += "\n\n" + notification.Body
	}
	return s.client.Send(delivery.Recipient, text)
}
