package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/hibiken/asynq"
)

// Mailer delivers TaskTypeSendEmail tasks over SMTP.
type Mailer struct {
	host   string
	port   int
	from   string
	logger *slog.Logger
}

// NewMailer builds the handler for TaskTypeSendEmail.
func NewMailer(host string, port int, from string, logger *slog.Logger) *Mailer {
	return &Mailer{host: host, port: port, from: from, logger: logger}
}

// Handle processes one TaskTypeSendEmail task.
func (m *Mailer) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", m.from, payload.To, payload.Subject, payload.Body)
	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	if err := smtp.SendMail(addr, nil, m.from, []string{payload.To}, []byte(msg)); err != nil {
		m.logger.Warn("send mail", slog.String("to", payload.To), slog.Any("error", err))
		return err
	}
	return nil
}
