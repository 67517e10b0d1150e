package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/citewatch/citewatch/internal/metrics"
)

// EmailService sends email through an SMTP relay.
type EmailService struct {
	dialer *gomail.Dialer
	from   string
}

var _ EmailSender = (*EmailService)(nil)

// NewEmailService creates the SMTP sender.
func NewEmailService(host string, port int, username, password, from string) *EmailService {
	return &EmailService{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

// Send delivers one message. The dialer enforces its own connection
// timeouts; ctx is only consulted before dialing.
func (s *EmailService) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	m.AddAlternative("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		metrics.NotificationsTotal.WithLabelValues("email", "error").Inc()
		return fmt.Errorf("send email to %s: %w", msg.To, err)
	}

	metrics.NotificationsTotal.WithLabelValues("email", "sent").Inc()
	return nil
}
