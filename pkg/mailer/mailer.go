package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/allo-oral/clinicaflow-api/pkg/config"
)

// Mailer delivers transactional mail over SMTP.
type Mailer struct {
	cfg config.SMTPConfig
}

// New constructs a Mailer from SMTP settings.
func New(cfg config.SMTPConfig) *Mailer {
	return &Mailer{cfg: cfg}
}

// Send delivers a single HTML message.
func (m *Mailer) Send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.cfg.FromEmail, m.cfg.FromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	d := gomail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.User, m.cfg.Password)
	if err := d.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// SendPasswordResetCode emails a one-time reset code.
func (m *Mailer) SendPasswordResetCode(to, code string) error {
	subject := "Your ClinicaFlow password reset code"
	body := fmt.Sprintf(
		"<p>Use the code below to reset your ClinicaFlow password. It expires in 15 minutes.</p>"+
			"<p style=\"font-size:24px;letter-spacing:4px\"><strong>%s</strong></p>"+
			"<p>If you did not request a reset, you can ignore this email.</p>",
		code,
	)
	return m.Send(to, subject, body)
}
