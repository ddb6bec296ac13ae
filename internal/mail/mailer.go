// Package mail delivers one-time passcodes out of band. Delivery is
// best-effort everywhere it is used: a failed send never fails the
// challenge that triggered it.
package mail

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog/log"
)

// Mailer sends an OTP code to a destination address.
type Mailer interface {
	SendOTP(ctx context.Context, to, displayName, code string) error
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	Addr string // host:port
	From string
	Auth smtp.Auth
}

// NewSMTPMailer creates an SMTPMailer. auth may be nil for open relays.
func NewSMTPMailer(addr, from string, auth smtp.Auth) *SMTPMailer {
	return &SMTPMailer{Addr: addr, From: from, Auth: auth}
}

func (m *SMTPMailer) SendOTP(ctx context.Context, to, displayName, code string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Your verification code\r\n\r\nHello %s,\r\n\r\nYour verification code is %s. It expires in 5 minutes.\r\n",
		m.From, to, displayName, code)
	if err := smtp.SendMail(m.Addr, m.Auth, m.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("sending otp mail: %w", err)
	}
	return nil
}

// LogMailer writes codes to the log instead of sending mail. Development
// use only.
type LogMailer struct{}

func (LogMailer) SendOTP(ctx context.Context, to, displayName, code string) error {
	log.Info().Str("to", to).Str("code", code).Msg("otp mail (dev mode, not sent)")
	return nil
}
