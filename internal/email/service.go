package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/canopy-portal/internal/config"
)

type Service interface {
	SendApplicationReceived(ctx context.Context, to, name, form, reference string) error
	SendCustom(ctx context.Context, to string, subject string, content string) error
}

// Sender is the part of gomail.Dialer the service needs.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type smtpService struct {
	sender Sender
	from   string
}

func NewSMTPService(cfg config.MailConfig) Service {
	return NewService(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.From)
}

func NewService(sender Sender, from string) Service {
	return &smtpService{sender: sender, from: from}
}

func (s *smtpService) SendApplicationReceived(ctx context.Context, to, name, form, reference string) error {
	subject := fmt.Sprintf("We received your %s", form)
	body := fmt.Sprintf(
		"Dear %s,\n\nThank you for your %s. Your reference number is %s.\n"+
			"Our team will review it and contact you at this address.\n\nCanopy Programme Office",
		name, form, reference,
	)
	return s.SendCustom(ctx, to, subject, body)
}

func (s *smtpService) SendCustom(ctx context.Context, to string, subject string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", content)

	if err := s.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

type nopService struct{}

// NewNopService discards every message. Used when mail is disabled.
func NewNopService() Service { return nopService{} }

func (nopService) SendApplicationReceived(context.Context, string, string, string, string) error {
	return nil
}

func (nopService) SendCustom(context.Context, string, string, string) error { return nil }
