// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package email delivers passcodes by mail.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/config"
	"codeberg.org/oliverandrich/otpgate/internal/i18n"
	"github.com/wneessen/go-mail"
)

// Message is a rendered passcode mail.
type Message struct {
	Subject string
	Body    string
}

// Render builds the passcode mail in the locale carried by ctx.
func Render(ctx context.Context, appName, code string, validity time.Duration) Message {
	return Message{
		Subject: i18n.TData(ctx, "otp_email_subject", map[string]any{
			"AppName": appName,
		}),
		Body: i18n.TData(ctx, "otp_email_body", map[string]any{
			"Code":    code,
			"Minutes": int(validity.Minutes()),
		}),
	}
}

// Service sends passcode mails over SMTP.
type Service struct {
	cfg      *config.SMTPConfig
	appName  string
	validity time.Duration
}

// NewService creates a new email service.
func NewService(cfg *config.SMTPConfig, appName string, validity time.Duration) (*Service, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}

	return &Service{
		cfg:      cfg,
		appName:  appName,
		validity: validity,
	}, nil
}

// SendOTP mails code to the recipient.
func (s *Service) SendOTP(ctx context.Context, to, code string) error {
	msg, err := s.buildMessage(to, Render(ctx, s.appName, code, s.validity))
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}

func (s *Service) buildMessage(to string, rendered Message) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if s.cfg.FromName != "" {
		if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}

	msg.Subject(rendered.Subject)
	msg.SetBodyString(mail.TypeTextPlain, rendered.Body)
	return msg, nil
}

func (s *Service) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
	}

	// Implicit TLS on 465, STARTTLS elsewhere
	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		if s.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	return opts
}

// LogSender writes passcodes to the log instead of mailing them. It is
// used when no SMTP host is configured.
type LogSender struct {
	appName  string
	validity time.Duration
}

// NewLogSender creates a LogSender.
func NewLogSender(appName string, validity time.Duration) *LogSender {
	return &LogSender{appName: appName, validity: validity}
}

// SendOTP logs the rendered mail at warn level.
func (l *LogSender) SendOTP(ctx context.Context, to, code string) error {
	rendered := Render(ctx, l.appName, code, l.validity)
	slog.WarnContext(ctx, "otp_mail_not_sent",
		"reason", "smtp_not_configured",
		"to", to,
		"subject", rendered.Subject,
		"code", code,
	)
	return nil
}
