package outbound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
)

type EmailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// EmailSender delivers multipart (text + HTML) messages over SMTP.
type EmailSender struct {
	cfg      EmailConfig
	server   string
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailSender(cfg EmailConfig) *EmailSender {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailSender{
		cfg:      cfg,
		server:   cfg.Host + ":" + cfg.Port,
		auth:     auth,
		sendMail: smtp.SendMail,
	}
}

func (s *EmailSender) IsConfigured() bool {
	return s.cfg.Host != "" && s.cfg.Port != "" && s.cfg.From != ""
}

var errEmailNotConfigured = errors.New("email not configured")

// SendHTML builds the plain-text alternative from htmlBody.
func (s *EmailSender) SendHTML(_ context.Context, to, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return errEmailNotConfigured
	}
	text, err := PlainText(htmlBody)
	if err != nil {
		return err
	}

	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.From)
	}
	boundary := "alt-" + uuid.NewString()

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", strings.ReplaceAll(text, "\n", "\r\n"))

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	if err := s.sendMail(s.server, s.auth, s.cfg.From, []string{to}, msg.Bytes()); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
