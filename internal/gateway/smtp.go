package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"
	"strings"

	gomail "gopkg.in/gomail.v2"

	"github.com/leadmap/campaign-engine/internal/domain"
)

// SMTPSender delivers through a mailbox's own SMTP credentials. Gmail and
// Outlook mailboxes authenticate with XOAUTH2 access tokens; plain SMTP
// mailboxes use their stored username and password.
type SMTPSender struct{}

// NewSMTPSender builds the SMTP sender. It is stateless; every send dials
// with the mailbox's credentials.
func NewSMTPSender() *SMTPSender {
	return &SMTPSender{}
}

func (s *SMTPSender) Send(ctx context.Context, mailbox *domain.Mailbox, msg *Message) (*Result, error) {
	host, port := smtpEndpoint(mailbox)
	if host == "" {
		return nil, fmt.Errorf("mailbox %s has no smtp host", mailbox.ID)
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.FromEmail, msg.FromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetBody("text/html", msg.HTML)

	d := gomail.NewDialer(host, port, mailbox.SMTPUser, mailbox.SMTPPass)
	if mailbox.UsesOAuth() {
		if mailbox.AccessToken == "" {
			return &Result{Reason: "missing oauth access token", Permanent: false}, nil
		}
		d.Auth = &xoauth2Auth{user: mailbox.Email, token: mailbox.AccessToken}
	}

	// gomail does not take a context; honor cancellation around the dial.
	done := make(chan error, 1)
	go func() { done <- d.DialAndSend(m) }()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return &Result{
				Reason:    fmt.Sprintf("smtp send: %v", err),
				Permanent: permanentSMTPError(err),
			}, nil
		}
	}
	return &Result{Success: true}, nil
}

func smtpEndpoint(m *domain.Mailbox) (string, int) {
	host, port := m.SMTPHost, m.SMTPPort
	switch m.Provider {
	case domain.ProviderGmail:
		host, port = "smtp.gmail.com", 587
	case domain.ProviderOutlook:
		host, port = "smtp.office365.com", 587
	}
	if port == 0 {
		port = 587
	}
	return host, port
}

// permanentSMTPError classifies 5xx reply codes as non-retryable.
func permanentSMTPError(err error) bool {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code >= 500
	}
	s := err.Error()
	return strings.HasPrefix(s, "550") || strings.HasPrefix(s, "553") || strings.HasPrefix(s, "554")
}

// xoauth2Auth implements the XOAUTH2 SASL mechanism Gmail and Outlook accept
// in place of a password.
type xoauth2Auth struct {
	user  string
	token string
}

func (a *xoauth2Auth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("xoauth2 requires a TLS connection")
	}
	resp := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.user, a.token)
	return "XOAUTH2", []byte(resp), nil
}

func (a *xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		// The server sent an error payload; an empty reply elicits the
		// final 535 response.
		return []byte{}, nil
	}
	return nil, nil
}
