package tools

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rahul/taskmesh/internal/plan"
)

// Mailer sends one plain-text email.
type Mailer interface {
	SendMail(ctx context.Context, to []string, subject, body string) error
}

// EmailExecutor handles email.send.
type EmailExecutor struct {
	Mailer Mailer
}

func NewEmailExecutor(m Mailer) *EmailExecutor {
	return &EmailExecutor{Mailer: m}
}

func (e *EmailExecutor) Execute(ctx context.Context, action *plan.Action, p *plan.Plan) (any, error) {
	if err := requireParams(action, "recipient", "subject"); err != nil {
		return nil, err
	}
	if e.Mailer == nil {
		return nil, Invalidf(action, "email is not configured")
	}

	var to []string
	for _, r := range strings.Split(action.Param("recipient"), ",") {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		addr, err := mail.ParseAddress(r)
		if err != nil {
			return nil, Invalidf(action, "bad recipient %q", r)
		}
		to = append(to, addr.Address)
	}
	if len(to) == 0 {
		return nil, Invalidf(action, "no recipients")
	}

	if err := e.Mailer.SendMail(ctx, to, action.Param("subject"), action.Param("body")); err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}
	return map[string]any{"sent_to": to, "subject": action.Param("subject")}, nil
}

// SMTPMailer delivers through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (m *SMTPMailer) SendMail(ctx context.Context, to []string, subject, body string) error {
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, m.From, to, m.message(to, subject, body))
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SMTPMailer) message(to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
