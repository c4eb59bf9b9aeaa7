// Package mailer sends multipart mail over SMTP with per-recipient
// accept tracking.
package mailer

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"github.com/refluxhq/reflux/internal/cmn/config"
	"github.com/refluxhq/reflux/internal/core"
)

// header injection guard: strip CR/LF and their encoded forms from
// addresses and subjects.
var replacer = strings.NewReplacer("\r\n", "", "\r", "", "\n", "", "%0a", "", "%0d", "")

const boundary = "==reflux-mailer-boundary"

// Mailer delivers mail through one SMTP host.
type Mailer struct {
	host     string
	port     string
	username string
	password string
	from     string
}

// Message is one outgoing mail.
type Message struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Text    string
	HTML    string
}

// Result reports how the SMTP server treated each recipient.
type Result struct {
	MessageID string
	Accepted  []string
	Rejected  []string
}

// New builds a mailer from the SMTP config.
func New(cfg config.SMTP) *Mailer {
	return &Mailer{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
	}
}

// Send delivers msg. Recipients the server rejects at RCPT time are
// collected in Result.Rejected; the send fails only when no recipient
// is accepted.
func (m *Mailer) Send(ctx context.Context, msg Message) (*Result, error) {
	if m.host == "" {
		return nil, core.Validationf("smtp host is not configured")
	}
	from := replacer.Replace(msg.From)
	if from == "" {
		from = replacer.Replace(m.from)
	}
	if from == "" {
		return nil, core.Validationf("email requires a from address")
	}
	recipients := sanitize(append(append(append([]string{}, msg.To...), msg.Cc...), msg.Bcc...))
	if len(recipients) == 0 {
		return nil, core.Validationf("email requires at least one recipient")
	}

	c, err := smtp.Dial(m.host + ":" + m.port)
	if err != nil {
		return nil, core.Executionf("smtp dial %s:%s: %v", m.host, m.port, err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-done:
		}
	}()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.host, MinVersion: tls.VersionTLS12}); err != nil {
			return nil, core.Executionf("smtp starttls: %v", err)
		}
	}
	if m.username != "" || m.password != "" {
		auth := smtp.PlainAuth("", m.username, m.password, m.host)
		if err := c.Auth(auth); err != nil {
			return nil, core.Executionf("smtp auth: %v", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return nil, core.Executionf("smtp mail from %s: %v", from, err)
	}

	res := &Result{MessageID: newMessageID(m.host)}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt); err != nil {
			res.Rejected = append(res.Rejected, rcpt)
			continue
		}
		res.Accepted = append(res.Accepted, rcpt)
	}
	if len(res.Accepted) == 0 {
		return nil, core.Executionf("smtp rejected all %d recipients", len(recipients))
	}

	wc, err := c.Data()
	if err != nil {
		return nil, core.Executionf("smtp data: %v", err)
	}
	if _, err := wc.Write(compose(res.MessageID, from, msg)); err != nil {
		return nil, core.Executionf("smtp write body: %v", err)
	}
	if err := wc.Close(); err != nil {
		return nil, core.Executionf("smtp close body: %v", err)
	}
	if err := c.Quit(); err != nil {
		return nil, core.Executionf("smtp quit: %v", err)
	}
	return res, nil
}

func sanitize(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(replacer.Replace(a))
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func newMessageID(host string) string {
	if host == "" {
		host = "reflux"
	}
	return fmt.Sprintf("<%s@%s>", uuid.Must(uuid.NewV7()).String(), host)
}

// compose renders a multipart/alternative message with base64 bodies.
// Bcc recipients are intentionally absent from the headers.
func compose(messageID, from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("Message-ID: " + messageID + "\r\n")
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(sanitize(msg.To), ",") + "\r\n")
	if len(msg.Cc) > 0 {
		b.WriteString("Cc: " + strings.Join(sanitize(msg.Cc), ",") + "\r\n")
	}
	b.WriteString("Subject: " + replacer.Replace(msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/alternative;\r\n")
	b.WriteString("  boundary=\"" + boundary + "\"\r\n\r\n")

	if msg.Text != "" || msg.HTML == "" {
		writePart(&b, "text/plain", msg.Text)
	}
	if msg.HTML != "" {
		writePart(&b, "text/html", msg.HTML)
	}
	b.WriteString("--" + boundary + "--\r\n")
	return []byte(b.String())
}

func writePart(b *strings.Builder, contentType, body string) {
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: " + contentType + "; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	b.WriteString(base64.StdEncoding.EncodeToString([]byte(body)))
	b.WriteString("\r\n")
}
