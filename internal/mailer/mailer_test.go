package mailer

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refluxhq/reflux/internal/cmn/config"
)

func TestComposeMultipart(t *testing.T) {
	t.Parallel()

	raw := compose("<id@host>", "sender@example.com", Message{
		To:      []string{"a@example.com", "b@example.com"},
		Cc:      []string{"c@example.com"},
		Bcc:     []string{"hidden@example.com"},
		Subject: "Weekly report",
		Text:    "plain body",
		HTML:    "<p>html body</p>",
	})
	msg := string(raw)

	assert.Contains(t, msg, "Message-ID: <id@host>\r\n")
	assert.Contains(t, msg, "From: sender@example.com\r\n")
	assert.Contains(t, msg, "To: a@example.com,b@example.com\r\n")
	assert.Contains(t, msg, "Cc: c@example.com\r\n")
	assert.NotContains(t, msg, "hidden@example.com")
	assert.Contains(t, msg, "Subject: Weekly report\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain")
	assert.Contains(t, msg, "Content-Type: text/html")
	assert.Contains(t, msg, base64.StdEncoding.EncodeToString([]byte("plain body")))
	assert.Contains(t, msg, base64.StdEncoding.EncodeToString([]byte("<p>html body</p>")))
	assert.True(t, strings.HasSuffix(msg, "--"+boundary+"--\r\n"))
}

func TestComposeTextOnlyWhenHTMLEmpty(t *testing.T) {
	t.Parallel()

	msg := string(compose("<id@host>", "s@example.com", Message{
		To: []string{"a@example.com"},
	}))
	assert.Contains(t, msg, "Content-Type: text/plain")
	assert.NotContains(t, msg, "Content-Type: text/html")
}

func TestSanitizeStripsInjection(t *testing.T) {
	t.Parallel()

	out := sanitize([]string{
		"good@example.com",
		"evil@example.com\r\nBcc: other@example.com",
		"  spaced@example.com  ",
		"",
	})
	assert.Equal(t, []string{
		"good@example.com",
		"evil@example.comBcc: other@example.com",
		"spaced@example.com",
	}, out)
}

func TestNewMessageID(t *testing.T) {
	t.Parallel()

	id := newMessageID("mail.example.com")
	assert.True(t, strings.HasPrefix(id, "<"))
	assert.True(t, strings.HasSuffix(id, "@mail.example.com>"))
	assert.NotEqual(t, id, newMessageID("mail.example.com"))

	assert.True(t, strings.HasSuffix(newMessageID(""), "@reflux>"))
}

func TestSendValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, err := New(config.SMTP{}).Send(ctx, Message{To: []string{"a@example.com"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp host")

	m := New(config.SMTP{Host: "localhost", Port: "2525"})
	_, err = m.Send(ctx, Message{To: []string{"a@example.com"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from address")

	m = New(config.SMTP{Host: "localhost", Port: "2525", From: "s@example.com"})
	_, err = m.Send(ctx, Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one recipient")
}
