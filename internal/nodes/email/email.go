// Package email implements the nodes.email.send handler over the SMTP
// mailer.
package email

import (
	"context"

	"github.com/go-viper/mapstructure/v2"

	"github.com/refluxhq/reflux/internal/bus"
	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/mailer"
)

type emailConfig struct {
	To      []string `mapstructure:"to"`
	Cc      []string `mapstructure:"cc"`
	Bcc     []string `mapstructure:"bcc"`
	From    string   `mapstructure:"from"`
	Subject string   `mapstructure:"subject"`
	Text    string   `mapstructure:"text"`
	HTML    string   `mapstructure:"html"`
}

// Sender is the part of the mailer the handler needs.
type Sender interface {
	Send(ctx context.Context, msg mailer.Message) (*mailer.Result, error)
}

// Definition returns the nodes.email.send handler.
func Definition(sender Sender) *bus.HandlerDef {
	return &bus.HandlerDef{
		Name:    "nodes.email.send",
		Version: bus.DefaultVersion,
		Params: []bus.ParamSpec{
			{Name: "to", Type: "array", Required: true, Description: "Recipient addresses; a single string is accepted"},
			{Name: "subject", Type: "string", Required: true},
			{Name: "text", Type: "string", Description: "Plain-text body"},
			{Name: "html", Type: "string", Description: "HTML body"},
			{Name: "from", Type: "string", Description: "Sender; defaults to the configured from address"},
			{Name: "cc", Type: "array"},
			{Name: "bcc", Type: "array"},
		},
		Handler: func(ctx context.Context, params map[string]any, meta bus.Meta) (any, error) {
			return execute(ctx, params, sender)
		},
	}
}

func execute(ctx context.Context, params map[string]any, sender Sender) (any, error) {
	var cfg emailConfig
	if err := decodeConfig(params, &cfg); err != nil {
		return nil, core.Validationf("invalid email.send params: %v", err)
	}
	if len(cfg.To) == 0 {
		return nil, core.Validationf("email.send requires to")
	}
	if cfg.Subject == "" {
		return nil, core.Validationf("email.send requires subject")
	}
	if cfg.Text == "" && cfg.HTML == "" {
		return nil, core.Validationf("email.send requires text or html")
	}

	res, err := sender.Send(ctx, mailer.Message{
		From:    cfg.From,
		To:      cfg.To,
		Cc:      cfg.Cc,
		Bcc:     cfg.Bcc,
		Subject: cfg.Subject,
		Text:    cfg.Text,
		HTML:    cfg.HTML,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"messageId": res.MessageID,
		"accepted":  stringsToAny(res.Accepted),
		"rejected":  stringsToAny(res.Rejected),
	}, nil
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func decodeConfig(dat map[string]any, cfg *emailConfig) error {
	md, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return md.Decode(dat)
}
