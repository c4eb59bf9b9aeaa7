// Package nodes wires the builtin node handlers onto a bus registry.
package nodes

import (
	"github.com/refluxhq/reflux/internal/bus"
	"github.com/refluxhq/reflux/internal/cmn/config"
	"github.com/refluxhq/reflux/internal/mailer"
	"github.com/refluxhq/reflux/internal/nodes/condition"
	"github.com/refluxhq/reflux/internal/nodes/database"
	"github.com/refluxhq/reflux/internal/nodes/email"
	httpnode "github.com/refluxhq/reflux/internal/nodes/http"
	"github.com/refluxhq/reflux/internal/nodes/openai"
	"github.com/refluxhq/reflux/internal/nodes/transform"
	"github.com/refluxhq/reflux/internal/nodes/webhook"
)

// Deps carries the shared clients the builtin handlers close over.
type Deps struct {
	Config *config.Config

	// Mailer overrides the SMTP sender, used by tests.
	Mailer email.Sender
}

// RegisterBuiltin registers every builtin node handler at its default
// version.
func RegisterBuiltin(reg *bus.Registry, deps Deps) error {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	sender := deps.Mailer
	if sender == nil {
		sender = mailer.New(cfg.SMTP)
	}

	defs := []*bus.HandlerDef{
		httpnode.Definition(),
		transform.Definition(),
		condition.Definition(),
		database.Definition(cfg.Database.URL),
		email.Definition(sender),
		openai.Definition(cfg.OpenAI),
		webhook.Definition(),
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}
