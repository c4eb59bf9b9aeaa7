package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
)

// Import creates and returns a cobra command for loading flow
// definitions from YAML files.
func Import() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "import [flags] <file>...",
			Short: "Import flow definitions from YAML files",
			Long: `Create flows in the store from YAML definition files.

Each file holds one or more flow documents:

  name: order-sync
  version: 1.0.0
  description: Sync orders into the warehouse
  tags: [orders]
  active: true
  spec:
    nodes:
      - id: hook
        type: nodes.webhook.trigger
        parameters:
          path: /orders
    edges: []

The spec is validated before anything is written. A flow whose name and
version already exist is skipped unless --update is given, in which
case its spec and metadata are overwritten and the previous spec is
snapshotted into the version history.

Examples:
  reflux import flows/*.yaml
  reflux import --update flows/order-sync.yaml
`,
			Args: cobra.MinimumNArgs(1),
		},
		importFlags,
		runImport,
	)
}

var importFlags = []commandLineFlag{activateFlag, updateFlag}

// flowDefinition is one YAML document in an import file.
type flowDefinition struct {
	Name        string         `yaml:"name"`
	Version     string         `yaml:"version"`
	Description string         `yaml:"description"`
	Tags        []string       `yaml:"tags"`
	Active      *bool          `yaml:"active"`
	Spec        map[string]any `yaml:"spec"`
}

func runImport(ctx *Context, args []string) error {
	activate, err := ctx.BoolParam("activate")
	if err != nil {
		return err
	}
	update, err := ctx.BoolParam("update")
	if err != nil {
		return err
	}

	store, err := ctx.OpenStore()
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	var created, updated, skipped int
	for _, file := range args {
		defs, err := readFlowFile(file)
		if err != nil {
			return err
		}
		for _, def := range defs {
			outcome, err := importFlow(ctx, store, def, activate, update)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			switch outcome {
			case flowCreated:
				created++
			case flowUpdated:
				updated++
			case flowSkipped:
				skipped++
			}
		}
	}

	fmt.Printf("Imported %d flow(s) (%d updated, %d skipped)\n", created, updated, skipped)
	return nil
}

type importOutcome int

const (
	flowCreated importOutcome = iota
	flowUpdated
	flowSkipped
)

// readFlowFile parses every YAML document in the file.
func readFlowFile(file string) ([]flowDefinition, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", file, err)
	}

	var defs []flowDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var def flowDefinition
		if err := dec.Decode(&def); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse %q: %w", file, err)
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, core.Validationf("%s contains no flow documents", file)
	}
	return defs, nil
}

func importFlow(ctx *Context, flows persistence.FlowStore, def flowDefinition, activate, update bool) (importOutcome, error) {
	if def.Name == "" {
		return flowSkipped, core.Validationf("flow name is required")
	}
	if len(def.Spec) == 0 {
		return flowSkipped, core.Validationf("flow %q has no spec", def.Name)
	}

	raw, err := json.Marshal(def.Spec)
	if err != nil {
		return flowSkipped, fmt.Errorf("failed to encode spec for %q: %w", def.Name, err)
	}
	if _, err := core.ParseSpec(raw); err != nil {
		return flowSkipped, fmt.Errorf("flow %q: %w", def.Name, err)
	}

	version := def.Version
	if version == "" {
		version = "1.0.0"
	}
	active := activate
	if def.Active != nil {
		active = *def.Active
	}

	flow := &core.Flow{
		ID:          uuid.NewString(),
		Name:        def.Name,
		Version:     version,
		Description: def.Description,
		Spec:        raw,
		Tags:        def.Tags,
		IsActive:    active,
	}
	err = flows.CreateFlow(ctx, flow)
	if err == nil {
		logger.Info(ctx, "Flow imported", tag.Flow(def.Name), tag.Version(version))
		return flowCreated, nil
	}
	if !errors.Is(err, core.ErrFlowExists) {
		return flowSkipped, err
	}
	if !update {
		logger.Warn(ctx, "Flow already exists, skipping", tag.Flow(def.Name), tag.Version(version))
		return flowSkipped, nil
	}

	existing, err := findFlow(ctx, flows, def.Name, version)
	if err != nil {
		return flowSkipped, err
	}
	upd := persistence.FlowUpdate{
		Description: &def.Description,
		Spec:        raw,
		Tags:        def.Tags,
		IsActive:    &active,
		UpdatedBy:   "import",
		Changelog:   "reimported from file",
	}
	if _, err := flows.UpdateFlow(ctx, existing.ID, upd); err != nil {
		return flowSkipped, err
	}
	logger.Info(ctx, "Flow updated", tag.Flow(def.Name), tag.Version(version))
	return flowUpdated, nil
}

// findFlow resolves a flow by exact name and version.
func findFlow(ctx *Context, flows persistence.FlowStore, name, version string) (*core.Flow, error) {
	matches, err := flows.ListFlows(ctx, persistence.WithFlowName(name))
	if err != nil {
		return nil, err
	}
	for _, f := range matches {
		if f.Version == version {
			return f, nil
		}
	}
	return nil, core.NotFoundf("flow %s@%s not found", name, version)
}
