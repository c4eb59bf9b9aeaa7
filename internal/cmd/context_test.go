package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refluxhq/reflux/internal/bus"
	"github.com/refluxhq/reflux/internal/cmn/config"
)

func newTestCommand(flags ...commandLineFlag) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	initFlags(cmd, flags...)
	cmd.SetContext(context.Background())
	return cmd
}

func TestNewContextLoadsConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/reflux_test")
	t.Setenv("SERVER_PORT", "9999")

	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("quiet", "true"))

	ctx, err := NewContext(cmd, nil)
	require.NoError(t, err)
	assert.True(t, ctx.Quiet)
	assert.Equal(t, 9999, ctx.Config.Server.Port)
	assert.Equal(t, "postgres://localhost:5432/reflux_test", ctx.Config.Database.URL)
}

func TestNewContextRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := NewContext(newTestCommand(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestContextParams(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/reflux_test")

	cmd := newTestCommand(hostFlag, dryRunFlag)
	require.NoError(t, cmd.Flags().Set("host", "0.0.0.0"))
	require.NoError(t, cmd.Flags().Set("dry-run", "true"))

	ctx, err := NewContext(cmd, nil)
	require.NoError(t, err)

	host, err := ctx.StringParam("host")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", host)

	dryRun, err := ctx.BoolParam("dry-run")
	require.NoError(t, err)
	assert.True(t, dryRun)

	_, err = ctx.StringParam("no-such-flag")
	require.Error(t, err)
}

func TestNewDispatcherLocal(t *testing.T) {
	t.Parallel()

	registry := bus.NewRegistry()
	dispatcher, transport, err := newDispatcher(config.Bus{RequestTimeout: time.Second}, registry)
	require.NoError(t, err)
	assert.Nil(t, transport)
	assert.NotNil(t, dispatcher)
}

func TestNewDispatcherRejectsBadURL(t *testing.T) {
	t.Parallel()

	registry := bus.NewRegistry()
	_, _, err := newDispatcher(config.Bus{Transporter: "://not-a-url"}, registry)
	require.Error(t, err)
}
