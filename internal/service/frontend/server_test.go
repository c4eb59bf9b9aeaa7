package frontend

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refluxhq/reflux/internal/cmn/config"
	"github.com/refluxhq/reflux/internal/persistence"
	"github.com/refluxhq/reflux/internal/service/frontend/api"
)

// stubStores satisfies persistence.Stores without backing storage; the
// lifecycle tests only touch /health.
type stubStores struct{ persistence.Stores }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.Server{
			Host:            "127.0.0.1",
			ShutdownTimeout: time.Second,
		},
		Logging: config.Logging{Level: "info", Format: "text"},
	}
}

func serveTest(t *testing.T, cfg *config.Config) (baseURL string, stop func() error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(cfg, api.New(stubStores{}, nil, nil, nil), WithListener(ln))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	stop = func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			return context.DeadlineExceeded
		}
	}
	return "http://" + srv.Addr(), stop
}

func get(t *testing.T, url string) (int, bool) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	return resp.StatusCode, true
}

func waitHealthy(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if code, ok := get(t, url); ok && code == http.StatusOK {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s never became healthy", url)
}

func TestServeAndGracefulShutdown(t *testing.T) {
	base, stop := serveTest(t, testConfig())

	waitHealthy(t, base+"/health")
	require.NoError(t, stop())

	_, ok := get(t, base+"/health")
	assert.False(t, ok, "connections refused after shutdown")
}

func TestServeUnderBasePath(t *testing.T) {
	cfg := testConfig()
	cfg.Server.BasePath = "reflux"
	base, stop := serveTest(t, cfg)
	defer func() { require.NoError(t, stop()) }()

	waitHealthy(t, base+"/reflux/health")

	code, ok := get(t, base+"/health")
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, code, "root is not mounted")
}
