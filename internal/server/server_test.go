package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/procman/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/procman/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/procman/internal/process"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Process.ProgramRoot = t.TempDir()
	cfg.Logging.Development = true
	return cfg
}

func testLogger() *logging.Logger {
	return &logging.Logger{Logger: zap.NewNop()}
}

func TestNewServesRoutes(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Process.ProgramRoot, "hello.js"), []byte("output('hi')\n"), 0o644))

	s, err := New(cfg, testLogger())
	require.NoError(t, err)

	tests := []struct {
		path     string
		contains string
	}{
		{"/health", `"status":"healthy"`},
		{"/programs", "/hello.js"},
		{"/metrics", "procman_"},
		{"/metrics/json", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), tt.contains)
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Process.MaxPID = 1
	_, err := New(cfg, testLogger())
	assert.Error(t, err)
}

func TestRunLaunchesBootManifestAndStops(t *testing.T) {
	cfg := testConfig(t)
	manifest := filepath.Join(t.TempDir(), "boot.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte("programs:\n  - name: hello\n    path: /bin/true\n    wait: true\n"), 0o644))
	cfg.Boot.Manifest = manifest

	s, err := New(cfg, testLogger())
	require.NoError(t, err)

	exits := make(chan process.ExitEvent, 1)
	s.Manager().WithOnExit(func(ev process.ExitEvent) { exits <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case ev := <-exits:
		assert.Equal(t, "/bin/true", ev.Path)
		assert.Equal(t, 0, ev.Code)
		assert.Equal(t, "exit", ev.Reason)
	case <-time.After(3 * time.Second):
		t.Fatal("boot program never exited")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEndToEndOverHTTP(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Manager().Run(ctx) }()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/processes", "application/json",
		strings.NewReader(`{"path":"/bin/exit","args":["5"],"start":true}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"pid":1`)
}
