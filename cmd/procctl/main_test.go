package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/procman/internal/client"
	"github.com/GriffinCanCode/AgentOS/procman/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/procman/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/procman/internal/server"
)

func setup(t *testing.T) *client.Client {
	t.Helper()
	cfg := config.Default()
	cfg.Process.ProgramRoot = t.TempDir()
	cfg.RateLimit.Enabled = false

	s, err := server.New(cfg, &logging.Logger{Logger: zap.NewNop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Manager().Run(ctx)
	}()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})

	opts := client.DefaultOptions()
	opts.BaseURL = srv.URL
	return client.New(opts)
}

func TestDispatch(t *testing.T) {
	c := setup(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		cmd     string
		args    []string
		code    int
		out     string
		wantErr bool
	}{
		{"run forwards exit code", "run", []string{"/bin/exit", "3"}, 3, "", false},
		{"run streams output", "run", []string{"/bin/echo", "hello"}, 0, "hello\n", false},
		{"create reuses the freed pid", "create", []string{"/bin/true"}, 0, "1\n", false},
		{"start created", "start", []string{"1"}, 0, "", false},
		{"kill unknown", "kill", []string{"42"}, 0, "", true},
		{"bad pid", "wait", []string{"x"}, 2, "", true},
		{"pipe arity", "pipe", []string{"1"}, 2, "", true},
		{"unknown command", "frob", nil, 2, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			code, err := dispatch(ctx, c, &out, tt.cmd, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.out, out.String())
		})
	}
}

func TestPS(t *testing.T) {
	c := setup(t)
	ctx := context.Background()

	_, err := dispatch(ctx, c, &bytes.Buffer{}, "create", []string{"/bin/sleep", "5"})
	require.NoError(t, err)

	var out bytes.Buffer
	code, err := dispatch(ctx, c, &out, "ps", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "PID"))
	assert.Contains(t, lines[1], "/bin/sleep")
	assert.Contains(t, lines[1], "now")
}
