package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/procman/internal/filesystem"
	"github.com/GriffinCanCode/AgentOS/procman/internal/process"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/procman/internal/unit"
)

func upper(ctx context.Context, pc *unit.Context) (int, error) {
	line, err := pc.In().ReadLine()
	if err != nil {
		return 1, err
	}
	if _, err := pc.Out().Write([]byte(strings.ToUpper(string(line)))); err != nil {
		return 1, err
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

func setupServer(t *testing.T) (*process.Manager, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	fsys := filesystem.NewMemory(nil)
	mux := unit.NewMux(nil)
	require.NoError(t, unit.RegisterBuiltins(mux))
	require.NoError(t, mux.Handle("/test/upper", unit.RunnerFunc(upper)))

	pool := unit.NewPool(unit.SpawnerConfig{Runner: mux, FS: fsys, Logger: logger})
	m := process.NewManager(process.DefaultConfig(), process.NewFSLoader(fsys, mux.Provides), pool, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()

	router := gin.New()
	NewHandler(m, nil, logger).Register(router)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = pool.Shutdown(sctx)
		cancel()
		<-done
	})
	return m, srv
}

func dial(t *testing.T, srv *httptest.Server, pid int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/processes/" + strconv.Itoa(pid)
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	var hello Frame
	require.NoError(t, c.ReadJSON(&hello))
	require.Equal(t, "attached", hello.Type)
	require.Equal(t, pid, hello.PID)
	return c
}

// collect reads frames until the exit frame and returns stdout and the code.
func collect(t *testing.T, c *websocket.Conn) (string, int) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))

	var out strings.Builder
	for {
		var f Frame
		require.NoError(t, c.ReadJSON(&f))
		switch f.Type {
		case "output":
			if f.Stream == "stdout" {
				out.WriteString(f.Data)
			}
		case "exit":
			require.NotNil(t, f.Code)
			return out.String(), *f.Code
		case "error":
			t.Fatalf("error frame: %s", f.Message)
		}
	}
}

func create(t *testing.T, m *process.Manager, req protocol.CreateRequest) int {
	t.Helper()
	pid, err := m.Host().Create(context.Background(), req)
	require.NoError(t, err)
	return pid
}

func TestAttachStreamsUntilExit(t *testing.T) {
	m, srv := setupServer(t)
	pid := create(t, m, protocol.CreateRequest{Path: "/bin/cat", PipeStdin: true, PipeStdout: true, Start: true})

	c := dial(t, srv, pid)
	require.NoError(t, c.WriteJSON(Frame{Type: "stdin", Data: "abc\n"}))
	require.NoError(t, c.WriteJSON(Frame{Type: "stdin", Data: "def\n"}))
	require.NoError(t, c.WriteJSON(Frame{Type: "eof"}))

	out, code := collect(t, c)
	assert.Equal(t, "abc\ndef\n", out)
	assert.Equal(t, 0, code)
}

func TestAttachKill(t *testing.T) {
	m, srv := setupServer(t)
	pid := create(t, m, protocol.CreateRequest{Path: "/test/upper", PipeStdin: true, PipeStdout: true, Start: true})

	c := dial(t, srv, pid)
	require.NoError(t, c.WriteJSON(Frame{Type: "stdin", Data: "hi\n"}))

	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f Frame
	for f.Type != "output" {
		require.NoError(t, c.ReadJSON(&f))
	}
	assert.Equal(t, "HI\n", f.Data)

	require.NoError(t, c.WriteJSON(Frame{Type: "kill"}))
	_, code := collect(t, c)
	assert.Equal(t, protocol.KilledExitCode, code)

	_, err := m.Table().Get(pid)
	assert.ErrorIs(t, err, protocol.ErrNoSuchProcess)
}

func TestAttachPingAndUnknownFrames(t *testing.T) {
	m, srv := setupServer(t)
	pid := create(t, m, protocol.CreateRequest{Path: "/test/upper", PipeStdin: true, PipeStdout: true, Start: true})

	c := dial(t, srv, pid)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))

	require.NoError(t, c.WriteJSON(Frame{Type: "ping"}))
	var f Frame
	require.NoError(t, c.ReadJSON(&f))
	assert.Equal(t, "pong", f.Type)

	require.NoError(t, c.WriteJSON(Frame{Type: "bogus"}))
	require.NoError(t, c.ReadJSON(&f))
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, "unknown message type", f.Message)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{")))
	require.NoError(t, c.ReadJSON(&f))
	assert.Equal(t, "malformed frame", f.Message)
}

func TestAttachRejectsUnknownProcess(t *testing.T) {
	_, srv := setupServer(t)

	tests := []struct {
		name   string
		pid    string
		status int
	}{
		{"not a number", "abc", http.StatusBadRequest},
		{"no such process", "77", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/processes/" + tt.pid
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
