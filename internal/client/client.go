package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/GriffinCanCode/AgentOS/procman/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
)

// Options configures a Client.
type Options struct {
	BaseURL string

	// Retries is how often a request is retried when procd cannot be
	// reached. HTTP error responses are never retried.
	Retries   int
	RetryWait time.Duration
}

// DefaultOptions targets a local procd.
func DefaultOptions() Options {
	return Options{
		BaseURL:   "http://localhost:8000",
		Retries:   3,
		RetryWait: 200 * time.Millisecond,
	}
}

// Client talks to procd's HTTP API.
type Client struct {
	base  string
	resty *resty.Client
}

// New creates a client.
func New(opts Options) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.Retries
	rc.RetryWaitMin = opts.RetryWait
	rc.RetryWaitMax = 10 * opts.RetryWait
	rc.Logger = nil
	rc.CheckRetry = func(ctx context.Context, _ *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}

	base := strings.TrimRight(opts.BaseURL, "/")
	r := resty.NewWithClient(rc.StandardClient()).
		SetBaseURL(base).
		SetHeader("User-Agent", "procctl/1.0").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	return &Client{base: base, resty: r}
}

// APIError is a non-2xx response. Code is the process error code when
// the server reported one.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("procd: HTTP %d", e.Status)
	}
	return fmt.Sprintf("procd: %s", e.Message)
}

// Unwrap exposes the protocol error so errors.Is works across HTTP.
func (e *APIError) Unwrap() error {
	if e.Code < 0 {
		return protocol.FromCode(e.Code)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	apiErr := &APIError{}
	req := c.resty.R().SetContext(ctx).SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return apiErr
	}
	return nil
}

func processPath(pid int, suffix string) string {
	return "/processes/" + strconv.Itoa(pid) + suffix
}

// Health returns the health document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// List returns the process table.
func (c *Client) List(ctx context.Context) ([]protocol.ProcessInfo, error) {
	var out struct {
		Processes []protocol.ProcessInfo `json:"processes"`
	}
	err := c.do(ctx, http.MethodGet, "/processes", nil, &out)
	return out.Processes, err
}

// Create creates a process and returns its pid.
func (c *Client) Create(ctx context.Context, req protocol.CreateRequest) (int, error) {
	var out struct {
		PID int `json:"pid"`
	}
	err := c.do(ctx, http.MethodPost, "/processes", req, &out)
	return out.PID, err
}

// Kill terminates pid.
func (c *Client) Kill(ctx context.Context, pid int) error {
	return c.do(ctx, http.MethodDelete, processPath(pid, ""), nil, nil)
}

// Start starts a created process.
func (c *Client) Start(ctx context.Context, pid int) error {
	return c.do(ctx, http.MethodPost, processPath(pid, "/start"), nil, nil)
}

// Pipe joins out's stdout to in's stdin.
func (c *Client) Pipe(ctx context.Context, out, in int) error {
	body := map[string]int{"out_pid": out, "in_pid": in}
	return c.do(ctx, http.MethodPost, "/processes/pipe", body, nil)
}

// Wait blocks until pid exits and returns its exit code.
func (c *Client) Wait(ctx context.Context, pid int) (int, error) {
	var out struct {
		Code int `json:"code"`
	}
	err := c.do(ctx, http.MethodGet, processPath(pid, "/wait"), nil, &out)
	return out.Code, err
}

// Attach opens the WebSocket stream of pid. The caller reads ws.Frame
// values until the exit frame and closes the connection.
func (c *Client) Attach(ctx context.Context, pid int) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(c.base, "http") + "/ws/processes/" + strconv.Itoa(pid)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: "attach refused"}
		}
		return nil, fmt.Errorf("attach %d: %w", pid, err)
	}

	var hello ws.Frame
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("attach %d: %w", pid, err)
	}
	return conn, nil
}
