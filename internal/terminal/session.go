package terminal

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("terminal: session not found")

// ErrClosed is returned when using a closed session.
var ErrClosed = errors.New("terminal: session closed")

const (
	outputBufferSize = 64 << 10
	closeWait        = time.Second
)

// Session is one pseudo-terminal.
type Session struct {
	id        string
	createdAt time.Time

	controller *os.File // client side
	replica    *os.File // process side
	output     *Buffer
	done       chan struct{}

	mu     sync.RWMutex
	cols   int  // Protected by mu
	rows   int  // Protected by mu
	closed bool // Protected by mu
}

// ID implements protocol.Terminal.
func (s *Session) ID() string {
	return s.id
}

// Read implements protocol.Terminal: it reads what a client typed.
func (s *Session) Read(p []byte) (int, error) {
	return s.replica.Read(p)
}

// Write implements protocol.Terminal: it prints to the terminal.
func (s *Session) Write(p []byte) (int, error) {
	return s.replica.Write(p)
}

// Input delivers keystrokes from a client.
func (s *Session) Input(p []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.controller.Write(p)
	return err
}

// Output drains what processes printed since the last call.
func (s *Session) Output() []byte {
	return s.output.Drain()
}

// Resize changes terminal dimensions
func (s *Session) Resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := pty.Setsize(s.controller, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("resize %s: %w", s.id, err)
	}
	s.cols, s.rows = cols, rows
	return nil
}

// Info returns the session's public description.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:        s.id,
		Cols:      s.cols,
		Rows:      s.rows,
		CreatedAt: s.createdAt,
		Active:    !s.closed,
	}
}

// Close releases both ends of the pty. Processes blocked reading the
// terminal see an error.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := errors.Join(s.replica.Close(), s.controller.Close())
	select {
	case <-s.done:
	case <-time.After(closeWait):
	}
	return err
}

// collect copies controller output into the session buffer until the pty closes.
func (s *Session) collect(logger *zap.Logger) {
	defer close(s.done)
	buf := make([]byte, 4096)
	for {
		n, err := s.controller.Read(buf)
		if n > 0 {
			_, _ = s.output.Write(buf[:n])
		}
		if err != nil {
			logger.Debug("Terminal output reader stopped", zap.String("terminal", s.id), zap.Error(err))
			return
		}
	}
}

// Manager manages terminal sessions
type Manager struct {
	sessions sync.Map // id -> *Session
	logger   *zap.Logger
}

// NewManager creates a new session manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// Create opens a pty pair with the given size.
func (m *Manager) Create(cols, rows int) (*Session, error) {
	// Default dimensions
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	controller, replica, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open PTY: %w", err)
	}
	if err := pty.Setsize(controller, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		_ = replica.Close()
		_ = controller.Close()
		return nil, fmt.Errorf("failed to size PTY: %w", err)
	}

	s := &Session{
		id:         uuid.New().String(),
		createdAt:  time.Now(),
		controller: controller,
		replica:    replica,
		output:     NewBuffer(outputBufferSize),
		done:       make(chan struct{}),
		cols:       cols,
		rows:       rows,
	}
	m.sessions.Store(s.id, s)
	go s.collect(m.logger)

	m.logger.Info("Terminal opened", zap.String("terminal", s.id), zap.String("device", replica.Name()))
	return s, nil
}

// Get looks a session up by id.
func (m *Manager) Get(id string) (*Session, error) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v.(*Session), nil
}

// Close closes and forgets a session.
func (m *Manager) Close(id string) error {
	v, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.logger.Info("Terminal closed", zap.String("terminal", id))
	return v.(*Session).Close()
}

// List returns all sessions
func (m *Manager) List() []Info {
	var out []Info
	m.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*Session).Info())
		return true
	})
	return out
}

// CloseAll closes every session.
func (m *Manager) CloseAll() error {
	var errs []error
	m.sessions.Range(func(k, _ any) bool {
		if err := m.Close(k.(string)); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}
