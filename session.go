package calltrace

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrSessionStopped is returned when a session is stopped twice.
var ErrSessionStopped = errors.New("session already stopped")

// TraceHandler is called when a session produced its trace.
type TraceHandler func(trace *Trace, stats Stats)

type handlerEntry struct {
	handler TraceHandler
	id      uint64
}

// Option configures a Session.
type Option func(*Session)

// WithConfig sets the session configuration.
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		s.cfg = cfg
	}
}

// WithLogger sets the session logger. The default logger discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHandler registers a trace handler before the session starts.
func WithHandler(handler TraceHandler) Option {
	return func(s *Session) {
		s.OnTrace(handler)
	}
}

// Session is one tracing session: a fresh buffer, a base timestamp and a
// subscription to a Source. Start acquires all three; Stop releases the
// subscription, reconciles the buffer and writes the trace.
//
//nolint:govet // Field order optimized for functionality over memory
type Session struct {
	src       Source
	buf       *Buffer
	logger    *zap.Logger
	panicHook func(handlerID uint64, r interface{})
	handlers  []handlerEntry
	cfg       Config
	id        string
	base      int64
	nextID    atomic.Uint64
	mu        sync.Mutex
	stopped   bool
}

// Start subscribes a fresh session to src.
func Start(src Source, opts ...Option) (*Session, error) {
	if src == nil {
		return nil, errors.New("nil source")
	}

	s := &Session{
		src:    src,
		cfg:    DefaultConfig(),
		logger: zap.NewNop(),
		id:     uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s.buf = NewBuffer(s.cfg.MaxEvents)
	s.base = src.Now()
	if err := src.Subscribe(s.buf); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	s.logger.Debug("tracing session started",
		zap.String("session", s.id),
		zap.Int("max_events", s.buf.Limit()),
	)
	return s, nil
}

// ID returns the session identifier used in log entries.
func (s *Session) ID() string {
	return s.id
}

// Base returns the clock reading captured at Start.
func (s *Session) Base() int64 {
	return s.base
}

// Buffer returns the session's notification buffer.
func (s *Session) Buffer() *Buffer {
	return s.buf
}

// OnTrace registers a handler called by Stop once the trace is written.
func (s *Session) OnTrace(handler TraceHandler) uint64 {
	if handler == nil {
		return 0
	}

	id := s.nextID.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers = append(s.handlers, handlerEntry{id: id, handler: handler})
	return id
}

// RemoveHandler removes a handler by ID.
func (s *Session) RemoveHandler(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Preserve order
	for i, h := range s.handlers {
		if h.id == id {
			copy(s.handlers[i:], s.handlers[i+1:])
			s.handlers = s.handlers[:len(s.handlers)-1]
			return
		}
	}
}

// SetPanicHook sets a function to be called when a handler panics.
func (s *Session) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panicHook = hook
}

// Finish unsubscribes from the source and reconciles the buffered stream
// without writing anything. The buffer is released afterwards.
func (s *Session) Finish() (*Trace, Stats, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, Stats{}, ErrSessionStopped
	}
	s.stopped = true
	s.mu.Unlock()

	var errs error
	if err := s.src.Unsubscribe(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("unsubscribe: %w", err))
	}

	ns := s.buf.Notifications()
	resolver := NewResolver()
	if s.cfg.Record != "" {
		if err := writeRecording(s.cfg.Record, s.base, ns, resolver); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	spans, stats, err := Reconcile(ns, s.base, resolver)
	dropped := s.buf.Dropped()
	s.buf = nil
	if err != nil {
		return nil, stats, multierr.Append(errs, fmt.Errorf("reconcile: %w", err))
	}

	trace := NewTrace(spans)
	trace.ProcessName = orDefault(s.cfg.ProcessName, DefaultProcessName)
	trace.ThreadName = orDefault(s.cfg.ThreadName, DefaultThreadName)

	s.logger.Debug("tracing session reconciled",
		zap.String("session", s.id),
		zap.Int("notifications", stats.Notifications),
		zap.Int("leading", stats.Leading),
		zap.Int("trailing", stats.Trailing),
		zap.Int("orphans", stats.Orphans),
		zap.Int("unclosed", stats.Unclosed),
		zap.Int("spans", stats.Spans),
		zap.Int64("dropped", dropped),
	)
	if dropped > 0 {
		s.logger.Warn("notification buffer overflowed",
			zap.String("session", s.id),
			zap.Int64("dropped", dropped),
		)
	}
	return trace, stats, errs
}

// Stop finishes the session and writes the trace to path. An empty path
// selects the configured output. Handlers run only when the write succeeded.
func (s *Session) Stop(path string) error {
	trace, stats, err := s.Finish()
	if trace == nil {
		return err
	}

	if path == "" {
		path = s.cfg.Output
	}
	if werr := trace.WriteFile(path); werr != nil {
		return multierr.Append(err, werr)
	}
	s.logger.Info("trace written",
		zap.String("session", s.id),
		zap.String("path", path),
		zap.Int("pairs", trace.Pairs()),
	)

	s.executeHandlers(trace, stats)
	return err
}

// executeHandlers calls all registered handlers with the finished trace.
func (s *Session) executeHandlers(trace *Trace, stats Stats) {
	s.mu.Lock()
	if len(s.handlers) == 0 {
		s.mu.Unlock()
		return
	}

	handlers := make([]handlerEntry, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		s.safeCall(h, trace, stats)
	}
}

func (s *Session) safeCall(entry handlerEntry, trace *Trace, stats Stats) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			hook := s.panicHook
			s.mu.Unlock()
			if hook != nil {
				hook(entry.id, r)
			}
		}
	}()
	entry.handler(trace, stats)
}

// Run traces fn into path. The session is stopped on every exit path; a panic
// in fn propagates after the trace is written, and fn's error is returned
// together with any error from stopping.
func Run(src Source, path string, fn func() error, opts ...Option) (err error) {
	s, err := Start(src, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := s.Stop(path); stopErr != nil {
			s.logger.Error("failed to finalize trace",
				zap.String("session", s.id),
				zap.Error(stopErr),
			)
			err = multierr.Append(err, stopErr)
		}
	}()
	return fn()
}

// Traceable wraps fn so that every call is traced into "<prefix><name>.json".
func Traceable(src Source, prefix, name string, fn func() error, opts ...Option) func() error {
	path := prefix + name + ".json"
	return func() error {
		return Run(src, path, fn, opts...)
	}
}
