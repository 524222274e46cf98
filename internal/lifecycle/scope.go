// Package lifecycle models the host's "unit of work" (an HTTP request, a
// Pub/Sub message, a CLI invocation) so components can release resources when
// it ends without reaching into a global application object.
package lifecycle

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
)

// Registrar accepts callbacks to run when the current unit of work ends.
type Registrar interface {
	OnEnd(fn func())
}

// Scope is one unit of work. End runs the registered callbacks exactly once,
// most recent first.
type Scope struct {
	mu     sync.Mutex
	hooks  []func()
	ended  bool
	logger *slog.Logger
}

func NewScope(logger *slog.Logger) *Scope {
	return &Scope{logger: logger}
}

// OnEnd registers fn. Registering on an ended scope runs fn immediately.
func (s *Scope) OnEnd(fn func()) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		s.run(fn)
		return
	}
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// End runs the hooks. Later calls are no-ops.
func (s *Scope) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		s.run(hooks[i])
	}
}

// run isolates a panicking hook so the remaining ones still execute.
func (s *Scope) run(fn func()) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error("End-of-unit hook panicked", "panic", r)
		}
	}()
	fn()
}

type scopeKey struct{}

// WithScope attaches s to ctx.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the scope attached to ctx, if any.
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok
}

// Middleware opens a Scope per request and ends it after the handler returns,
// including when the handler panics.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := NewScope(logger)
			defer scope.End()
			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
		})
	}
}
