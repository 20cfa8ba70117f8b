package viewstate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tailscale-portfolio/directory-ui/internal/directory"
)

type mounted struct {
	ctrl     *Controller
	lastSeen time.Time
}

// Registry keeps one mounted Controller per browser session.
type Registry struct {
	ctx     context.Context
	fetcher directory.Fetcher
	logger  *zap.Logger
	opts    []Option
	now     func() time.Time

	mu    sync.Mutex
	views map[string]*mounted
}

// NewRegistry creates a registry whose controllers fetch through fetcher and
// are mounted under ctx. opts are applied to every controller.
func NewRegistry(ctx context.Context, fetcher directory.Fetcher, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		ctx:     ctx,
		fetcher: fetcher,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		views:   make(map[string]*mounted),
	}
}

// Mount returns the controller for sessionID, creating it on first use. For
// an existing controller the identity is forwarded through SetIdentity.
func (r *Registry) Mount(sessionID string, identity *Identity) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.views[sessionID]; ok {
		m.lastSeen = r.now()
		m.ctrl.SetIdentity(identity)
		return m.ctrl
	}

	opts := append([]Option{WithLogger(r.logger.With(zap.String("view", sessionID)))}, r.opts...)
	ctrl := New(r.ctx, r.fetcher, identity, opts...)
	r.views[sessionID] = &mounted{ctrl: ctrl, lastSeen: r.now()}
	r.logger.Debug("view mounted", zap.String("view", sessionID), zap.Int("mounted", len(r.views)))
	return ctrl
}

// Lookup returns the controller for sessionID without creating one.
func (r *Registry) Lookup(sessionID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.views[sessionID]
	if !ok {
		return nil, false
	}
	m.lastSeen = r.now()
	return m.ctrl, true
}

// Unmount closes and forgets the controller for sessionID.
func (r *Registry) Unmount(sessionID string) {
	r.mu.Lock()
	m, ok := r.views[sessionID]
	delete(r.views, sessionID)
	r.mu.Unlock()

	if ok {
		m.ctrl.Close()
		r.logger.Debug("view unmounted", zap.String("view", sessionID))
	}
}

// Sweep unmounts controllers that have not been touched for maxIdle and
// returns how many were removed.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	var stale []*Controller
	for id, m := range r.views {
		if m.lastSeen.Before(cutoff) {
			stale = append(stale, m.ctrl)
			delete(r.views, id)
		}
	}
	r.mu.Unlock()

	for _, ctrl := range stale {
		ctrl.Close()
	}
	if len(stale) > 0 {
		r.logger.Info("swept idle views", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// Run sweeps idle controllers every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(maxIdle)
		}
	}
}

// Len reports how many views are mounted.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

// Close unmounts every controller.
func (r *Registry) Close() {
	r.mu.Lock()
	views := r.views
	r.views = make(map[string]*mounted)
	r.mu.Unlock()

	for _, m := range views {
		m.ctrl.Close()
	}
}
