package viewstate

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tailscale-portfolio/directory-ui/internal/directory"
)

var (
	// ErrClosed is returned by operations on an unmounted controller.
	ErrClosed = errors.New("viewstate: controller closed")
	// ErrUnauthenticated is returned by Retry when no identity is present.
	ErrUnauthenticated = errors.New("viewstate: no authenticated identity")
)

// Status is the controller's position in the fetch state machine.
type Status int

const (
	StatusUnauthenticated Status = iota
	StatusIdle
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Identity is the authenticated principal the view is rendered for.
type Identity struct {
	Subject string `json:"subject"`
	Email   string `json:"email"`
}

// State is an immutable snapshot of the controller.
type State struct {
	Status       Status           `json:"status"`
	Users        []directory.User `json:"users,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	Identity     *Identity        `json:"identity,omitempty"`
	// Generation tags the request whose outcome this state reflects.
	Generation uint64 `json:"generation"`
}

func (s State) clone() State {
	out := s
	if s.Users != nil {
		out.Users = slices.Clone(s.Users)
	}
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	return out
}

// Observer receives every transition in order. It runs with the controller
// lock held and must not call back into the controller.
type Observer func(State)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithObserver registers fn for state transitions.
func WithObserver(fn Observer) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, fn)
	}
}

// WithFetchTimeout bounds each fetch. Zero means no bound beyond the mount context.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.fetchTimeout = d
	}
}

// Controller owns the fetch state machine for one mounted view.
//
// Every fetch is tagged with the generation current when it started. A result
// is applied only while its tag is still current, so the visible state always
// belongs to the most recently initiated request. Close advances the
// generation past every in-flight request.
type Controller struct {
	fetcher      directory.Fetcher
	logger       *zap.Logger
	observers    []Observer
	fetchTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	generation  uint64
	cancelFetch context.CancelFunc
	closed      bool
}

// New mounts a controller. A nil identity leaves it Unauthenticated and no
// fetch is issued; otherwise it enters Idle and immediately starts loading.
func New(ctx context.Context, fetcher directory.Fetcher, identity *Identity, opts ...Option) *Controller {
	c := &Controller{
		fetcher: fetcher,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = State{Status: StatusUnauthenticated}
	if identity != nil {
		c.enterIdleLocked(identity)
	}
	return c
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// SetIdentity feeds an authentication change into the state machine.
func (c *Controller) SetIdentity(identity *Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	current := c.state.Identity
	switch {
	case identity == nil && current == nil:
		return
	case identity == nil:
		c.logger.Debug("identity removed, clearing view", zap.String("subject", current.Subject))
		c.supersedeLocked()
		c.setLocked(State{Status: StatusUnauthenticated, Generation: c.generation})
	case current == nil || current.Subject != identity.Subject:
		c.enterIdleLocked(identity)
	default:
		id := *identity
		next := c.state
		next.Identity = &id
		c.setLocked(next)
	}
}

// Retry starts a new fetch. Any request still in flight is superseded.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state.Identity == nil {
		return ErrUnauthenticated
	}
	c.beginFetchLocked()
	return nil
}

// Close unmounts the controller: pending results are discarded, in-flight
// requests are canceled and Close waits for their goroutines to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.supersedeLocked()
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Controller) enterIdleLocked(identity *Identity) {
	id := *identity
	c.setLocked(State{Status: StatusIdle, Identity: &id, Generation: c.generation})
	c.beginFetchLocked()
}

// supersedeLocked invalidates any in-flight request.
func (c *Controller) supersedeLocked() {
	c.generation++
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
}

func (c *Controller) beginFetchLocked() {
	c.supersedeLocked()
	gen := c.generation

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.fetchTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, c.fetchTimeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	c.cancelFetch = cancel

	c.setLocked(State{
		Status:     StatusLoading,
		Users:      c.state.Users,
		Identity:   c.state.Identity,
		Generation: gen,
	})

	c.wg.Add(1)
	go c.fetch(ctx, cancel, gen)
}

func (c *Controller) fetch(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer c.wg.Done()
	defer cancel()

	start := time.Now()
	users, err := c.fetcher.FetchAllUsers(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.generation {
		c.logger.Debug("discarding stale fetch result",
			zap.Uint64("generation", gen),
			zap.Uint64("current", c.generation),
			zap.Bool("closed", c.closed),
		)
		return
	}
	c.cancelFetch = nil

	if err != nil {
		msg := directory.Message(err)
		c.logger.Warn("users fetch failed",
			zap.Uint64("generation", gen),
			zap.String("kind", string(directory.KindOf(err))),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		c.setLocked(State{
			Status:       StatusError,
			ErrorMessage: msg,
			Identity:     c.state.Identity,
			Generation:   gen,
		})
		return
	}

	if users == nil {
		users = []directory.User{}
	}
	c.logger.Debug("users fetched",
		zap.Uint64("generation", gen),
		zap.Int("count", len(users)),
		zap.Duration("elapsed", time.Since(start)),
	)
	c.setLocked(State{
		Status:     StatusSuccess,
		Users:      slices.Clone(users),
		Identity:   c.state.Identity,
		Generation: gen,
	})
}

func (c *Controller) setLocked(next State) {
	c.state = next
	for _, obs := range c.observers {
		obs(next.clone())
	}
}
