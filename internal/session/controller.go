package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/scangate/internal/barcode"
	"github.com/danmuck/scangate/internal/camera"
	"github.com/danmuck/scangate/internal/permission"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupported          = errors.New("session: flash unsupported without a camera resource")
	ErrTransitionInProgress = errors.New("session: transition in progress")
	ErrPermissionDenied     = errors.New("session: permission denied")
	ErrAlreadyRunning       = errors.New("session: controller already running")
	ErrEnded                = errors.New("session: ended")
)

// PermissionGate is the permission collaborator. permission.Gate satisfies it.
type PermissionGate interface {
	RequiredPermissions() []string
	AllGranted(ids []string) bool
	RequestMissing(ids []string, onResult func(permission.Result)) bool
}

// Config is fixed when the controller is built.
type Config struct {
	SessionID    string
	Formats      barcode.Format
	StartTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Formats:      barcode.AllFormats,
		StartTimeout: 5 * time.Second,
	}
}

// Hooks notify the host. They run on the controller goroutine and must not
// block.
type Hooks struct {
	OnStateChange      func(from, to State)
	OnPermissionDenied func(denied []string)
	OnFlashUI          func(FlashUI)
}

// Snapshot is a consistent view of the session after the last applied event.
// RequestOutstanding follows the host dialog, not State: a grant that lands
// outside the dialog moves the session on while the dialog stays open, and
// the flag clears only when that dialog answers.
type Snapshot struct {
	SessionID          string     `json:"session_id"`
	State              State      `json:"state"`
	Visibility         Visibility `json:"visibility"`
	Grant              Grant      `json:"grant"`
	Required           []string   `json:"required"`
	RequestOutstanding bool       `json:"request_outstanding"`
	ResourcePresent    bool       `json:"resource_present"`
	FlashOn            bool       `json:"flash_on"`
	ResultEmitted      bool       `json:"result_emitted"`
	Formats            string     `json:"formats"`
}

type eventKind int

const (
	eventVisible eventKind = iota
	eventHidden
	eventDestroyed
	eventPermission
	eventScan
	eventBarrier
)

type event struct {
	kind   eventKind
	grants map[string]bool
	value  string
	gen    uint64
	done   chan struct{}
}

// Controller is the session state machine.
type Controller struct {
	cfg     Config
	gate    PermissionGate
	factory camera.Factory
	overlay camera.Overlay
	sink    *ResultSink
	hooks   Hooks
	log     zerolog.Logger

	qmu      sync.Mutex
	queue    []event
	closed   bool
	wake     chan struct{}
	finished chan struct{}
	running  atomic.Bool

	// starting is set while a resource start is in flight; startSeq counts
	// starts so a flash call that waited on mu can tell one overlapped it.
	starting atomic.Bool
	startSeq atomic.Uint64

	// mu is held for the whole of every transition.
	mu                 sync.Mutex
	runCtx             context.Context
	state              State
	visibility         Visibility
	grant              Grant
	required           []string
	requestOutstanding bool
	resource           camera.Resource
	generation         uint64
	resultEmitted      bool

	snap atomic.Pointer[Snapshot]
}

// New builds a controller in AwaitingPermission. overlay may be nil.
func New(cfg Config, gate PermissionGate, factory camera.Factory, overlay camera.Overlay, hooks Hooks) *Controller {
	if strings.TrimSpace(cfg.SessionID) == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultConfig().StartTimeout
	}
	if overlay == nil {
		overlay = camera.NopOverlay{}
	}
	c := &Controller{
		cfg:      cfg,
		gate:     gate,
		factory:  factory,
		overlay:  overlay,
		sink:     NewResultSink(nil),
		hooks:    hooks,
		log:      log.With().Str("session_id", cfg.SessionID).Logger(),
		wake:     make(chan struct{}, 1),
		finished: make(chan struct{}),
		runCtx:   context.Background(),
		state:    AwaitingPermission,
	}
	c.publish()
	return c
}

func (c *Controller) ID() string {
	return c.cfg.SessionID
}

func (c *Controller) OnVisible() {
	c.enqueue(event{kind: eventVisible})
}

func (c *Controller) OnHidden() {
	c.enqueue(event{kind: eventHidden})
}

func (c *Controller) OnDestroyed() {
	c.enqueue(event{kind: eventDestroyed})
}

// OnPermissionResult feeds the host's answer to the outstanding request.
func (c *Controller) OnPermissionResult(grants map[string]bool) {
	copied := make(map[string]bool, len(grants))
	for k, v := range grants {
		copied[k] = v
	}
	c.enqueue(event{kind: eventPermission, grants: copied})
}

// OnScanResult ends the session with value. Only the first result counts.
func (c *Controller) OnScanResult(value string) {
	c.enqueue(event{kind: eventScan, value: value})
}

// Outcome yields the terminal outcome once.
func (c *Controller) Outcome() <-chan Outcome {
	return c.sink.Outcome()
}

// Result returns the terminal outcome if the session has ended.
func (c *Controller) Result() (Outcome, bool) {
	return c.sink.Result()
}

// Snapshot never blocks on a transition.
func (c *Controller) Snapshot() Snapshot {
	return *c.snap.Load()
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} {
	return c.finished
}

// Run applies queued events until the session ends or ctx is cancelled.
// Cancellation is handled as Destroyed.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.shutdown()

	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	for {
		for _, ev := range c.drain() {
			c.apply(ev)
		}
		if c.Snapshot().State == Ended {
			return nil
		}
		select {
		case <-ctx.Done():
			c.apply(event{kind: eventDestroyed})
			return ctx.Err()
		case <-c.wake:
		}
	}
}

// Settle waits until every event enqueued before the call has been applied.
func (c *Controller) Settle(ctx context.Context) error {
	done := make(chan struct{})
	if !c.enqueue(event{kind: eventBarrier, done: done}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-c.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) enqueue(ev event) bool {
	c.qmu.Lock()
	if c.closed {
		c.qmu.Unlock()
		return false
	}
	c.queue = append(c.queue, ev)
	c.qmu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *Controller) drain() []event {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

func (c *Controller) shutdown() {
	c.qmu.Lock()
	c.closed = true
	rest := c.queue
	c.queue = nil
	c.qmu.Unlock()

	for _, ev := range rest {
		if ev.done != nil {
			close(ev.done)
		}
	}
	close(c.finished)
}

func (c *Controller) apply(ev event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.kind {
	case eventVisible:
		c.handleVisible()
	case eventHidden:
		c.handleHidden()
	case eventDestroyed:
		c.handleDestroyed()
	case eventPermission:
		c.handlePermissionResult(ev.grants)
	case eventScan:
		c.handleScan(ev.value, ev.gen)
	case eventBarrier:
	}
	c.publish()
	if ev.done != nil {
		close(ev.done)
	}
}

// publish refreshes the lock-free snapshot. Caller holds mu, or is New.
func (c *Controller) publish() {
	snap := &Snapshot{
		SessionID:          c.cfg.SessionID,
		State:              c.state,
		Visibility:         c.visibility,
		Grant:              c.grant,
		Required:           append([]string(nil), c.required...),
		RequestOutstanding: c.requestOutstanding,
		ResourcePresent:    c.resource != nil,
		ResultEmitted:      c.resultEmitted,
		Formats:            c.cfg.Formats.String(),
	}
	if c.resource != nil {
		snap.FlashOn = c.resource.Flash()
	}
	c.snap.Store(snap)
}
