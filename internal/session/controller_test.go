package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/scangate/internal/barcode"
	"github.com/danmuck/scangate/internal/camera"
	"github.com/danmuck/scangate/internal/camera/sim"
	"github.com/danmuck/scangate/internal/permission"
	"github.com/danmuck/scangate/internal/testutil/testlog"
)

const cameraPermission = "android.permission.CAMERA"

type fakeGate struct {
	mu       sync.Mutex
	required []string
	granted  map[string]bool
	requests int
	pending  func(permission.Result)
}

func newFakeGate(granted bool, required ...string) *fakeGate {
	g := &fakeGate{required: required, granted: make(map[string]bool)}
	if granted {
		for _, id := range required {
			g.granted[id] = true
		}
	}
	return g
}

func (g *fakeGate) RequiredPermissions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string{}, g.required...)
}

func (g *fakeGate) AllGranted(ids []string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		if !g.granted[id] {
			return false
		}
	}
	return true
}

func (g *fakeGate) RequestMissing(ids []string, onResult func(permission.Result)) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests++
	g.pending = onResult
	return true
}

// answer resolves the outstanding request, if any.
func (g *fakeGate) answer(ok bool) bool {
	g.mu.Lock()
	deliver := g.pending
	g.pending = nil
	grants := make(map[string]bool, len(g.required))
	for _, id := range g.required {
		if ok {
			g.granted[id] = true
		}
		grants[id] = ok
	}
	g.mu.Unlock()
	if deliver == nil {
		return false
	}
	deliver(permission.Result{Grants: grants})
	return true
}

func (g *fakeGate) revoke() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.granted = make(map[string]bool)
}

func (g *fakeGate) requestCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests
}

type fakeResource struct {
	f        *fakeFactory
	onResult camera.ResultFunc
	flash    bool
	released bool
}

func (r *fakeResource) Start(ctx context.Context, overlay camera.Overlay) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.starts++
	if r.released {
		return camera.ErrReleased
	}
	if r.f.failStarts > 0 {
		r.f.failStarts--
		return camera.ErrStartFailed
	}
	return nil
}

func (r *fakeResource) Stop() {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.stops++
}

func (r *fakeResource) Release() {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.released {
		r.f.doubleReleases++
		return
	}
	r.released = true
	r.f.releases++
	r.f.live--
}

func (r *fakeResource) Flash() bool {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return r.flash
}

func (r *fakeResource) SetFlash(on bool) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.flash = on
}

type fakeFactory struct {
	mu             sync.Mutex
	creates        int
	starts         int
	stops          int
	releases       int
	doubleReleases int
	live           int
	failStarts     int
	filters        []barcode.Format
	resources      []*fakeResource
}

func (f *fakeFactory) Create(filter barcode.Format, onResult camera.ResultFunc) (camera.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.live++
	f.filters = append(f.filters, filter)
	r := &fakeResource{f: f, onResult: onResult}
	f.resources = append(f.resources, r)
	return r, nil
}

type counts struct {
	creates, starts, stops, releases, live int
}

func (f *fakeFactory) counts() counts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return counts{f.creates, f.starts, f.stops, f.releases, f.live}
}

func (f *fakeFactory) resource(i int) *fakeResource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resources[i]
}

type harness struct {
	c      *Controller
	cancel context.CancelFunc
	errCh  chan error
}

func start(t *testing.T, gate PermissionGate, factory camera.Factory, cfg Config, hooks Hooks) *harness {
	t.Helper()
	c := New(cfg, gate, factory, nil, hooks)
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{c: c, cancel: cancel, errCh: make(chan error, 1)}
	go func() { h.errCh <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return h
}

func (h *harness) settle(t *testing.T) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.c.Settle(ctx); err != nil {
		t.Fatalf("settle: %v", err)
	}
	return h.c.Snapshot()
}

func (h *harness) outcome(t *testing.T) Outcome {
	t.Helper()
	select {
	case o := <-h.c.Outcome():
		return o
	case <-time.After(2 * time.Second):
		t.Fatalf("no outcome delivered")
	}
	return Outcome{}
}

func TestNewStartsAwaitingPermission(t *testing.T) {
	testlog.Start(t)

	c := New(Config{}, newFakeGate(true), &fakeFactory{}, nil, Hooks{})
	snap := c.Snapshot()
	if snap.State != AwaitingPermission {
		t.Fatalf("expected awaiting_permission, got %s", snap.State)
	}
	if snap.SessionID == "" {
		t.Fatalf("expected generated session id")
	}
	if snap.Formats != barcode.AllFormats.String() {
		t.Fatalf("expected all formats, got %q", snap.Formats)
	}
}

func TestRunTwiceFails(t *testing.T) {
	testlog.Start(t)

	h := start(t, newFakeGate(true), &fakeFactory{}, DefaultConfig(), Hooks{})
	h.settle(t)
	if err := h.c.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestAllGrantedSkipsRequest(t *testing.T) {
	testlog.Start(t)

	gate := newFakeGate(true, cameraPermission)
	factory := &fakeFactory{}
	h := start(t, gate, factory, DefaultConfig(), Hooks{})

	h.c.OnVisible()
	snap := h.settle(t)
	if snap.State != Running {
		t.Fatalf("expected running, got %s", snap.State)
	}
	if snap.Grant != Granted {
		t.Fatalf("expected granted, got %s", snap.Grant)
	}
	if n := gate.requestCount(); n != 0 {
		t.Fatalf("expected no permission request, got %d", n)
	}
}

func TestEmptyManifestProceedsToGranted(t *testing.T) {
	testlog.Start(t)

	gate := newFakeGate(false)
	factory := &fakeFactory{}
	h := start(t, gate, factory, DefaultConfig(), Hooks{})

	h.c.OnVisible()
	if snap := h.settle(t); snap.State != Running {
		t.Fatalf("expected running with empty requirement set, got %s", snap.State)
	}
	if n := gate.requestCount(); n != 0 {
		t.Fatalf("expected no permission request, got %d", n)
	}
}

func TestRequestThenGrantStartsOnce(t *testing.T) {
	testlog.Start(t)

	gate := newFakeGate(false, cameraPermission)
	factory := &fakeFactory{}
	h := start(t, gate, factory, DefaultConfig(), Hooks{})

	h.c.OnVisible()
	snap := h.settle(t)
	if snap.State != PermissionPending || !snap.RequestOutstanding {
		t.Fatalf("expected pending with outstanding request, got %+v", snap)
	}
	if snap.ResourcePresent {
		t.Fatalf("resource created before grant")
	}

	if !gate.answer(true) {
		t.Fatalf("expected an outstanding request")
	}
	snap = h.settle(t)
	if snap.State != Running {
		t.Fatalf("expected running, got %s", snap.State)
	}
	got := factory.counts()
	if got.creates != 1 || got.starts != 1 {
		t.Fatalf("expected one create and one start, got %+v", got)
	}
	if gate.requestCount() != 1 {
		t.Fatalf("expected one request, got %d", gate.requestCount())
	}
}

func TestGrantWhileHiddenWaitsForVisible(t *testing.T) {
	testlog.Start(t)

	gate := newFakeGate(false, cameraPermission)
	factory := &fakeFactory{}
	h := start(t, gate, factory, DefaultConfig(), Hooks{})

	h.c.OnVisible()
	h.c.OnHidden()
	h.settle(t)
	gate.answer(true)
	snap := h.settle(t)
	if snap.State != Ready || snap.ResourcePresent {
		t.Fatalf("expected ready without resource while hidden, got %+v", snap)
	}

	h.c.OnVisible()
	if snap = h.settle(t); snap.State != Running {
		t.Fatalf("expected running after visible, got %s", snap.State)
	}
	if got := factory.counts(); got.creates != 1 {
		t.Fatalf("expected one create, got %+v", got)
	}
}

func TestVisibleHiddenVisibleReusesHandle(t *testing.T) {
	testlog.Start(t)

	dev := sim.NewDevice()
	h := start(t, newFakeGate(true, cameraPermission), dev, DefaultConfig(), Hooks{})

	h.c.OnVisible()
	h.c.OnHidden()
	snap := h.settle(t)
	if snap.State != Paused || !snap.ResourcePresent {
		t.Fatalf("expected paused with handle retained, got %+v", snap)
	}
	if dev.Streaming() {
		t.Fatalf("hardware still held while paused")
	}

	h.c.OnVisible()
	if snap = h.settle(t); snap.State != Running {
		t.Fatalf("expected running, got %s", snap.State)
	}
	stats := dev.Stats()
	if stats.Creates != 1 || stats.Starts != 2 || stats.Stops != 1 || stats.Releases != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestStartFailureReleasesAndRetriesOnVisible(t *testing.T) {
	testlog.Start(t)

	dev := sim.NewDevice()
	dev.FailNextStarts(1)
	var (
		mu          sync.Mutex
		transitions []State
	)
	hooks := Hooks{OnStateChange: func(from, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	}}
	h := start(t, newFakeGate(true, cameraPermission), dev, DefaultConfig(), hooks)

	h.c.OnVisible()
	snap := h.settle(t)
	if snap.State != Ready || snap.ResourcePresent {
		t.Fatalf("expected ready without resource after failed start, got %+v", snap)
	}
	stats := dev.Stats()
	if stats.Creates != 1 || stats.StartFailures != 1 || stats.Releases != 1 {
		t.Fatalf("unexpected stats after failure %+v", stats)
	}
	mu.Lock()
	sawReleased := false
	for _, s := range transitions {
		if s == Released {
			sawReleased = true
		}
	}
	mu.Unlock()
	if !sawReleased {
		t.Fatalf("expected a pass through released")
	}

	h.c.OnVisible()
	if snap = h.settle(t); snap.State != Running {
		t.Fatalf("expected running after retry, got %s", snap.State)
	}
	if got := dev.Stats().Creates; got != 2 {
		t.Fatalf("expected exactly one additional create, got %d total", got)
	}
}

func TestStartTimeoutCountsAsFailure(t *testing.T) {
	testlog.Start(t)

	dev := sim.NewDevice()
	dev.SetStartDelay(time.Second)
	cfg := DefaultConfig()
	cfg.StartTimeout = 20 * time.Millisecond
	h := start(t, newFakeGate(true, cameraPermission), dev, cfg, Hooks{})

	h.c.OnVisible()
	snap := h.settle(t)
	if snap.State != Ready || snap.ResourcePresent {
		t.Fatalf("expected ready after timed out start, got %+v", snap)
	}
	if got := dev.Stats().Releases; got != 1 {
		t.Fatalf("expected failed handle released, got %d", got)
	}
}

func TestDestroyedReleasesAtMostOnce(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name     string
		granted  bool
		events   func(c *Controller)
		releases int
	}{
		{name: "awaiting", granted: true, events: func(c *Controller) {}, releases: 0},
		{name: "pending", granted: false, events: func(c *Controller) { c.OnVisible() }, releases: 0},
		{name: "running", granted: true, events: func(c *Controller) { c.OnVisible() }, releases: 1},
		{name: "paused", granted: true, events: func(c *Controller) { c.OnVisible(); c.OnHidden() }, releases: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gate := newFakeGate(tc.granted, cameraPermission)
			factory := &fakeFactory{}
			h := start(t, gate, factory, DefaultConfig(), Hooks{})

			tc.events(h.c)
			h.settle(t)
			h.c.OnDestroyed()
			h.c.OnDestroyed()

			o := h.outcome(t)
			if o.Scanned {
				t.Fatalf("expected no-result outcome, got %+v", o)
			}
			select {
			case err := <-h.errCh:
				if err != nil {
					t.Fatalf("run: %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("run did not return after destroyed")
			}
			if got := factory.counts(); got.releases != tc.releases || got.live != 0 {
				t.Fatalf("expected %d releases and nothing live, got %+v", tc.releases, got)
			}
			if factory.doubleReleases != 0 {
				t.Fatalf("resource released twice")
			}
			if _, err := h.c.ToggleFlash(); !errors.Is(err, ErrUnsupported) {
				t.Fatalf("expected ErrUnsupported after destroyed, got %v", err)
			}
			if err := h.c.SetFlash(true); !errors.Is(err, ErrEnded) {
				t.Fatalf("expected ErrEnded after destroyed, got %v", err)
			}
			if snap := h.c.Snapshot(); snap.State != Ended || snap.Visibility != Destroyed {
				t.Fatalf("expected ended/destroyed, got %+v", snap)
			}
		})
	}
}

func TestPermissionResultAfterDestroyedIsDiscarded(t *testing.T) {
	testlog.Start(t)

	gate := newFakeGate(false, cameraPermission)
	factory := &fakeFactory{}
	h := start(t, gate, factory, DefaultConfig(), Hooks{})

	h.c.OnVisible()
	h.settle(t)
	h.c.OnDestroyed()
	h.outcome(t)
	gate.answer(true)
	h.settle(t)

	if got := factory.counts(); got.creates != 0 {
		t.Fatalf("resource created after destroyed: %+v", got)
	}
}

func TestDoubleResultSingleOutcome(t *testing.T) {
	testlog.Start(t)

	factory := &fakeFactory{}
	h := start(t, newFakeGate(true, cameraPermission), factory, DefaultConfig(), Hooks{})

	h.c.OnVisible()
	h.settle(t)
	h.c.OnScanResult("first")
	h.c.OnScanResult("second")

	o := h.outcome(t)
	if !o.Scanned || o.Value != "first" {
		t.Fatalf("expected first value, got %+v", o)
	}
	if _, ok := <-h.c.Outcome(); ok {
		t.Fatalf("expected outcome channel closed after one value")
	}
	snap := h.c.Snapshot()
	if snap.State != Ended || !snap.ResultEmitted || snap.ResourcePresent {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if got := factory.counts(); got.releases != 1 {
		t.Fatalf("expected one release, got %+v", got)
	}
	if res, ok := h.c.Result(); !ok || res.Value != "first" {
		t.Fatalf("expected stored result, got %+v %v", res, ok)
	}
}

func TestDetectionThroughDeviceEndsSession(t *testing.T) {
	testlog.Start(t)

	dev := sim.NewDevice()
	cfg := DefaultConfig()
	cfg.Formats = barcode.QRCode
	h := start(t, newFakeGate(true, cameraPermission), dev, cfg, Hooks{})

	h.c.OnVisible()
	h.settle(t)
	if dev.Detect("ignored", barcode.EAN13) {
		t.Fatalf("filter should reject ean_13")
	}
	if !dev.Detect("https://example.test", barcode.QRCode) {
		t.Fatalf("expected qr detection delivered")
	}
	if o := h.outcome(t); o.Value != "https://example.test" {
		t.Fatalf("unexpected outcome %+v", o)
	}
	if dev.Streaming() {
		t.Fatalf("hardware still held after result")
	}
}

func TestStaleResourceResultDropped(t *testing.T) {
	testlog.Start(t)

	factory := &fakeFactory{failStarts: 1}
	h := start(t, newFakeGate(true, cameraPermission), factory, DefaultConfig(), Hooks{})

	h.c.OnVisible()
	h.settle(t)
	stale := factory.resource(0)
	stale.onResult("late")
	if snap := h.settle(t); snap.State == Ended {
		t.Fatalf("result from released resource ended the session")
	}

	h.c.OnVisible()
	h.settle(t)
	factory.resource(1).onResult("fresh")
	if o := h.outcome(t); o.Value != "fresh" {
		t.Fatalf("unexpected outcome %+v", o)
	}
}

func TestDenialWaitsForFreshVisible(t *testing.T) {
	testlog.Start(t)

	gate := newFakeGate(false, cameraPermission)
	denied := make(chan []string, 1)
	hooks := Hooks{OnPermissionDenied: func(ids []string) { denied <- ids }}
	h := start(t, gate, &fakeFactory{}, DefaultConfig(), hooks)

	h.c.OnVisible()
	h.settle(t)
	gate.answer(false)
	snap := h.settle(t)
	if snap.State != AwaitingPermission || snap.Grant != Denied {
		t.Fatalf("expected awaiting/denied, got %+v", snap)
	}
	select {
	case ids := <-denied:
		if len(ids) != 1 || ids[0] != cameraPermission {
			t.Fatalf("unexpected denied set %v", ids)
		}
	default:
		t.Fatalf("denial not surfaced to host")
	}
	if n := gate.requestCount(); n != 1 {
		t.Fatalf("expected no automatic retry, got %d requests", n)
	}

	h.c.OnHidden()
	h.c.OnVisible()
	h.settle(t)
	if n := gate.requestCount(); n != 2 {
		t.Fatalf("expected a new request on fresh visible, got %d", n)
	}
}

func TestSingleOutstandingRequest(t *testing.T) {
	testlog.Start(t)

	gate := newFakeGate(false, cameraPermission)
	h := start(t, gate, &fakeFactory{}, DefaultConfig(), Hooks{})

	h.c.OnVisible()
	h.c.OnHidden()
	h.c.OnVisible()
	h.c.OnVisible()
	h.settle(t)
	if n := gate.requestCount(); n != 1 {
		t.Fatalf("expected one outstanding request, got %d", n)
	}
}

func TestGrantOutsideDialogKeepsRequestOutstanding(t *testing.T) {
	testlog.Start(t)

	gate := newFakeGate(false, cameraPermission)
	factory := &fakeFactory{}
	h := start(t, gate, factory, DefaultConfig(), Hooks{})

	h.c.OnVisible()
	h.settle(t)
	gate.mu.Lock()
	gate.granted[cameraPermission] = true
	gate.mu.Unlock()

	h.c.OnVisible()
	snap := h.settle(t)
	if snap.State != Running || !snap.RequestOutstanding {
		t.Fatalf("expected running with the dialog still open, got %+v", snap)
	}

	// A revoke and revisit while the dialog is open must not ask again.
	h.c.OnHidden()
	h.settle(t)
	gate.revoke()
	h.c.OnVisible()
	if snap = h.settle(t); snap.State != PermissionPending {
		t.Fatalf("expected pending after revoke, got %s", snap.State)
	}
	if n := gate.requestCount(); n != 1 {
		t.Fatalf("expected the open dialog reused, got %d requests", n)
	}

	if !gate.answer(true) {
		t.Fatalf("expected the original dialog to still be open")
	}
	snap = h.settle(t)
	if snap.RequestOutstanding || snap.State != Running {
		t.Fatalf("expected dialog answer to clear the flag and start, got %+v", snap)
	}
	if got := factory.counts(); got.creates != 2 || got.live != 1 {
		t.Fatalf("unexpected resource counts %+v", got)
	}
}

func TestRevokedWhileHiddenReleasesResource(t *testing.T) {
	testlog.Start(t)

	gate := newFakeGate(true, cameraPermission)
	factory := &fakeFactory{}
	h := start(t, gate, factory, DefaultConfig(), Hooks{})

	h.c.OnVisible()
	h.c.OnHidden()
	h.settle(t)
	gate.revoke()
	h.c.OnVisible()
	snap := h.settle(t)
	if snap.State != PermissionPending || snap.ResourcePresent {
		t.Fatalf("expected pending without resource after revoke, got %+v", snap)
	}
	if got := factory.counts(); got.releases != 1 || got.live != 0 {
		t.Fatalf("expected paused handle released, got %+v", got)
	}
}

func TestFlashControls(t *testing.T) {
	testlog.Start(t)

	uis := make(chan FlashUI, 16)
	hooks := Hooks{OnFlashUI: func(ui FlashUI) { uis <- ui }}
	h := start(t, newFakeGate(true, cameraPermission), &fakeFactory{}, DefaultConfig(), hooks)

	if _, err := h.c.ToggleFlash(); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported without resource, got %v", err)
	}
	if ui := h.c.FlashUI(); ui.Available {
		t.Fatalf("flash available without resource")
	}

	h.c.OnVisible()
	h.settle(t)
	on, err := h.c.ToggleFlash()
	if err != nil || !on {
		t.Fatalf("toggle: on=%v err=%v", on, err)
	}
	ui := h.c.FlashUI()
	if !ui.Available || !ui.On || ui.Label != "Turn flashlight off" {
		t.Fatalf("unexpected flash ui %+v", ui)
	}
	if err := h.c.SetFlash(false); err != nil {
		t.Fatalf("set flash: %v", err)
	}
	if on, _ := h.c.Flash(); on {
		t.Fatalf("expected flash off")
	}

	var last FlashUI
	for len(uis) > 0 {
		last = <-uis
	}
	if !last.Available || last.On || last.Label != "Turn flashlight on" {
		t.Fatalf("unexpected last published ui %+v", last)
	}

	h.c.OnScanResult("done")
	h.outcome(t)
	h.settle(t)
	for len(uis) > 0 {
		last = <-uis
	}
	if last.Available {
		t.Fatalf("flash still advertised after release")
	}
}

func TestFlashRejectedDuringStart(t *testing.T) {
	testlog.Start(t)

	dev := sim.NewDevice()
	dev.SetStartDelay(300 * time.Millisecond)
	starting := make(chan struct{}, 1)
	hooks := Hooks{OnStateChange: func(from, to State) {
		if to == Starting {
			select {
			case starting <- struct{}{}:
			default:
			}
		}
	}}
	h := start(t, newFakeGate(true, cameraPermission), dev, DefaultConfig(), hooks)

	h.c.OnVisible()
	select {
	case <-starting:
	case <-time.After(2 * time.Second):
		t.Fatalf("never reached starting")
	}
	if _, err := h.c.ToggleFlash(); !errors.Is(err, ErrTransitionInProgress) {
		t.Fatalf("expected ErrTransitionInProgress, got %v", err)
	}
	if snap := h.c.Snapshot(); snap.FlashOn {
		t.Fatalf("rejected toggle changed flash")
	}

	if snap := h.settle(t); snap.State != Running {
		t.Fatalf("expected running, got %s", snap.State)
	}
	if _, err := h.c.ToggleFlash(); err != nil {
		t.Fatalf("toggle after start: %v", err)
	}
}

func TestFlashWaitsOutShortTransitions(t *testing.T) {
	testlog.Start(t)

	h := start(t, newFakeGate(true, cameraPermission), &fakeFactory{}, DefaultConfig(), Hooks{})
	h.c.OnVisible()
	h.settle(t)

	// Holding mu stands in for a barrier or a no-op apply.
	h.c.mu.Lock()
	type result struct {
		on  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		on, err := h.c.ToggleFlash()
		done <- result{on, err}
	}()
	time.Sleep(20 * time.Millisecond)
	h.c.mu.Unlock()

	select {
	case r := <-done:
		if r.err != nil || !r.on {
			t.Fatalf("expected toggle to succeed after the apply, got on=%v err=%v", r.on, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("toggle never returned")
	}
}

func TestFlashRejectedWhenStartOverlapsWait(t *testing.T) {
	testlog.Start(t)

	factory := &fakeFactory{}
	h := start(t, newFakeGate(true, cameraPermission), factory, DefaultConfig(), Hooks{})
	h.c.OnVisible()
	h.settle(t)
	h.c.OnHidden()
	h.settle(t)

	h.c.mu.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := h.c.ToggleFlash()
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	// A restart while the toggle waits on mu.
	h.c.startResource()
	h.c.mu.Unlock()

	select {
	case err := <-done:
		if !errors.Is(err, ErrTransitionInProgress) {
			t.Fatalf("expected ErrTransitionInProgress, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("toggle never returned")
	}
	if snap := h.settle(t); snap.State != Running || snap.FlashOn {
		t.Fatalf("expected running with flash untouched, got %+v", snap)
	}
}

func TestContextCancelEndsWithoutResult(t *testing.T) {
	testlog.Start(t)

	factory := &fakeFactory{}
	h := start(t, newFakeGate(true, cameraPermission), factory, DefaultConfig(), Hooks{})

	h.c.OnVisible()
	h.settle(t)
	h.cancel()

	select {
	case err := <-h.errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
	}
	if o := h.outcome(t); o.Scanned {
		t.Fatalf("expected no-result outcome, got %+v", o)
	}
	if got := factory.counts(); got.live != 0 {
		t.Fatalf("resource leaked: %+v", got)
	}
	if err := h.c.Settle(context.Background()); err != nil {
		t.Fatalf("settle after run: %v", err)
	}
}

func TestInterleavingsKeepResourceInvariant(t *testing.T) {
	testlog.Start(t)

	for seed := int64(1); seed <= 40; seed++ {
		rng := rand.New(rand.NewSource(seed))
		gate := newFakeGate(rng.Intn(2) == 0, cameraPermission)
		factory := &fakeFactory{failStarts: rng.Intn(2)}

		var (
			c          *Controller
			violations []string
			vmu        sync.Mutex
		)
		check := func(from, to State) {
			// Runs under c.mu, so the controller fields are stable.
			vmu.Lock()
			defer vmu.Unlock()
			if c.resource != nil && (c.grant != Granted || c.resultEmitted) {
				violations = append(violations, from.String()+"->"+to.String()+": resource without grant")
			}
			if to == Running && c.visibility != Visible {
				violations = append(violations, "running while not visible")
			}
			if factory.counts().live > 1 {
				violations = append(violations, "more than one live resource")
			}
		}
		c = New(DefaultConfig(), gate, factory, nil, Hooks{OnStateChange: check})
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- c.Run(ctx) }()

		for i := 0; i < 60; i++ {
			switch rng.Intn(7) {
			case 0, 1:
				c.OnVisible()
			case 2, 3:
				c.OnHidden()
			case 4:
				gate.answer(rng.Intn(3) != 0)
			case 5:
				if rng.Intn(4) == 0 {
					gate.revoke()
				}
			case 6:
				if rng.Intn(10) == 0 {
					c.OnScanResult("value")
				}
			}
			if rng.Intn(5) == 0 {
				sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
				_ = c.Settle(sctx)
				scancel()
				snap := c.Snapshot()
				if snap.ResourcePresent && (snap.Grant != Granted || snap.ResultEmitted) {
					t.Fatalf("seed %d: snapshot violates invariant %+v", seed, snap)
				}
			}
		}
		c.OnDestroyed()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("seed %d: run did not finish", seed)
		}
		cancel()

		vmu.Lock()
		if len(violations) > 0 {
			t.Fatalf("seed %d: %v", seed, violations)
		}
		vmu.Unlock()
		if got := factory.counts(); got.live != 0 || factory.doubleReleases != 0 {
			t.Fatalf("seed %d: resource accounting %+v double=%d", seed, got, factory.doubleReleases)
		}
	}
}
