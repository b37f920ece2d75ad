package permission

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrNoPendingRequest = errors.New("permission: no pending request")
	ErrInvalidPolicy    = errors.New("permission: invalid policy")
)

// Policy is how MemoryHost answers a request.
type Policy string

const (
	PolicyGrant  Policy = "grant"
	PolicyDeny   Policy = "deny"
	PolicyPrompt Policy = "prompt"
)

func ParsePolicy(raw string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(raw))); p {
	case PolicyGrant, PolicyDeny, PolicyPrompt:
		return p, nil
	case "":
		return PolicyPrompt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, raw)
	}
}

// MemoryHost is an in-process grant table. In prompt mode a request stays
// parked until Answer is called, the way a dialog waits on the user.
type MemoryHost struct {
	mu       sync.Mutex
	policy   Policy
	grants   map[string]bool
	pending  *pendingRequest
	requests int
}

type pendingRequest struct {
	ids     []string
	deliver func(map[string]bool)
}

func NewMemoryHost(policy Policy, granted ...string) *MemoryHost {
	h := &MemoryHost{policy: policy, grants: make(map[string]bool)}
	for _, id := range granted {
		h.grants[strings.TrimSpace(id)] = true
	}
	return h
}

func (h *MemoryHost) Granted(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.grants[id]
}

func (h *MemoryHost) Request(ids []string, deliver func(map[string]bool)) {
	h.mu.Lock()
	h.requests++
	policy := h.policy
	if policy == PolicyPrompt {
		h.pending = &pendingRequest{ids: append([]string(nil), ids...), deliver: deliver}
		h.mu.Unlock()
		return
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		ok := policy == PolicyGrant
		if ok {
			h.grants[id] = true
		}
		out[id] = ok
	}
	h.mu.Unlock()
	go deliver(out)
}

// Answer resolves the parked request. Ids missing from grants count as denied.
func (h *MemoryHost) Answer(grants map[string]bool) error {
	h.mu.Lock()
	req := h.pending
	if req == nil {
		h.mu.Unlock()
		return ErrNoPendingRequest
	}
	h.pending = nil
	out := make(map[string]bool, len(req.ids))
	for _, id := range req.ids {
		ok := grants[id]
		if ok {
			h.grants[id] = true
		}
		out[id] = ok
	}
	h.mu.Unlock()

	req.deliver(out)
	return nil
}

func (h *MemoryHost) Grant(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.grants[id] = true
}

func (h *MemoryHost) Revoke(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.grants, id)
}

// Pending lists the ids of the parked request, if any.
func (h *MemoryHost) Pending() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == nil {
		return nil
	}
	return append([]string(nil), h.pending.ids...)
}

func (h *MemoryHost) Requests() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests
}
