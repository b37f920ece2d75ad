package camera

import (
	"fmt"
	"sort"
	"strings"
)

// Registry stores camera backends by stable identifier.
type Registry struct {
	items map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Factory)}
}

// Register adds a backend. Ids are lowercase with '.', '-' or '_' separators.
func (r *Registry) Register(id string, f Factory) error {
	id = strings.TrimSpace(id)
	if f == nil {
		return fmt.Errorf("%w: nil factory for %q", ErrInvalidBackendEntry, id)
	}
	if !isValidID(id) {
		return fmt.Errorf("%w: invalid id format %q", ErrInvalidBackendEntry, id)
	}
	if _, ok := r.items[id]; ok {
		return fmt.Errorf("%w: %s", ErrBackendExists, id)
	}
	r.items[id] = f
	return nil
}

func (r *Registry) Resolve(id string) (Factory, error) {
	f, ok := r.items[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}
	return f, nil
}

// IDs returns registered backend ids in sorted order.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.items))
	for id := range r.items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func isValidID(id string) bool {
	if id == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(id)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
