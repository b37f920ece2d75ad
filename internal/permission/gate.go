// Package permission decides which runtime permissions a session needs and
// drives the host's grant flow.
package permission

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Host is the operating system side of the grant flow.
//
// Request must deliver asynchronously and at most once; Gate enforces the
// at-most-once half regardless of the host.
type Host interface {
	Granted(id string) bool
	Request(ids []string, deliver func(grants map[string]bool))
}

// Result is the per-permission outcome of one request.
type Result struct {
	Grants map[string]bool
}

func (r Result) AllGranted() bool {
	for _, ok := range r.Grants {
		if !ok {
			return false
		}
	}
	return true
}

// Denied lists the permissions the host refused, sorted.
func (r Result) Denied() []string {
	out := make([]string, 0)
	for id, ok := range r.Grants {
		if !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

type Gate struct {
	manifest Manifest
	host     Host
}

func NewGate(manifest Manifest, host Host) *Gate {
	if manifest == nil {
		manifest = StaticManifest(nil)
	}
	return &Gate{manifest: manifest, host: host}
}

// RequiredPermissions reads the declared set. An unreadable manifest means no
// extra permissions are needed.
func (g *Gate) RequiredPermissions() []string {
	ids, err := g.manifest.Permissions()
	if err != nil {
		log.Warn().Err(err).Msg("permission manifest unreadable, assuming none required")
		return []string{}
	}
	return ids
}

func (g *Gate) AllGranted(ids []string) bool {
	for _, id := range ids {
		if !g.granted(id) {
			return false
		}
	}
	return true
}

// RequestMissing issues one batched request for every ungranted id and calls
// onResult at most once with the host's answer. It reports whether a request
// was issued; when everything is already granted onResult is never called.
func (g *Gate) RequestMissing(ids []string, onResult func(Result)) bool {
	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if !g.granted(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return false
	}

	var once sync.Once
	log.Info().Strs("permissions", missing).Msg("requesting runtime permissions")
	g.host.Request(missing, func(grants map[string]bool) {
		once.Do(func() {
			res := Result{Grants: make(map[string]bool, len(missing))}
			for _, id := range missing {
				res.Grants[id] = grants[id]
			}
			if onResult != nil {
				onResult(res)
			}
		})
	})
	return true
}

func (g *Gate) granted(id string) bool {
	if g.host != nil && g.host.Granted(id) {
		log.Debug().Str("permission", id).Msg("permission granted")
		return true
	}
	log.Debug().Str("permission", id).Msg("permission NOT granted")
	return false
}
