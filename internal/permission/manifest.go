package permission

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var ErrManifestUnreadable = errors.New("permission: manifest unreadable")

// Manifest declares the permissions a session needs before the camera may exist.
type Manifest interface {
	Permissions() ([]string, error)
}

// StaticManifest is a manifest fixed at build time.
type StaticManifest []string

func (m StaticManifest) Permissions() ([]string, error) {
	return normalize(m), nil
}

// FileManifest reads declared permissions from disk. The format follows the file
// extension: .toml and .yaml/.yml hold a top-level permissions list, .xml is an
// Android package manifest with uses-permission entries.
type FileManifest struct {
	Path string
}

type listManifest struct {
	Permissions []string `toml:"permissions" yaml:"permissions"`
}

type androidManifest struct {
	XMLName         xml.Name `xml:"manifest"`
	UsesPermissions []struct {
		Name string `xml:"name,attr"`
	} `xml:"uses-permission"`
}

func (m FileManifest) Permissions() ([]string, error) {
	path := strings.TrimSpace(m.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: missing path", ErrManifestUnreadable)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestUnreadable, err)
	}

	var ids []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var raw listManifest
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrManifestUnreadable, path, err)
		}
		ids = raw.Permissions
	case ".yaml", ".yml":
		var raw listManifest
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrManifestUnreadable, path, err)
		}
		ids = raw.Permissions
	case ".xml":
		var raw androidManifest
		if err := xml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrManifestUnreadable, path, err)
		}
		for _, p := range raw.UsesPermissions {
			ids = append(ids, p.Name)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported manifest type %q", ErrManifestUnreadable, filepath.Ext(path))
	}
	return normalize(ids), nil
}

// normalize trims, dedupes and sorts permission ids.
func normalize(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
