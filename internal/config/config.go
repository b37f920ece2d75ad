package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/scangate/internal/barcode"
	"github.com/danmuck/scangate/internal/permission"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the resolved runtime configuration for one scangate process.
type Config struct {
	SessionID        string
	Formats          barcode.Format
	StartTimeout     time.Duration
	Manifest         string
	CameraBackend    string
	CameraDevice     string
	PermissionPolicy permission.Policy
	Granted          []string
	ListenAddr       string
	CorsOrigins      []string
	ControlToken     string
}

func DefaultConfig() Config {
	return Config{
		Formats:          barcode.AllFormats,
		StartTimeout:     5 * time.Second,
		CameraBackend:    "sim",
		PermissionPolicy: permission.PolicyPrompt,
		Granted:          []string{},
		ListenAddr:       "127.0.0.1:9300",
		CorsOrigins:      []string{"http://localhost:3000"},
	}
}

// FileConfig is the on-disk TOML shape.
type FileConfig struct {
	SessionID        string   `toml:"session_id"`
	Formats          []string `toml:"formats"`
	StartTimeout     string   `toml:"start_timeout"`
	Manifest         string   `toml:"manifest"`
	CameraBackend    string   `toml:"camera_backend"`
	CameraDevice     string   `toml:"camera_device"`
	PermissionPolicy string   `toml:"permission_policy"`
	Granted          []string `toml:"granted"`
	ListenAddr       string   `toml:"listen_addr"`
	CorsOrigins      []string `toml:"cors_origins"`
	ControlToken     string   `toml:"control_token"`
}

// Load decodes path and applies every key it defines over DefaultConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw FileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load scangate config (%s): %w", path, err)
	}

	if meta.IsDefined("session_id") {
		cfg.SessionID = strings.TrimSpace(raw.SessionID)
	}

	if meta.IsDefined("formats") {
		formats, err := barcode.Parse(raw.Formats)
		if err != nil {
			return Config{}, fmt.Errorf("parse formats: %w", err)
		}
		cfg.Formats = formats
	}

	if meta.IsDefined("start_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StartTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse start_timeout: %w", err)
		}
		cfg.StartTimeout = d
	}

	if meta.IsDefined("manifest") {
		cfg.Manifest = strings.TrimSpace(raw.Manifest)
	}

	if meta.IsDefined("camera_backend") {
		cfg.CameraBackend = strings.ToLower(strings.TrimSpace(raw.CameraBackend))
	}

	if meta.IsDefined("camera_device") {
		cfg.CameraDevice = strings.TrimSpace(raw.CameraDevice)
	}

	if meta.IsDefined("permission_policy") {
		policy, err := permission.ParsePolicy(raw.PermissionPolicy)
		if err != nil {
			return Config{}, err
		}
		cfg.PermissionPolicy = policy
	}

	if meta.IsDefined("granted") {
		cfg.Granted = normalizeList(raw.Granted)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}

	if meta.IsDefined("control_token") {
		cfg.ControlToken = strings.TrimSpace(raw.ControlToken)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.StartTimeout <= 0 {
		return fmt.Errorf("%w: start_timeout must be positive", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.CameraBackend) == "" {
		return fmt.Errorf("%w: camera_backend is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}
	if _, err := permission.ParsePolicy(string(cfg.PermissionPolicy)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
