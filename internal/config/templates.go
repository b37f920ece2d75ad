package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// DefaultFileConfig is DefaultConfig in its on-disk shape.
func DefaultFileConfig() FileConfig {
	cfg := DefaultConfig()
	return FileConfig{
		Formats:          cfg.Formats.Names(),
		StartTimeout:     cfg.StartTimeout.String(),
		Manifest:         "AndroidManifest.xml",
		CameraBackend:    cfg.CameraBackend,
		PermissionPolicy: string(cfg.PermissionPolicy),
		Granted:          cfg.Granted,
		ListenAddr:       cfg.ListenAddr,
		CorsOrigins:      cfg.CorsOrigins,
	}
}

func Template() (string, error) {
	data, err := toml.Marshal(DefaultFileConfig())
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return string(data), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
