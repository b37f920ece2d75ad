package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/scangate/internal/config"
	"github.com/danmuck/scangate/internal/logging"
	"github.com/danmuck/scangate/internal/permission"
	"github.com/danmuck/scangate/internal/scanner"
	"github.com/danmuck/scangate/internal/session"
	"github.com/spf13/pflag"
)

func main() {
	exit(run(os.Args[1:]))
}

func exit(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "scangate: %v\n", err)
	os.Exit(1)
}

func run(args []string) error {
	flags := pflag.NewFlagSet("scangate", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a scangate TOML config")
	addr := flags.String("addr", "", "override listen_addr")
	backend := flags.String("backend", "", "override camera_backend (sim|v4l2)")
	policy := flags.String("policy", "", "override permission_policy (grant|deny|prompt)")
	window := flags.Bool("window", false, "follow a native window's visibility (gio builds only)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	logging.ConfigureRuntime()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *backend != "" {
		cfg.CameraBackend = *backend
	}
	if *policy != "" {
		p, err := permission.ParsePolicy(*policy)
		if err != nil {
			return err
		}
		cfg.PermissionPolicy = p
	}

	svc := scanner.NewService(cfg)
	if !*window {
		return report(svc.Run())
	}
	mainLoop, err := attachWindow(svc)
	if err != nil {
		return err
	}
	// The window loop owns the main goroutine and never returns.
	go func() { exit(report(svc.Run())) }()
	mainLoop()
	return nil
}

func report(out session.Outcome, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}
