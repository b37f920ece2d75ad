package main

import (
	"os"

	"github.com/danmuck/scangate/internal/config"
	"github.com/danmuck/scangate/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const defaultPath = "cmd/scangate/config.toml"

func main() {
	output := pflag.StringP("output", "o", "", "output path for config template")
	validate := pflag.Bool("validate", false, "validate an existing config file")
	input := pflag.StringP("input", "i", "", "config path for validation (defaults to "+defaultPath+")")
	force := pflag.BoolP("force", "f", false, "overwrite existing config file")
	pflag.Parse()

	logging.ConfigureRuntime()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath
		}
		if _, err := config.Load(path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("config invalid")
			os.Exit(1)
		}
		log.Info().Str("path", path).Msg("validated scangate config")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath
	}
	if err := config.WriteTemplate(target, *force); err != nil {
		log.Error().Err(err).Str("path", target).Msg("write config template")
		os.Exit(1)
	}
	log.Info().Str("path", target).Msg("wrote scangate config template")
}
