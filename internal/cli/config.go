// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-encstore.
//
// go-encstore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/internal/provider"
	"github.com/jeremyhahn/go-encstore/internal/server"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to the YAML configuration file. Empty uses
	// the built-in defaults plus environment overrides.
	ConfigFile string

	// OutputFormat controls output formatting (text, json)
	OutputFormat string

	// Verbose enables debug logging and progress messages
	Verbose bool

	v *viper.Viper

	// Flag overrides applied over the loaded configuration.
	storage  string
	path     string
	provider string
	keyAlias string
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		OutputFormat: string(OutputFormatText),
		v:            newViper(),
	}
}

// bind resolves the persistent flags through viper so ENCSTORE_CONFIG,
// ENCSTORE_OUTPUT and ENCSTORE_VERBOSE apply when a flag is not given.
func (c *Config) bind(cmd *cobra.Command) error {
	flags := cmd.Flags()
	for _, name := range []string{"config", "output", "verbose", "storage", "path", "provider", "key-alias"} {
		if err := c.v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return err
		}
	}
	for _, name := range []string{"config", "output", "verbose"} {
		if err := c.v.BindEnv(name); err != nil {
			return err
		}
	}

	c.ConfigFile = c.v.GetString("config")
	c.OutputFormat = c.v.GetString("output")
	c.Verbose = c.v.GetBool("verbose")
	c.storage = c.v.GetString("storage")
	c.path = c.v.GetString("path")
	c.provider = c.v.GetString("provider")
	c.keyAlias = c.v.GetString("key-alias")

	switch OutputFormat(c.OutputFormat) {
	case OutputFormatText, OutputFormatJSON:
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", c.OutputFormat)
	}
}

// Load reads the configuration file, applies flag overrides and
// validates the result.
func (c *Config) Load() (*config.Config, error) {
	cfg, err := config.Load(c.ConfigFile)
	if err != nil {
		return nil, err
	}
	if c.storage != "" {
		cfg.Storage.Backend = c.storage
		if c.storage == "memory" {
			cfg.Storage.Path = ""
		}
	}
	if c.path != "" {
		cfg.Storage.Path = c.path
	}
	if c.provider != "" {
		cfg.KMS.Provider = c.provider
	}
	if c.keyAlias != "" {
		cfg.Crypto.KeyAlias = c.keyAlias
	}
	if c.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Logger builds a logger writing to the command's stderr.
func (c *Config) Logger(cmd *cobra.Command, cfg *config.Config) (logging.Logger, error) {
	logger, err := server.NewLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings() {
		logger.Warn("Configuration override ignored", logging.String("detail", w))
	}
	return logger, nil
}

// withStack opens the configured store, runs fn and closes the store.
func (c *Config) withStack(cmd *cobra.Command, fn func(ctx context.Context, s *provider.Stack) error) (err error) {
	cfg, err := c.Load()
	if err != nil {
		return err
	}
	logger, err := c.Logger(cmd, cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c.printVerbose(cmd, "opening %s storage with %s provider", cfg.Storage.Backend, cfg.KMS.Provider)
	stack, err := provider.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stack.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, stack)
}
