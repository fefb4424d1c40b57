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

// Package cli implements the encstore command line: one-shot entry
// operations against a configured store and the serve command.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables read by the CLI itself.
const EnvPrefix = "ENCSTORE"

// NewRootCommand builds the encstore command tree. Each call returns an
// independent tree with its own flag state.
func NewRootCommand() *cobra.Command {
	cfg := NewConfig()

	rootCmd := &cobra.Command{
		Use:   "encstore",
		Short: "Encrypted key-value store",
		Long: `encstore keeps named values encrypted at rest under a master key held
by a key management provider. Entry names are hashed before storage so
neither names nor values are readable from the backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.bind(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to a YAML configuration file")
	flags.String("storage", "", "storage backend (memory, file, bolt, badger)")
	flags.String("path", "", "storage path for file, bolt and badger backends")
	flags.String("provider", "", "key management provider (software, awskms, gcpkms, azurekv, vault, pkcs11)")
	flags.String("key-alias", "", "master key alias")
	flags.StringP("output", "o", string(OutputFormatText), "output format (text, json)")
	flags.BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		newPutCmd(cfg),
		newGetCmd(cfg),
		newExistsCmd(cfg),
		newRemoveCmd(cfg),
		newClearCmd(cfg),
		newCountCmd(cfg),
		newHashCmd(cfg),
		newWatchCmd(cfg),
		newServeCmd(cfg),
		newProvidersCmd(cfg),
		newVersionCmd(cfg),
	)
	return rootCmd
}

// Execute runs the CLI with os.Args and returns the process exit code.
func Execute() int {
	return run(NewRootCommand(), os.Args[1:], os.Stdout, os.Stderr)
}

func run(cmd *cobra.Command, args []string, stdout, stderr io.Writer) int {
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		format, _ := cmd.PersistentFlags().GetString("output")
		_ = NewPrinter(format, stderr).PrintError(err)
		return 1
	}
	return 0
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	return v
}

// printVerbose prints a message to stderr if verbose mode is enabled
func (c *Config) printVerbose(cmd *cobra.Command, format string, args ...any) {
	if c.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "[VERBOSE] "+format+"\n", args...)
	}
}
