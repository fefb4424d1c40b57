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
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-encstore/internal/provider"
)

func newPutCmd(cfg *Config) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "put <name> [value]",
		Short: "Encrypt and store a value",
		Long: `Store a value under name. The value is taken from the second argument,
from --file, or from stdin when neither is given.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readValue(cmd, args, file)
			if err != nil {
				return err
			}
			return cfg.withStack(cmd, func(ctx context.Context, s *provider.Stack) error {
				if err := s.Store.Put(ctx, args[0], value); err != nil {
					return err
				}
				return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).
					PrintSuccess(fmt.Sprintf("stored %s (%d bytes)", args[0], len(value)))
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the value from a file")
	return cmd
}

func readValue(cmd *cobra.Command, args []string, file string) ([]byte, error) {
	switch {
	case len(args) == 2 && file != "":
		return nil, errors.New("give the value as an argument or with --file, not both")
	case len(args) == 2:
		return []byte(args[1]), nil
	case file != "":
		// #nosec G304 - path supplied by the operator
		return os.ReadFile(file)
	default:
		return io.ReadAll(cmd.InOrStdin())
	}
}

func newGetCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Decrypt and print a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.withStack(cmd, func(ctx context.Context, s *provider.Stack) error {
				value, err := s.Store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintValue(args[0], value)
			})
		},
	}
}

func newExistsCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <name>",
		Short: "Report whether an entry is stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.withStack(cmd, func(ctx context.Context, s *provider.Stack) error {
				ok, err := s.Store.Contains(ctx, args[0])
				if err != nil {
					return err
				}
				return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintExists(args[0], ok)
			})
		},
	}
}

func newRemoveCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove an entry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.withStack(cmd, func(ctx context.Context, s *provider.Stack) error {
				if err := s.Store.Remove(ctx, args[0]); err != nil {
					return err
				}
				return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintSuccess("removed " + args[0])
			})
		},
	}
}

func newClearCmd(cfg *Config) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry",
		Long:  `Remove every entry. Master key material is kept.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("clear removes every entry; pass --force to confirm")
			}
			return cfg.withStack(cmd, func(ctx context.Context, s *provider.Stack) error {
				if err := s.Store.Clear(ctx); err != nil {
					return err
				}
				return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintSuccess("cleared all entries")
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm removal of every entry")
	return cmd
}

func newCountCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of stored entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.withStack(cmd, func(ctx context.Context, s *provider.Stack) error {
				n, err := s.Store.Count(ctx)
				if err != nil {
					return err
				}
				return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintCount(n)
			})
		},
	}
}

func newHashCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <name>",
		Short: "Print the record key derived for a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.withStack(cmd, func(ctx context.Context, s *provider.Stack) error {
				return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).
					PrintHash(args[0], s.Manager.Hash(args[0]).String())
			})
		},
	}
}

func newWatchCmd(cfg *Config) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "watch <name>",
		Short: "Print the value of an entry and every later change",
		Long: `Print the current value of an entry and then one line per change until
interrupted. Only changes made through this process are observed, so
watch is mostly useful together with serve.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.withStack(cmd, func(ctx context.Context, s *provider.Stack) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				ch, err := s.Store.Watch(ctx, args[0])
				if err != nil {
					return err
				}
				printer := NewPrinter(cfg.OutputFormat, cmd.OutOrStdout())
				seen := 0
				for r := range ch {
					if err := printer.PrintWatchEvent(args[0], r.Present, r.Value, r.Err); err != nil {
						return err
					}
					seen++
					if count > 0 && seen >= count {
						break
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many events (0 waits until interrupted)")
	return cmd
}
