// Package main provides the holocron command-line tool for querying SWAPI
// through the caching client and maintaining its persisted state.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/holocron-labs/holocron"
	"github.com/holocron-labs/holocron/internal/fetchlog"
	"github.com/holocron-labs/holocron/internal/logging"
	"github.com/holocron-labs/holocron/internal/version"
	"github.com/holocron-labs/holocron/swapi"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1) //nolint:gocritic
	}
}

type rootOptions struct {
	configPath string
	baseURL    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "holocron",
		Short:         "Query the Star Wars API through a caching client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.SetupWriter(cmd.ErrOrStderr(), opts.logLevel, "text")
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("HOLOCRON_CONFIG"), "config file (JSON or YAML)")
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "override the SWAPI base URL")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newListCmd(opts),
		newSearchCmd(opts),
		newGetCmd(opts),
		newResolveCmd(opts),
		newCacheCmd(opts),
		newFetchLogCmd(opts),
		newValidateCmd(),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig returns the configured client settings, falling back to
// defaults when no config file is given.
func (o *rootOptions) loadConfig() (holocron.Config, error) {
	cfg := holocron.DefaultConfig()
	if o.configPath != "" {
		loaded, err := holocron.LoadConfig(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	return cfg, nil
}

// withClient opens a client, restores its cache snapshot and runs fn.
func (o *rootOptions) withClient(ctx context.Context, fn func(*holocron.Client) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	client, err := holocron.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.LoadCache(ctx); err != nil {
		logging.Logger.Warn("failed to restore cache snapshot", "error", err)
	}
	return fn(client)
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:       "list <resource>",
		Short:     "List every entity of a resource, following pagination",
		Args:      cobra.ExactArgs(1),
		ValidArgs: resourceNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			resource, err := swapi.ParseResource(args[0])
			if err != nil {
				return err
			}
			return opts.withClient(cmd.Context(), func(c *holocron.Client) error {
				var results []json.RawMessage
				if cmd.Flags().Changed("search") {
					results, err = holocron.Search[json.RawMessage](cmd.Context(), c, resource, search)
				} else {
					results, err = holocron.FetchAllPages[json.RawMessage](cmd.Context(), c, resource.Endpoint())
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), results)
			})
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "filter by the upstream search parameter")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "search <resource> <query>",
		Short:     "Search a resource by name, following pagination",
		Args:      cobra.ExactArgs(2),
		ValidArgs: resourceNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			resource, err := swapi.ParseResource(args[0])
			if err != nil {
				return err
			}
			return opts.withClient(cmd.Context(), func(c *holocron.Client) error {
				results, err := holocron.Search[json.RawMessage](cmd.Context(), c, resource, args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), results)
			})
		},
	}
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <resource> <id>",
		Short: "Fetch one entity by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resource, err := swapi.ParseResource(args[0])
			if err != nil {
				return err
			}
			id, err := strconv.Atoi(args[1])
			if err != nil || id <= 0 {
				return fmt.Errorf("id must be a positive integer, got %q", args[1])
			}
			return opts.withClient(cmd.Context(), func(c *holocron.Client) error {
				body, err := c.Fetch(cmd.Context(), resource.EntityPath(id))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), body)
			})
		},
	}
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <url>...",
		Short: "Resolve relationship URLs concurrently, preserving order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd.Context(), func(c *holocron.Client) error {
				results, err := holocron.ResolveMany[json.RawMessage](cmd.Context(), c, args)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), results)
			})
		},
	}
}

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or maintain the persisted cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show cached entry count and size",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.withClient(cmd.Context(), func(c *holocron.Client) error {
					return printJSON(cmd.OutOrStdout(), c.CacheStats())
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Drop every cached entry",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.withClient(cmd.Context(), func(c *holocron.Client) error {
					if !c.ClearCache(cmd.Context()) {
						return fmt.Errorf("cache cleared in memory but the persisted snapshot could not be removed")
					}
					return printJSON(cmd.OutOrStdout(), map[string]bool{"cleared": true})
				})
			},
		},
		&cobra.Command{
			Use:   "prune",
			Short: "Evict expired entries",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.withClient(cmd.Context(), func(c *holocron.Client) error {
					return printJSON(cmd.OutOrStdout(), map[string]int{"pruned": c.PruneCache(cmd.Context())})
				})
			},
		},
	)
	return cmd
}

func newFetchLogCmd(opts *rootOptions) *cobra.Command {
	var q fetchlog.Query
	cmd := &cobra.Command{
		Use:   "fetchlog",
		Short: "Inspect recorded upstream fetches",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded fetches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(cmd.Context(), func(c *holocron.Client) error {
				reader, ok := c.FetchLog().(fetchlog.Reader)
				if !ok {
					return fmt.Errorf("fetch log is not enabled; set fetch_log.driver in the config")
				}
				res, err := reader.List(cmd.Context(), q)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	list.Flags().IntVar(&q.Limit, "limit", 50, "maximum entries to return")
	list.Flags().IntVar(&q.Offset, "offset", 0, "entries to skip")
	list.Flags().StringVar(&q.Outcome, "outcome", "", "filter by outcome")
	list.Flags().StringVar(&q.URL, "url", "", "filter by exact URL")
	cmd.AddCommand(list)
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a client configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := holocron.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := holocron.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("validation error: %w", err)
			}

			out := cmd.OutOrStdout()
			storageDriver := cfg.Storage.Driver
			if storageDriver == "" {
				storageDriver = "memory"
			}
			fmt.Fprintln(out, "✓ Config is valid")
			fmt.Fprintf(out, "  Base URL:  %s\n", valueOr(cfg.BaseURL, swapi.DefaultBaseURL))
			fmt.Fprintf(out, "  Storage:   %s\n", storageDriver)
			fmt.Fprintf(out, "  Fetch log: %s\n", valueOr(cfg.FetchLog.Driver, "none"))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "holocron %s\n", version.String())
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func resourceNames() []string {
	resources := swapi.Resources()
	names := make([]string, len(resources))
	for i, r := range resources {
		names[i] = string(r)
	}
	return names
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
