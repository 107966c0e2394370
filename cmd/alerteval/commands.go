package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"alerteval/internal/app"
	"alerteval/internal/clock"
	"alerteval/internal/config"
	"alerteval/internal/identity"

	"github.com/spf13/cobra"
)

// version is set by ldflags.
var version = "dev"

type sourceFlags struct {
	file string
	dir  string
}

func (f *sourceFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.file, "config-file", "", "path to one TOML/YAML config file")
	cmd.Flags().StringVar(&f.dir, "config-dir", "", "path to directory with TOML/YAML config fragments")
}

func (f *sourceFlags) source() (config.ConfigSource, error) {
	return config.FromCLI(f.file, f.dir)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "alerteval",
		Short: "Streaming time-series alert evaluation engine",
		Long: `alerteval evaluates fetched query results against alert definitions,
tracks per-identity state, and emits alert events and statuses.

  alerteval run --config-file alerteval.toml
  alerteval validate --config-dir conf.d
  alerteval identity --namespace prod --alert-id 42 --tag host=h1`,
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newValidateCmd(), newIdentityCmd())
	return root
}

// newRunCmd creates the foreground service command.
func newRunCmd() *cobra.Command {
	var flags sourceFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run evaluation service in foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, err := flags.source()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			service, err := app.NewService(ctx, source, clock.RealClock{})
			if err != nil {
				return fmt.Errorf("service init failed: %w", err)
			}
			if err := service.Run(ctx); err != nil {
				return fmt.Errorf("service run failed: %w", err)
			}
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

// newValidateCmd loads config and prints the alert summary.
func newValidateCmd() *cobra.Command {
	var flags sourceFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and list alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, err := flags.source()
			if err != nil {
				return err
			}
			cfg, err := config.LoadSnapshot(source)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, alert := range cfg.Alert {
				fmt.Fprintf(out, "%s\tid=%d\tnamespace=%s\tkind=%s\tsampler=%s\n",
					alert.Name, alert.ID, alert.Namespace, alert.Kind, alert.Sampler)
			}
			fmt.Fprintf(out, "ok: %d alerts\n", len(cfg.Alert))
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

// newIdentityCmd prints the identity hash for a tag-set.
func newIdentityCmd() *cobra.Command {
	var (
		namespace string
		alertID   int64
		tags      []string
	)
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Print alert identity hash for a tag-set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := parseTags(tags)
			if err != nil {
				return err
			}
			key, err := identity.New(namespace, alertID, parsed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hash=%d\nhex=%x\ntoken=%s\n", key.Hash, key.Hash, key.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "alert namespace")
	cmd.Flags().Int64Var(&alertID, "alert-id", 0, "alert id")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag as key=value, repeatable")
	_ = cmd.MarkFlagRequired("alert-id")
	return cmd
}

func parseTags(raw []string) (map[string]string, error) {
	tags := make(map[string]string, len(raw))
	for _, item := range raw {
		key, value, ok := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("tag %q must look like key=value", item)
		}
		if _, dup := tags[key]; dup {
			return nil, errors.New("duplicate tag key " + key)
		}
		tags[key] = value
	}
	return tags, nil
}
