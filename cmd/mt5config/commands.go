package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"mt5-bot/internal/cfg"
	"mt5-bot/internal/common"
	"mt5-bot/internal/manager"
	"mt5-bot/internal/terminal"
)

const redacted = "********"

func newShowCmd(a *app) *cobra.Command {
	var asYAML, reveal bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.open(openOptions{})
			if err != nil {
				return err
			}
			c := m.Get()
			if !reveal && c.Connection.Password != "" {
				c.Connection.Password = redacted
			}
			format := "config.json"
			if asYAML {
				format = "config.yaml"
			}
			data, err := cfg.Marshal(c, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print YAML instead of JSON")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the connection password")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and list every violation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.configPath()
			out := cmd.OutOrStdout()
			c, err := cfg.Load(path)
			if err != nil {
				for _, v := range cfg.Violations(err) {
					fmt.Fprintf(out, "%s\n", v)
				}
				return err
			}
			fmt.Fprintf(out, "%s is valid\n", path)

			state := "closed"
			if c.Trading.IsOpen(time.Now()) {
				state = "open"
			}
			fmt.Fprintf(out, "trading hours: %s now\n", state)
			return nil
		},
	}
}

func newSetCmd(a *app) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "set <patch>",
		Short: "Merge a partial document into the configuration and save it",
		Long: `Merge a partial document into the configuration and save it.

The patch is given inline, as @file, or as - for stdin. Only the keys present
in the patch change; symbols and trading_hours are replaced as a whole.

  mt5config set '{"trading":{"default_volume":0.02}}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPatchArg(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			var p cfg.Patch
			if asYAML {
				p, err = cfg.ParseYAMLPatch(data)
			} else {
				p, err = cfg.ParsePatch(data)
			}
			if err != nil {
				return err
			}
			if p.IsEmpty() {
				return errors.New("patch changes nothing")
			}

			m, err := a.open(openOptions{history: true})
			if err != nil {
				return err
			}
			if err := m.Update(p); err != nil {
				return err
			}
			if err := m.Save(a.configPath()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", a.configPath())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "parse the patch as YAML")
	return cmd
}

func readPatchArg(stdin io.Reader, arg string) ([]byte, error) {
	switch {
	case arg == "-":
		return io.ReadAll(stdin)
	case strings.HasPrefix(arg, "@"):
		return os.ReadFile(strings.TrimPrefix(arg, "@"))
	default:
		return []byte(arg), nil
	}
}

func newInitCmd(a *app) *cobra.Command {
	var (
		symbols []string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}

			c := cfg.Default()
			for _, name := range symbols {
				c.Trading.Symbols = append(c.Trading.Symbols, cfg.SymbolSettings{
					Name:           name,
					Timeframes:     append([]string(nil), common.DefaultTimeframes...),
					ChartTimeframe: common.DefaultChartTimeframe,
					MaxSpread:      common.DefaultMaxSpread,
					MarginRate:     common.DefaultMarginRate,
				})
			}

			store, err := a.openHistory()
			if err != nil {
				return err
			}
			m := manager.New(c, manager.WithMetrics(a.metrics), manager.WithHistory(store))
			if err := m.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)

			if err := m.Init(); err != nil {
				for _, v := range cfg.Violations(err) {
					log.Warn().Str("field", v.Field).Msg(v.Reason)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "configuration is incomplete, run validate after editing it")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&symbols, "symbol", nil, "symbol to trade (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newApplyCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Log the terminal in and configure every symbol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url := a.v.GetString(keyBridgeURL)
			if url == "" {
				return errors.New("--bridge-url or MT5_BRIDGE_URL is required")
			}
			bridge := terminal.NewBridge(a.v.GetString(keyBridgeKey), a.v.GetString(keyBridgeSecret), url, timeout)

			m, err := a.open(openOptions{requireFile: true}, manager.WithTerminal(bridge))
			if err != nil {
				return err
			}

			report, err := m.ApplyExternalSettings(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range report.Configured {
				fmt.Fprintf(out, "ok      %s\n", name)
			}
			for _, f := range report.Failed {
				fmt.Fprintf(out, "failed  %s: %v\n", f.Symbol, f.Err)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", common.DefaultBridgeTimeout*time.Second, "per-request bridge timeout")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded configuration revisions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			revs, err := store.Revisions(limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tSOURCE\tSYMBOLS")
			for _, r := range revs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.CreatedAt.Local().Format(time.RFC3339),
					r.Source, strings.Join(r.Config.Trading.SymbolNames(), ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", common.DefaultHistoryLimit, "maximum number of revisions (0 for all)")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <revision-id>",
		Short: "Restore a recorded revision and save it to the configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(openOptions{history: true})
			if err != nil {
				return err
			}
			if err := m.Restore(args[0]); err != nil {
				return err
			}
			if err := m.Save(a.configPath()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s into %s\n", args[0], a.configPath())
			return nil
		},
	}
}
