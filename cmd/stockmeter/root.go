package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stockmeter/pkg/config"
	"stockmeter/pkg/logging"
	"stockmeter/pkg/market"
	"stockmeter/pkg/server"
)

type rootFlags struct {
	envFile  string
	logLevel string
	color    bool
}

// newRootCmd returns the command tree and a closer that releases whatever
// the command opened. Cobra skips post-run hooks when a command fails, so
// the caller runs the closer after Execute.
func newRootCmd() (*cobra.Command, func() error) {
	var (
		flags rootFlags
		a     *app
	)
	root := &cobra.Command{
		Use:           "stockmeter",
		Short:         "Stock quotes and fair-value estimates from redundant market data providers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.envFile)
			if err != nil {
				return err
			}
			if flags.logLevel != "" {
				cfg.LogLevel = flags.logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			a, err = newApp(cfg, logger)
			if err != nil {
				_ = logger.Sync()
			}
			return err
		},
	}
	closeApp := func() error {
		if a == nil {
			return nil
		}
		defer func() { a = nil }()
		_ = a.logger.Sync()
		return a.Close()
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override STOCKMETER_LOG_LEVEL")
	root.PersistentFlags().BoolVar(&flags.color, "color", false, "colorize JSON output")

	get := func() *app { return a }
	root.AddCommand(
		newQuoteCmd(get, &flags),
		newProfileCmd(get, &flags),
		newHistoryCmd(get, &flags),
		newFinancialsCmd(get, &flags),
		newDividendsCmd(get, &flags),
		newValuateCmd(get, &flags),
		newCompareCmd(get, &flags),
		newProvidersCmd(get, &flags),
		newServeCmd(get),
	)
	return root, closeApp
}

func newQuoteCmd(get func() *app, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "quote SYMBOL [SYMBOL...]",
		Short: "Latest quote",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var quotes []market.Quote
			for _, sym := range args {
				q, err := get().stock.Quote(cmd.Context(), sym)
				if err != nil {
					return err
				}
				quotes = append(quotes, q)
			}
			if len(quotes) == 1 {
				return printJSON(cmd.OutOrStdout(), quotes[0], flags.color)
			}
			return printJSON(cmd.OutOrStdout(), quotes, flags.color)
		},
	}
}

func newProfileCmd(get func() *app, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "profile SYMBOL",
		Short: "Company profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := get().stock.Profile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p, flags.color)
		},
	}
}

func newHistoryCmd(get func() *app, flags *rootFlags) *cobra.Command {
	var from, to, interval string
	cmd := &cobra.Command{
		Use:   "history SYMBOL",
		Short: "Price bars, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iv, err := market.ParseInterval(interval)
			if err != nil {
				return err
			}
			end := time.Now().UTC()
			if to != "" {
				if end, err = time.Parse(time.DateOnly, to); err != nil {
					return err
				}
			}
			start := end.AddDate(-1, 0, 0)
			if from != "" {
				if start, err = time.Parse(time.DateOnly, from); err != nil {
					return err
				}
			}
			bars, err := get().stock.History(cmd.Context(), args[0], start, end, iv)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), bars, flags.color)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start date YYYY-MM-DD (default one year before --to)")
	cmd.Flags().StringVar(&to, "to", "", "end date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&interval, "interval", "daily", "daily, weekly or monthly")
	return cmd
}

func newFinancialsCmd(get func() *app, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "financials SYMBOL",
		Short: "Annual statement history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := get().stock.Financials(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), f, flags.color)
		},
	}
}

func newDividendsCmd(get func() *app, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dividends SYMBOL",
		Short: "Dividend history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := get().stock.Dividends(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d, flags.color)
		},
	}
}

func newValuateCmd(get func() *app, flags *rootFlags) *cobra.Command {
	var (
		peers  []string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "valuate SYMBOL",
		Short: "Fair-value report from the DCF, DDM, relative and Graham models",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := get().stock.Valuate(cmd.Context(), args[0], peers)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), rep, flags.color); err != nil {
				return err
			}
			if strict {
				return rep.Err()
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&peers, "peers", nil, "comparable companies for the relative model")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when no model applies")
	return cmd
}

func newCompareCmd(get func() *app, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "compare SYMBOL SYMBOL [SYMBOL...]",
		Short: "Valuate several symbols, each against the others",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := get().stock.Compare(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows, flags.color)
		},
	}
}

func newProvidersCmd(get func() *app, flags *rootFlags) *cobra.Command {
	var probe string
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Configured providers and their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if probe != "" {
				sym, err := market.NormalizeSymbol(probe)
				if err != nil {
					return err
				}
				// Straight to the manager so the probe is never a cache hit.
				if _, err := a.manager.Quote(cmd.Context(), sym); err != nil {
					a.logger.Warn("probe failed", zap.String("symbol", sym), zap.Error(err))
				}
			}
			return printJSON(cmd.OutOrStdout(), a.stock.ProviderHealth(), flags.color)
		},
	}
	cmd.Flags().StringVar(&probe, "probe", "", "request a quote for SYMBOL first so health reflects live calls")
	return cmd
}

func newServeCmd(get func() *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if addr == "" {
				addr = a.cfg.ListenAddr
			}
			return server.New(a.stock, a.logger).ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default STOCKMETER_LISTEN)")
	return cmd
}
