// cvmratios derives, ranks and serves financial indicators for companies
// listed on B3, built from the annual statements they file with CVM.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seenimoa/cvmratios/api"
	"github.com/seenimoa/cvmratios/internal/config"
	"github.com/seenimoa/cvmratios/internal/infra"
	"github.com/seenimoa/cvmratios/internal/pipeline"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cvmratios",
	Short: "Financial indicators for B3-listed companies from CVM filings",
	Long: `cvmratios reads a per-company per-year panel of CVM financial statements
(a workbook, or the DFP open-data extracts), derives profitability, capital
structure, cost of capital and economic profit indicators, and ranks,
reports and serves them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = infra.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file path (default: ./config/config.yaml)")
	pf.String("log-level", "", "log level override (debug, info, warn, error)")
	pf.String("panel", "", "panel workbook or CSV (overrides input.panel)")
	pf.StringSlice("extracts", nil, "DFP extract files or URLs (overrides input.extracts)")
	pf.String("companies", "", "CVM company registry (overrides input.companies)")
	pf.String("mapping", "", "account mapping file, YAML or TOML (overrides input.mapping)")
	pf.String("averaging", "", "averaging policy: asymmetric, zero-fill or null-propagate")
	pf.String("wacc", "", "WACC method: capital-weighted or structure-weighted")
	pf.String("economic-profit", "", "economic profit method: capital-charge or cash-charge")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(deriveCmd)
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(companyCmd)
	rootCmd.AddCommand(sectorCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(methodologyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

// applyFlags copies the persistent flags the user set over the loaded config.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("log-level", &c.Logging.Level)
	str("panel", &c.Input.Panel)
	str("companies", &c.Input.Companies)
	str("mapping", &c.Input.Mapping)
	str("averaging", &c.Rules.Averaging)
	str("wacc", &c.Rules.WACC)
	str("economic-profit", &c.Rules.EconomicProfit)
	if flags.Changed("extracts") {
		c.Input.Extracts, _ = flags.GetStringSlice("extracts")
	}
}

// build runs the configured pipeline.
func build(cmd *cobra.Command) (*pipeline.Result, error) {
	b, err := pipeline.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	res, err := b.Build(cmd.Context())
	if err != nil {
		return nil, err
	}
	logger.Info("panel derived",
		"source", res.Source,
		"records", res.Panel.Summary.Records,
		"entities", res.Panel.Summary.Entities,
		"rules", res.Panel.Rules,
		"elapsed", res.Elapsed)
	return res, nil
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cvmratios %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP API server over the derived panel.

With api.watch set the panel is rebuilt when an input file changes; with
api.refresh set (a cron spec such as "@daily") it is rebuilt on schedule.
Connected WebSocket clients on /api/v1/ws are told about every reload.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.API.Port = port
		}
		b, err := pipeline.New(cfg, logger)
		if err != nil {
			return err
		}

		res, err := b.Build(cmd.Context())
		switch {
		case errors.Is(err, pipeline.ErrNoInput):
			logger.Warn("no input configured; serving without a panel until a reload succeeds")
		case err != nil:
			return err
		}

		api.Version = version
		srv := api.NewServer(cfg, res, api.WithBuilder(b), api.WithLogger(logger))
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		return srv.ListenAndServe(cmd.Context(), addr)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (overrides api.port)")
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and credential status",
	RunE: func(cmd *cobra.Command, args []string) error {
		src := pipeline.SourceFromConfig(cfg)
		rules := cfg.IndicatorRules()

		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  cvmratios · System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    Input:         %s\n", orNone(src.Describe()))
		fmt.Printf("    Mapping:       %s\n", orDefault(cfg.Input.Mapping, "built-in"))
		fmt.Printf("    Rules:         %s\n", rules)
		fmt.Printf("    Tolerance:     %g\n", rules.Tolerance)
		fmt.Printf("    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Printf("    Watch:         %t\n", cfg.API.Watch)
		fmt.Printf("    Refresh:       %s\n", orNone(cfg.API.Refresh))
		fmt.Println()

		fmt.Println("  Credentials:")
		for _, k := range config.CheckSecrets(cfg) {
			status := "not set"
			if k.IsSet {
				status = fmt.Sprintf("set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

func orNone(s string) string { return orDefault(s, "(none)") }

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
