package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/seenimoa/cvmratios/internal/analysis/ranking"
	"github.com/seenimoa/cvmratios/internal/datasource"
	"github.com/seenimoa/cvmratios/internal/pipeline"
	"github.com/seenimoa/cvmratios/internal/report"
	"github.com/seenimoa/cvmratios/internal/store"
)

// openOutput returns stdout for "" and "-", otherwise a created file.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// writeTo runs write against the output at path and closes it.
func writeTo(path string, write func(io.Writer) error) error {
	out, err := openOutput(path)
	if err != nil {
		return err
	}
	if err := write(out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- Derive Command ---

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive indicators for the whole panel",
	Long: `Load the configured panel, derive every indicator and write the result
as JSON or CSV. With --store the run is also saved to Postgres.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format == "" {
			format = cfg.Output.Format
		}
		path, _ := cmd.Flags().GetString("output")
		if path == "" {
			path = cfg.Output.Path
		}
		f, err := report.ParseFormat(format)
		if err != nil {
			return err
		}
		if f != report.FormatJSON && f != report.FormatCSV {
			return fmt.Errorf("derive writes json or csv, not %s", f)
		}

		res, err := build(cmd)
		if err != nil {
			return err
		}

		err = writeTo(path, func(w io.Writer) error {
			if f == report.FormatCSV {
				return report.WriteCSV(w, res.Panel.Records)
			}
			return report.WriteJSON(w, res.Panel)
		})
		if err != nil {
			return err
		}

		if save, _ := cmd.Flags().GetBool("store"); save {
			db, err := store.Open(cmd.Context(), cfg.Database.URL, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			run, err := db.SaveDerived(cmd.Context(), res.Panel, res.Source)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "saved run %s (%d records)\n", run.ID, run.Summary.Records)
		}
		return nil
	},
}

func init() {
	deriveCmd.Flags().StringP("format", "f", "", "output format: json or csv (default: output.format)")
	deriveCmd.Flags().StringP("output", "o", "", "output path, - for stdout (default: output.path)")
	deriveCmd.Flags().Bool("store", false, "save the run to the database at database.url")
}

// --- Assemble Command ---

var assembleCmd = &cobra.Command{
	Use:   "assemble",
	Short: "Build a raw panel from DFP extracts",
	Long: `Pivot the configured DFP extracts into a raw panel through the account
mapping and write it as a workbook or CSV that "derive --panel" reads back.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Input.Extracts) == 0 {
			return errors.New("no extracts configured (set input.extracts or --extracts)")
		}
		path, _ := cmd.Flags().GetString("output")
		format := datasource.FormatCSV
		if path != "" && path != "-" {
			var err error
			if format, err = datasource.FormatOf(path); err != nil {
				return err
			}
		}

		b, err := pipeline.New(cfg, logger)
		if err != nil {
			return err
		}
		raw, stats, err := b.Load(cmd.Context())
		if err != nil {
			return err
		}
		if stats != nil {
			logger.Info("extracts assembled",
				"files", stats.Files, "lines", stats.Lines, "mapped", stats.Mapped,
				"unmapped", stats.Unmapped, "skipped", stats.Skipped, "records", stats.Records)
		}
		return writeTo(path, func(w io.Writer) error {
			return datasource.WritePanel(w, raw, format)
		})
	},
}

func init() {
	assembleCmd.Flags().StringP("output", "o", "-", "output path (.xlsx or .csv), - for CSV on stdout")
}

// --- Rank Command ---

var rankCmd = &cobra.Command{
	Use:   "rank [metric]",
	Short: "Rank companies by one indicator",
	Long: `Rank companies by one indicator, optionally within a year or sector.

Examples:
  cvmratios rank roe --year 2023
  cvmratios rank wacc --sector "Energia Elétrica" --limit 10
  cvmratios rank economic_profit_1 --format pdf -o ranking.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mi, err := ranking.Lookup(args[0])
		if err != nil {
			return err
		}
		orderFlag, _ := cmd.Flags().GetString("order")
		order, err := ranking.ParseOrder(orderFlag, mi)
		if err != nil {
			return err
		}
		formatFlag, _ := cmd.Flags().GetString("format")
		f, err := report.ParseFormat(formatFlag)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		path, _ := cmd.Flags().GetString("output")
		filter := filterFromFlags(cmd)

		res, err := build(cmd)
		if err != nil {
			return err
		}
		records := filter.Apply(res.Panel)
		r, err := ranking.Rank(records, mi.Metric, order)
		if err != nil {
			return err
		}

		return writeTo(path, func(w io.Writer) error {
			switch f {
			case report.FormatHTML:
				page, err := report.RankingHTML(r, report.PageOptions{Limit: limit, Subtitle: subtitle(filter, res.Panel.Rules)})
				if err != nil {
					return err
				}
				_, err = io.WriteString(w, page)
				return err
			case report.FormatPDF:
				return report.RankingPDF(w, r, report.PageOptions{Limit: limit, Subtitle: subtitle(filter, res.Panel.Rules)})
			case report.FormatMD:
				_, err := io.WriteString(w, report.RankingMarkdown(r, limit))
				return err
			case report.FormatJSON:
				r.Entries = r.Top(limit)
				return writeJSON(w, r)
			case report.FormatCSV:
				return report.WriteCSV(w, records)
			default:
				_, err := io.WriteString(w, report.RankingText(r, limit))
				return err
			}
		})
	},
}

func init() {
	addFilterFlags(rankCmd)
	rankCmd.Flags().String("order", "", "asc or desc (default: best first for the metric)")
	rankCmd.Flags().Int("limit", 20, "rows shown, 0 for all")
	rankCmd.Flags().StringP("format", "f", "text", "text, html, pdf, markdown, json or csv")
	rankCmd.Flags().StringP("output", "o", "-", "output path, - for stdout")
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().Int("year", 0, "fiscal year")
	cmd.Flags().String("sector", "", "sector name")
	cmd.Flags().String("ticker", "", "ticker or CVM code")
}

func filterFromFlags(cmd *cobra.Command) ranking.Filter {
	var f ranking.Filter
	f.Year, _ = cmd.Flags().GetInt("year")
	f.Sector, _ = cmd.Flags().GetString("sector")
	f.Ticker, _ = cmd.Flags().GetString("ticker")
	return f
}

func subtitle(f ranking.Filter, rules string) string {
	parts := []string{rules}
	if f.Year != 0 {
		parts = append(parts, strconv.Itoa(f.Year))
	}
	if f.Sector != "" {
		parts = append(parts, f.Sector)
	}
	if f.Ticker != "" {
		parts = append(parts, f.Ticker)
	}
	return strings.Join(parts, " · ")
}

// --- Company Command ---

var companyCmd = &cobra.Command{
	Use:   "company [ticker|cvm-code]",
	Short: "Show every year of one company with a peer comparison",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatFlag, _ := cmd.Flags().GetString("format")
		f, err := report.ParseFormat(formatFlag)
		if err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("output")

		res, err := build(cmd)
		if err != nil {
			return err
		}
		recs, err := ranking.DrillDown(res.Panel, args[0])
		if err != nil {
			return err
		}
		latest := recs[len(recs)-1]
		cmp, hasPeers := ranking.PeerCompare(res.Panel, latest)

		return writeTo(path, func(w io.Writer) error {
			switch f {
			case report.FormatHTML:
				page, err := report.CompanyHTML(recs, report.PageOptions{Subtitle: res.Panel.Rules})
				if err != nil {
					return err
				}
				_, err = io.WriteString(w, page)
				return err
			case report.FormatJSON:
				out := map[string]any{"entity": latest.Entity, "records": recs}
				if hasPeers {
					out["comparison"] = cmp
				}
				return writeJSON(w, out)
			case report.FormatCSV:
				return report.WriteCSV(w, recs)
			case report.FormatText:
				if _, err := io.WriteString(w, report.DrillDownText(recs)); err != nil {
					return err
				}
				if hasPeers {
					_, err := io.WriteString(w, "\n"+report.ComparisonText(cmp))
					return err
				}
				return nil
			default:
				return fmt.Errorf("company reports are text, html, json or csv, not %s", f)
			}
		})
	},
}

func init() {
	companyCmd.Flags().StringP("format", "f", "text", "text, html, json or csv")
	companyCmd.Flags().StringP("output", "o", "-", "output path, - for stdout")
}

// --- Sector Command ---

var sectorCmd = &cobra.Command{
	Use:   "sector [year]",
	Short: "Show per-sector medians for one year",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid year %q", args[0])
		}
		names, _ := cmd.Flags().GetStringSlice("metrics")
		var metrics []ranking.MetricInfo
		for _, n := range names {
			mi, err := ranking.Lookup(n)
			if err != nil {
				return err
			}
			metrics = append(metrics, mi)
		}

		res, err := build(cmd)
		if err != nil {
			return err
		}
		stats := ranking.SectorSummary(res.Panel, year)
		if len(stats) == 0 {
			return fmt.Errorf("no records for %d", year)
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, stats)
		}
		fmt.Print(report.SectorText(stats, year, metrics))
		return nil
	},
}

func init() {
	sectorCmd.Flags().StringSlice("metrics", []string{"roe", "roi", "wacc", "economic_profit_1"}, "metrics to show")
	sectorCmd.Flags().Bool("json", false, "print every median as JSON")
}

// --- Check Command ---

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the input and reconcile the economic profit figures",
	Long: `Load and derive the configured panel, report the run summary, and list
records whose two economic profit figures disagree beyond engine.tolerance.
With --strict any divergent record makes the command fail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := build(cmd)
		if err != nil {
			return err
		}
		sum := res.Panel.Summary
		fmt.Printf("  Source:      %s\n", res.Source)
		fmt.Printf("  Rules:       %s\n", res.Panel.Rules)
		fmt.Printf("  Records:     %d (%d with prior year)\n", sum.Records, sum.WithPrior)
		fmt.Printf("  Entities:    %d\n", sum.Entities)
		if a := res.Assembly; a != nil {
			fmt.Printf("  Extracts:    %d file(s), %d line(s), %d mapped, %d unmapped, %d skipped\n",
				a.Files, a.Lines, a.Mapped, a.Unmapped, a.Skipped)
		}
		fmt.Println()

		div := ranking.Divergences(res.Panel.Records)
		fmt.Print(report.DivergenceText(div))

		if strict, _ := cmd.Flags().GetBool("strict"); strict && len(div) > 0 {
			return fmt.Errorf("%d divergent record(s)", len(div))
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().Bool("strict", false, "fail when any record diverges")
}

// --- Runs Command ---

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List stored runs, or print one as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(cmd.Context(), cfg.Database.URL, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		if len(args) == 1 {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}
			p, err := db.LoadRun(cmd.Context(), id)
			if err != nil {
				return err
			}
			return report.WriteJSON(os.Stdout, p)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := db.ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Printf("%s  %s  %-48s %5d records  %s\n",
				r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Rules, r.Summary.Records, r.Source)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "runs listed")
}

// --- Methodology Command ---

var methodologyCmd = &cobra.Command{
	Use:   "methodology",
	Short: "Print the formulas and averaging policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		if asHTML, _ := cmd.Flags().GetBool("html"); asHTML {
			page, err := report.MethodologyHTML(report.PageOptions{})
			if err != nil {
				return err
			}
			fmt.Print(page)
			return nil
		}
		fmt.Print(report.Methodology())
		return nil
	},
}

func init() {
	methodologyCmd.Flags().Bool("html", false, "render as an HTML page")
}
