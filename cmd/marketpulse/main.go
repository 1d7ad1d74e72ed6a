package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/TobiSchelling/MarketPulse/internal/collect"
	"github.com/TobiSchelling/MarketPulse/internal/config"
	"github.com/TobiSchelling/MarketPulse/internal/database"
	"github.com/TobiSchelling/MarketPulse/internal/metrics"
	"github.com/TobiSchelling/MarketPulse/internal/pipeline"
	"github.com/TobiSchelling/MarketPulse/internal/server"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "marketpulse",
	Short:   "Market impact of real-world events",
	Long:    "MarketPulse collects real-world events, analyzes their market impact, and tracks aggregate sentiment per stock and for the market.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sentimentCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("marketpulse", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/marketpulse/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure feeds, API keys, and the analysis provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		lastRun, _ := db.GetLastRunDate()
		if lastRun == "" {
			lastRun = "never"
		}

		fmt.Printf("Today: %s\n", database.GetToday())
		fmt.Printf("Last run: %s\n\n", lastRun)
		fmt.Println("Events:")
		fmt.Printf("  Total collected: %d\n", stats.TotalEvents)
		fmt.Printf("  Analyzed: %d\n", stats.AnalyzedEvents)
		fmt.Printf("  Fallback analyses: %d\n", stats.FallbackAnalyses)
		fmt.Printf("  Days with data: %d\n", stats.PeriodsWithEvents)
		fmt.Println("\nSentiment:")
		fmt.Printf("  Predictions: %d\n", stats.Predictions)
		fmt.Printf("  Tracked subjects: %d\n", stats.TrackedSubjects)
		return nil
	},
}

// --- collect command ---

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect events from configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		period, err := database.PeriodEnding(database.GetToday(), 1)
		if err != nil {
			return err
		}
		fmt.Println("Collecting events from sources...")

		collector := collect.NewCollector(cfg, db, period)
		result := collector.Collect()

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Total found: %d\n", result.TotalFound)
		fmt.Printf("  New events: %d\n", result.NewEvents)
		fmt.Printf("  Duplicates skipped: %d\n", result.Duplicates)

		if len(result.Sources) > 0 {
			fmt.Println("\nEvents by source:")
			// Sort sources by count descending
			type kv struct {
				key string
				val int
			}
			var sorted []kv
			for k, v := range result.Sources {
				sorted = append(sorted, kv{k, v})
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].val > sorted[j].val })
			for _, s := range sorted {
				fmt.Printf("  %s: %d\n", s.key, s.val)
			}
		}
		return nil
	},
}

// --- run command ---

var (
	dryRun   bool
	daysBack int
	force    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: collect -> fetch -> analyze -> aggregate",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		today := database.GetToday()
		period, err := resolvePeriod(db, today, daysBack)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pipe := pipeline.New(cfg, db, nil)

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun(period.ID())
		} else {
			result = pipe.Run(ctx, period, force)
		}
		printSteps(result)

		if !dryRun {
			fmt.Println("\nPipeline complete! Run 'marketpulse serve' to view the dashboard.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	runCmd.Flags().IntVar(&daysBack, "days-back", 0, "Override lookback window (days)")
	runCmd.Flags().BoolVar(&force, "force", false, "Re-analyze events that already have an analysis")
}

// --- analyze command ---

var analyzePeriod string

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze collected events and refresh sentiment scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		periodID := analyzePeriod
		if periodID == "" {
			periodID = database.GetToday()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result := pipeline.New(cfg, db, nil).Analyze(ctx, periodID, force)
		printSteps(result)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzePeriod, "period", "", "Period ID to analyze (default today)")
	analyzeCmd.Flags().BoolVar(&force, "force", false, "Re-analyze events that already have an analysis")
}

func printSteps(result *pipeline.Result) {
	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}

// resolvePeriod determines the period to collect from an explicit
// --days-back, catch-up detection, or a daily run.
func resolvePeriod(db *database.DB, today string, explicitDaysBack int) (database.Period, error) {
	if explicitDaysBack > 0 {
		period, err := database.PeriodEnding(today, explicitDaysBack)
		if err != nil {
			return database.Period{}, err
		}
		fmt.Printf("Collecting %d day(s) of events (%s).\n", period.Days(), period.ID())
		return period, nil
	}

	daily, err := database.PeriodEnding(today, 1)
	if err != nil {
		return database.Period{}, err
	}

	lastRun, _ := db.GetLastRunDate()
	if lastRun == "" {
		fmt.Println("First run detected, collecting today's events.")
		return daily, nil
	}

	last, err := database.ParsePeriod(lastRun)
	if err != nil {
		return daily, nil
	}
	missedDays := int(daily.End.Sub(last.End).Hours() / 24)

	if missedDays <= 0 {
		fmt.Printf("Already ran today (%s). Re-running pipeline.\n", today)
		return daily, nil
	}

	if missedDays == 1 {
		fmt.Printf("Daily run for %s.\n", today)
		return daily, nil
	}

	// Catch-up: every day since the last run, up to and including today.
	period, err := database.PeriodEnding(today, missedDays)
	if err != nil {
		return database.Period{}, err
	}

	if missedDays > 5 {
		fmt.Printf("Last run was %d days ago (%s).\n", missedDays, lastRun)
		fmt.Printf("Catch up %d days (%s)? This will use more API calls [y/N]: ", missedDays, period.ID())

		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			return database.Period{}, fmt.Errorf("aborted")
		}
	} else {
		fmt.Printf("Catching up %d days (%s).\n", missedDays, period.ID())
	}

	return period, nil
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server and JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") || port == 0 {
			port = servePort
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, pipeline.NewTracker(cfg, db), metrics.New(), port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "marketpulse.db")
	return database.Open(dbPath)
}
