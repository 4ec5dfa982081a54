package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/biblionamer/internal/attest"
	"github.com/TobiSchelling/biblionamer/internal/cognition"
	"github.com/TobiSchelling/biblionamer/internal/config"
	"github.com/TobiSchelling/biblionamer/internal/database"
	"github.com/TobiSchelling/biblionamer/internal/extract"
	"github.com/TobiSchelling/biblionamer/internal/llm"
	"github.com/TobiSchelling/biblionamer/internal/logging"
	"github.com/TobiSchelling/biblionamer/internal/pipeline"
	"github.com/TobiSchelling/biblionamer/internal/scan"
	"github.com/TobiSchelling/biblionamer/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "biblionamer",
	Short:        "Rename PDFs to bibliographic file names",
	Long:         "biblionamer reads the first pages of each PDF in a library folder, asks an LLM for its bibliographic metadata, and renames the file to Title_Authors_Year.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		var (
			path string
			err  error
		)
		cfg, path, err = config.Resolve(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger, err = logging.New(cfg.Logging.Level, verbose)
		if err != nil {
			return err
		}
		if path != "" {
			logger.Debug("config loaded", zap.String("path", path))
		} else {
			logger.Debug("no config file found, using defaults")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("biblionamer", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/biblionamer/",
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
		fmt.Println("Set GEMINI_API_KEY (or the variable named by ai.api_key_env) before activating.")
		return nil
	},
}

var (
	activateDir  string
	activateLive bool
)

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Analyze and rename the PDFs in a directory",
	Long: `Scans the directory for PDFs, skips files that already carry a
bibliographic name, and renames the rest. Without --live nothing is
written: the planned renames are printed instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := activateDir
		if dir == "" {
			dir = cfg.LibraryDir()
		}
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("target directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("target directory: %s is not a directory", dir)
		}

		keys := llm.Keys(cfg.AI.APIKeyEnv, os.Getenv)
		if len(keys) == 0 {
			return fmt.Errorf("no API key: set %s, %sS or %s_1", cfg.AI.APIKeyEnv, cfg.AI.APIKeyEnv, cfg.AI.APIKeyEnv)
		}

		provider, err := llm.NewProvider(cfg.AI.Provider, cfg.AI.BaseURL)
		if err != nil {
			return err
		}
		analyzer, err := cognition.New(provider, cognition.Options{
			Models:        cfg.AI.Models,
			Keys:          keys,
			MaxKeyCycles:  cfg.AI.MaxKeyCycles,
			BackoffBase:   cfg.BackoffBase(),
			BackoffMax:    cfg.BackoffMax(),
			Jitter:        cfg.AI.BackoffJitter,
			StrictQuota:   cfg.AI.StrictQuota,
			ExcerptChars:  cfg.AI.ExcerptChars,
			MinConfidence: cfg.AI.MinConfidence,
			MaxTokens:     cfg.AI.MaxTokens,
		}, cognition.WithLogger(logger.Named("cognition")))
		if err != nil {
			return err
		}
		logger.Info("credentials loaded",
			zap.String("provider", provider.Name()),
			zap.Int("keys", len(keys)),
			zap.Strings("models", cfg.AI.Models))

		p := pipeline.New(pipeline.Options{
			Dir:             dir,
			Live:            activateLive,
			MaxCycles:       cfg.Run.MaxCycles,
			Cooldown:        cfg.Cooldown(),
			Concurrency:     cfg.Run.Concurrency,
			MaxPages:        cfg.Extract.MaxPages,
			StructuralPages: cfg.Extract.StructuralPages,
			MaxLength:       cfg.Naming.MaxLength,
			SegmentFloor:    cfg.Classify.SegmentFloor,
			MaxWordLength:   cfg.Classify.MaxWordLength,
			KeyMode:         scan.KeyMode(cfg.Classify.JournalKey),
			LearnMinEntries: cfg.Learning.MinEntries,
			LearnThreshold:  cfg.Learning.FailureThreshold,
			CacheTTL:        cfg.CacheTTL(),
		}, analyzer, extract.NewPDFExtractor(cfg.Extract.MinChars), pipeline.WithLogger(logger))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := p.Activate(ctx)
		if res == nil {
			return err
		}
		if errors.Is(err, context.Canceled) {
			logger.Warn("activation interrupted; progress so far is journaled")
		}

		if !activateLive {
			fmt.Println(attest.Markdown(res.Report))
		}
		fmt.Println(attest.Summary(res.Report))

		recordActivation(res.Report)
		return nil
	},
}

func init() {
	activateCmd.Flags().StringVarP(&activateDir, "directory", "d", "", "Library directory (default from config, ~/Documents/Library)")
	activateCmd.Flags().BoolVar(&activateLive, "live", false, "Rename files (default is a dry run)")
}

// recordActivation stores the report in the history database. Failures are
// logged only: the directory work is already done.
func recordActivation(r attest.Report) {
	db, err := openDB()
	if err != nil {
		logger.Warn("activation history unavailable", zap.Error(err))
		return
	}
	defer db.Close()
	if err := db.RecordActivation(r); err != nil {
		logger.Warn("recording activation failed", zap.Error(err))
	}
}

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent activations",
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
		fmt.Printf("History: %s\n\n", db.Path())
		fmt.Printf("Activations: %d (%d live) across %d directories\n", stats.Activations, stats.LiveActivations, stats.Directories)
		fmt.Printf("Files renamed: %d\n\n", stats.Renames)

		acts, err := db.RecentActivations("", statusLimit)
		if err != nil {
			return fmt.Errorf("listing activations: %w", err)
		}
		if len(acts) == 0 {
			fmt.Println("No activations yet. Run: biblionamer activate -d <dir>")
			return nil
		}

		rows := make([][]string, 0, len(acts))
		for _, a := range acts {
			renames, err := db.ActivationRenames(a.ID)
			if err != nil {
				return err
			}
			rows = append(rows, []string{
				a.Started.Local().Format("2006-01-02 15:04"),
				a.Mode,
				a.Directory,
				strconv.Itoa(a.Cycles),
				strconv.Itoa(len(renames)),
				strconv.Itoa(a.Total()),
				a.Duration().Round(time.Second).String(),
			})
		}
		fmt.Println(attest.RenderTable(
			[]string{"Started", "Mode", "Directory", "Cycles", "Renames", "Outcomes", "Duration"},
			rows,
			[]attest.Alignment{attest.AlignLeft, attest.AlignLeft, attest.AlignLeft, attest.AlignRight, attest.AlignRight, attest.AlignRight, attest.AlignRight},
		))
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of activations to show")
}

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Browse the activation history in a web browser",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return server.Serve(db, servePort, logger.Named("server"), ctx.Done())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to listen on")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(filepath.Join(dataDir, database.FileName), logger.Named("database"))
}
