package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/txn-tidy/internal/app"
	"github.com/dvloznov/txn-tidy/internal/config"
	"github.com/dvloznov/txn-tidy/internal/logger"
	"github.com/dvloznov/txn-tidy/internal/matcher"
	"github.com/dvloznov/txn-tidy/internal/normalize"
	"github.com/dvloznov/txn-tidy/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	dryRun     bool
	keyTokens  int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "txn-tidy",
	Short:         "Clean transaction descriptions and assign categories",
	Long:          `Reads a transactions table, sends uncategorized rows to a language model in batches together with similar historical rows, and writes cleaned descriptions and catalog categories back.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Classify every row that needs processing and write the results",
	Args:  cobra.NoArgs,
	RunE:  runTidy,
}

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "List the rows a run would send to the model",
	Args:  cobra.NoArgs,
	RunE:  runSelect,
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Print the category catalog",
	Args:  cobra.NoArgs,
	RunE:  runCategories,
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize <description>...",
	Short: "Print the match key of each raw description",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runNormalize,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "txn-tidy.yaml", "Path or gs:// URI of the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Classify but do not write to the store")
	normalizeCmd.Flags().IntVarP(&keyTokens, "tokens", "k", normalize.DefaultKeyTokens, "Number of leading tokens kept in the key")

	rootCmd.AddCommand(runCmd, selectCmd, categoriesCmd, normalizeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorColor.Sprint("Error: "), err)
		os.Exit(1)
	}
}

// setup loads the configuration and attaches a logger at its level.
func setup(cmd *cobra.Command) (context.Context, *config.Config, error) {
	cfg, err := app.LoadConfig(cmd.Context(), configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewWithLevel(level)
	return logger.WithContext(cmd.Context(), log), cfg, nil
}

func runTidy(cmd *cobra.Command, args []string) error {
	ctx, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	if dryRun {
		cfg.DryRun = true
	}
	log := logger.FromContext(ctx)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()

	res, err := a.Run(ctx)
	if err != nil {
		return err
	}
	printSummary(os.Stdout, res)
	return nil
}

func runSelect(cmd *cobra.Command, args []string) error {
	ctx, cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	st, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rows, err := pipeline.Select(ctx, cfg, st)
	if err != nil {
		return err
	}

	m := matcher.New(normalize.New(cfg.Matching.KeyTokens), cfg.Matching.MaxCandidates, cfg.FallbackCategory)
	for _, r := range rows {
		date := ""
		if r.HasDate() {
			date = r.Date.String()
		}
		fmt.Printf("%-12s %-10s %-40s %s\n", r.TransactionID, date, r.OriginalDescription, keyColor.Sprint(m.Key(r.OriginalDescription)))
	}
	headerColor.Printf(" %d rows need processing \n", len(rows))
	return nil
}

func runCategories(cmd *cobra.Command, args []string) error {
	ctx, cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	st, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	catalog, err := pipeline.LoadCatalog(ctx, cfg, st)
	if err != nil {
		return err
	}
	for _, name := range catalog.Names() {
		marker := "  "
		if name == cfg.FallbackCategory {
			marker = "* "
		}
		fmt.Println(marker + name)
	}
	headerColor.Printf(" %d categories \n", catalog.Len())
	return nil
}

func runNormalize(cmd *cobra.Command, args []string) error {
	n := normalize.New(keyTokens)
	for _, raw := range args {
		fmt.Printf("%-40s %s\n", raw, keyColor.Sprint(n.Normalize(raw)))
	}
	return nil
}
