package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/julienbonastre/fba-inbound-helpers/internal/config"
	"github.com/julienbonastre/fba-inbound-helpers/internal/logging"
	"github.com/julienbonastre/fba-inbound-helpers/internal/metrics"
	"github.com/julienbonastre/fba-inbound-helpers/internal/reconcile"
	"github.com/julienbonastre/fba-inbound-helpers/internal/spapi"
	"github.com/julienbonastre/fba-inbound-helpers/internal/store"
	"github.com/julienbonastre/fba-inbound-helpers/internal/workflow"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fbainbound",
	Short: "FBA inbound plan helper",
	Long: `fbainbound creates Fulfillment Inbound plans from a purchase sheet,
confirms placement options (automatically or through the selection UI),
submits packing information and reconciles shipped/received quantities
back into the sheet.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger, err = logging.New(cfg.Logging.Level, verbose, cfg.Logging.Development)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app holds the components a command needs
type app struct {
	metrics   *metrics.Metrics
	db        *store.DB
	client    *spapi.Client
	workflows *workflow.Orchestrator
}

// newApp opens the store and, when withAPI is set, builds the SP-API client
// and the workflows.
func newApp(ctx context.Context, withAPI bool) (*app, error) {
	a := &app{metrics: metrics.New("fbainbound")}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.db = db
	if !withAPI {
		return a, nil
	}

	creds, err := cfg.Credentials()
	if err != nil {
		db.Close()
		return nil, err
	}
	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		db.Close()
		return nil, err
	}
	tokens := spapi.NewTokenSource(ctx, creds, nil)
	a.client = spapi.NewClient(clientCfg, tokens, logger, a.metrics)
	a.workflows = workflow.New(a.client, db, cfg.WorkflowSettings(), logger, a.metrics)
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) reconciler() *reconcile.Service {
	var totals reconcile.TotalsProvider
	if a.client != nil {
		totals = a.client
	}
	return reconcile.NewService(totals, a.db, cfg.Sheet.Reconcile, cfg.Sheet.Labels, logger, a.metrics)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to print result: %w", err)
	}
	return nil
}
