package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/brensch/migrobot/internal/app"
	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/credentials"
	"github.com/brensch/migrobot/internal/metrics"
	"github.com/brensch/migrobot/internal/migration"
	"github.com/brensch/migrobot/internal/migtype"
	"github.com/brensch/migrobot/internal/notify"
	"github.com/brensch/migrobot/internal/orchestrator"
	"github.com/brensch/migrobot/internal/saver"
	"github.com/brensch/migrobot/internal/transfer"
	"github.com/brensch/migrobot/internal/util"
)

var (
	runType     string
	runSFTPTest bool
	runProgress bool
	runDryRun   bool
	runNoSlack  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Migrate every unprocessed customer drop of one type",
	Long: `Discovers the customer directories under the migration root that carry the
requested type folder and have not been finalised yet, then migrates them one by one.
Each directory ends up renamed with _success_robot or _failed_robot.

Use --sftp-test to deliver into the test folder of the SFTP server.
Use --dry-run to only list the customers a run would process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		kind, err := migtype.Parse(runType)
		if err != nil {
			return err
		}

		if runDryRun {
			r := orchestrator.New(kind, cfg, nil, orchestrator.Options{}, logger)
			customers, err := r.Discover()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s customer(s) eligible:\n", len(customers), kind)
			for _, c := range customers {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", c)
			}
			return nil
		}

		store, err := credentials.Load(cfg.CredentialsFile)
		if err != nil {
			return err
		}
		sftpItem, err := store.Get(cfg.SFTP.CredentialsItem)
		if err != nil {
			return err
		}
		uploader, err := transfer.New(cfg.SFTP, sftpItem, logger)
		if err != nil {
			return err
		}

		opts := orchestrator.Options{
			Recorder:     orchestrator.NewLedger(getDB(), kind, logger),
			BatchLogFile: logFile,
		}
		if !runNoSlack {
			if n, err := buildNotifier(cfg, store, logger); err != nil {
				logger.Warn("Slack notifications disabled.", "error", err)
			} else {
				opts.Notifier = n
			}
		}
		if cfg.PushgatewayURL != "" {
			opts.Pusher = metrics.NewPusher(cfg.PushgatewayURL, kind.String())
		}

		factory := func(jobLogger *slog.Logger, observer migration.Observer) orchestrator.Pipeline {
			return migration.Build(kind, cfg, util.OSExecutor{}, uploader, observer, !runSFTPTest, jobLogger)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		var sum orchestrator.Summary
		if runProgress {
			sum, err = runWithProgress(ctx, kind, cfg, factory, opts, logger)
		} else {
			sum, err = orchestrator.New(kind, cfg, factory, opts, logger).Run(ctx)
		}

		if sum.Processed() > 0 {
			if reportErr := writeRunReport(cfg, sum, logger); reportErr != nil {
				err = errors.Join(err, reportErr)
			}
		}
		if err != nil {
			logger.Error("Batch completed with errors", "error", err)
			return fmt.Errorf("run failed: %w", err)
		}
		return nil
	},
}

func buildNotifier(cfg config.Config, store *credentials.Store, logger *slog.Logger) (*notify.Slack, error) {
	item, err := store.Get(cfg.Slack.CredentialsItem)
	if err != nil {
		return nil, err
	}
	return notify.New(cfg.Slack, item, logger)
}

// runWithProgress drives the batch in the background and renders it in the
// terminal. Batch logs are silenced on the terminal unless they go to a file.
func runWithProgress(ctx context.Context, kind migtype.Kind, cfg config.Config, factory orchestrator.Factory, opts orchestrator.Options, logger *slog.Logger) (orchestrator.Summary, error) {
	if logFile == "" {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan tea.Msg, 64)
	opts.Progress = func(e orchestrator.Event) {
		select {
		case events <- app.NewEvent(e):
		case <-ctx.Done():
		}
	}
	model := app.New(kind.String(), events, cancel)
	p := tea.NewProgram(model, tea.WithOutput(os.Stderr))

	var sum orchestrator.Summary
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		sum, runErr = orchestrator.New(kind, cfg, factory, opts, logger).Run(ctx)
		p.Send(app.BatchDoneMsg{Summary: sum, Err: runErr})
	}()

	go func() {
		<-done
		close(events)
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return sum, errors.Join(runErr, fmt.Errorf("progress view: %w", err))
	}
	<-done
	return sum, runErr
}

func writeRunReport(cfg config.Config, sum orchestrator.Summary, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory %s: %w", cfg.OutputDir, err)
	}
	path := filepath.Join(cfg.OutputDir, fmt.Sprintf("run_%s_%s.parquet", sum.Kind, util.RunStamp(sum.Started)))
	if err := saver.WriteRunReport(path, sum.Transactions()); err != nil {
		return err
	}
	logger.Info("Run report written.", slog.String("path", path))
	return nil
}

func init() {
	runCmd.Flags().StringVarP(&runType, "type", "t", "", "Migration type to run (PDOL, SDOL or MLM)")
	runCmd.Flags().BoolVar(&runSFTPTest, "sftp-test", false, "Upload into the SFTP test folder instead of production")
	runCmd.Flags().BoolVar(&runProgress, "progress", false, "Show a terminal progress view")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Only list eligible customers")
	runCmd.Flags().BoolVar(&runNoSlack, "no-slack", false, "Do not post the batch summary to Slack")
	runCmd.MarkFlagRequired("type")
}
