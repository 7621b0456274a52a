// delayed-mailer handles one monitoring event read from stdin and emails the
// given recipients when the debounce policy allows it.
//
// Usage:
//
//	delayed-mailer -c /etc/sensu/conf.d/delayed_mailer.json ops@example.com < event.json
//	delayed-mailer --policy threshold --dry-run < event.json
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/delayedmailer/internal/app"
	"github.com/hamed0406/delayedmailer/internal/config"
	"github.com/hamed0406/delayedmailer/internal/domain"
	"github.com/hamed0406/delayedmailer/internal/logging"
	"github.com/hamed0406/delayedmailer/internal/notify"
)

var version = "dev"

type options struct {
	configPath string
	policy     string
	logDir     string
	dryRun     bool
	verbose    bool
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:   "delayed-mailer [recipient...]",
		Short: "Email a monitoring event unless it is a duplicate",
		Long: `delayed-mailer reads one event from stdin, runs the suppression filters
and the debounce policy, and emails each recipient at most once per incident.

Recipients given as arguments override delayed_mailer.mail_to.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, o, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "settings file (JSON or YAML); defaults to $SETTINGS_FILE")
	f.StringVar(&o.policy, "policy", "", "debounce policy override: quiet_period or threshold")
	f.StringVar(&o.logDir, "log-dir", "", "directory for the JSON log file")
	f.BoolVar(&o.dryRun, "dry-run", false, "use an in-memory ledger and print the email instead of sending it")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	f.DurationVar(&o.timeout, "timeout", 2*time.Minute, "overall deadline for handling the event")
	return cmd
}

func run(cmd *cobra.Command, o options, args []string) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.policy != "" {
		cfg.DelayedMailer.Policy = o.policy
	}
	if o.logDir != "" {
		cfg.Service.LogDir = o.logDir
	}
	if o.dryRun {
		cfg.Ledger.Backend = "memory"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.NewLogger(logging.Options{Dir: cfg.Service.LogDir, Stderr: true, Debug: o.verbose})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ev, err := domain.Decode(cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	ledger, err := app.OpenLedger(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer ledger.Close()

	var mailer notify.Mailer
	if o.dryRun {
		mailer = &notify.Writer{Out: cmd.OutOrStdout()}
	}
	h, err := app.Handler(cfg, ledger, mailer, app.Recipients(cfg, args), cmd.OutOrStdout(), log)
	if err != nil {
		return err
	}

	res, err := h.Handle(ctx, ev)
	if err != nil {
		log.Error("handle_failed", zap.String("identity", string(ev.Identity())), zap.Error(err))
		return err
	}
	log.Info("handled",
		zap.String("identity", string(res.Identity)),
		zap.String("decision", res.Decision),
		zap.String("reason", res.Reason),
		zap.Int("sent", len(res.Sent)),
		zap.Int("failed", len(res.Failed)),
	)
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
