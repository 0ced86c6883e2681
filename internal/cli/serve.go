package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/msgvault/msgvault/internal/config"
	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/gateway"
	"github.com/msgvault/msgvault/internal/history"
	"github.com/msgvault/msgvault/internal/ingest"
	"github.com/msgvault/msgvault/internal/logging"
	"github.com/msgvault/msgvault/internal/monitor"
	"github.com/msgvault/msgvault/internal/provider"
	"github.com/msgvault/msgvault/internal/session"
	"github.com/msgvault/msgvault/internal/store"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the msgvault server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if cfg.Logging.File != "" {
				log = logging.NewFile(cfg.Logging.File, cfg.Logging.Level)
			} else {
				log = logging.New(nil, cfg.Logging.Level)
			}

			db, err := store.Open(cfg.Store.Path, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			sessions := store.NewSessionStore(db)
			messages := store.NewMessageStore(db)
			rules := store.NewRuleStore(db)

			connector := provider.New(cfg.Provider, log)

			manager := session.NewManager(connector, sessions, session.Config{
				OpTimeout:             time.Duration(cfg.Reconnect.OpTimeoutSeconds) * time.Second,
				ForceInterruptAfter:   time.Duration(cfg.Reconnect.ForceAfterSeconds) * time.Second,
				ReconnectMaxAttempts:  cfg.Reconnect.MaxAttempts,
				ReconnectInitialDelay: time.Duration(cfg.Reconnect.InitialDelaySeconds) * time.Second,
				ReconnectMaxDelay:     time.Duration(cfg.Reconnect.MaxDelaySeconds) * time.Second,
			}, log)

			hub := gateway.NewHub(log)
			manager.Subscribe(hub.PublishSessionState)

			evaluator := monitor.New(rules, hub, log)

			policy := domain.DedupPolicy{
				RefreshMode:          cfg.Dedup.RefreshMode,
				DuplicateWindowHours: cfg.Dedup.WindowHours,
			}

			ingestor := ingest.New(manager, messages, evaluator, hub, policy, log)
			ingestor.Attach(connector)

			reconciler := history.New(connector, messages, evaluator, policy,
				cfg.History.DefaultLimit, cfg.History.MaxLimit, log)

			srv := gateway.New(cfg.Gateway, gateway.Deps{
				Hub:        hub,
				Manager:    manager,
				Ingestor:   ingestor,
				Messages:   messages,
				Rules:      rules,
				Reconciler: reconciler,
			}, log)

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}
