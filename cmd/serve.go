package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/hospital-agent/internal/agent"
	"github.com/MimeLyc/hospital-agent/internal/audit"
	"github.com/MimeLyc/hospital-agent/internal/config"
	"github.com/MimeLyc/hospital-agent/internal/gateway"
	"github.com/MimeLyc/hospital-agent/internal/httpapi"
	"github.com/MimeLyc/hospital-agent/internal/llm"
	"github.com/MimeLyc/hospital-agent/internal/monitor"
	"github.com/MimeLyc/hospital-agent/internal/tools"
	"github.com/MimeLyc/hospital-agent/pkg/icron"
	"github.com/MimeLyc/hospital-agent/pkg/log"
)

const shutdownTimeout = 10 * time.Second

// cronStopTimeout bounds the wait for an in-flight probe on shutdown.
var cronStopTimeout = shutdownTimeout

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func newServeCmd(a *app) *cobra.Command {
	var checkProvider bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat and hospital data HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg, checkProvider)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", "", "listen address (default :5000 or :$PORT)")
	flags.String("backend-url", "", "hospital backend base URL")
	flags.Int("max-rounds", 0, "completion rounds allowed per chat request")
	flags.String("audit-db", "", "SQLite file for tool-call telemetry")
	flags.BoolVar(&checkProvider, "check-provider", false, "disable chat when the provider cannot be reached at startup")
	bindFlags(a.v, flags, map[string]string{
		"http.addr":        "addr",
		"backend.base_url": "backend-url",
		"agent.max_rounds": "max-rounds",
		"audit.db_path":    "audit-db",
	})
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, checkProvider bool) error {
	registry, err := tools.DefaultRegistry()
	if err != nil {
		return errors.Wrap(err, "load tool catalog")
	}
	gw, err := gateway.New(cfg.Backend.BaseURL, registry, gateway.WithTimeout(cfg.Backend.Timeout))
	if err != nil {
		return err
	}

	opts := []httpapi.Option{httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes)}

	var observer agent.ToolObserver
	if cfg.Audit.DBPath != "" {
		store, err := audit.NewSQLiteStore(cfg.Audit.DBPath)
		if err != nil {
			return errors.Wrap(err, "open audit store")
		}
		defer store.Close()

		recorder := audit.NewRecorder(store)
		recorder.Start()
		defer recorder.Stop()

		observer = recorder
		opts = append(opts, httpapi.WithAuditLog(store))
		log.Info("Recording tool calls to %s", cfg.Audit.DBPath)
	}

	chatOpts, err := chatOptions(ctx, cfg, registry, gw, observer, checkProvider)
	if err != nil {
		return err
	}
	opts = append(opts, chatOpts...)

	engine := icron.New()
	var sched scheduler
	if cfg.Monitor.Enabled() {
		probe := monitor.NewProbe(gw, monitor.WithTimeout(cfg.Backend.Timeout))
		opts = append(opts, httpapi.WithHealth(probe))
		sched = probeScheduler{probe: probe, cron: engine, expr: cfg.Monitor.Cron}
	}

	srv := httpapi.NewServer(gw, opts...)
	return runWithComponents(ctx, cfg, sched, engine, srv)
}

// chatOptions builds the agent, or the options that keep chat disabled when
// the provider is not usable.
func chatOptions(
	ctx context.Context,
	cfg *config.Config,
	registry *tools.Registry,
	gw *gateway.Gateway,
	observer agent.ToolObserver,
	checkProvider bool,
) ([]httpapi.Option, error) {
	info := httpapi.ProviderInfo{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		KeyConfigured: cfg.ValidateCredential() == nil,
	}

	if err := cfg.ValidateCredential(); err != nil {
		log.Error("Chat is disabled: %v", err)
		return []httpapi.Option{httpapi.WithChatDisabled(err), httpapi.WithProvider(info, nil)}, nil
	}

	client, err := llm.New(cfg.LLM, nil)
	if err != nil {
		log.Error("Chat is disabled: %v", err)
		return []httpapi.Option{httpapi.WithChatDisabled(err), httpapi.WithProvider(info, nil)}, nil
	}
	pinger, _ := client.(llm.Pinger)
	opts := []httpapi.Option{httpapi.WithProvider(info, pinger)}

	if checkProvider && pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.LLM.Timeout)
		err := pinger.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Error("Chat is disabled, provider %s is unreachable: %v", client.Name(), err)
			return append(opts, httpapi.WithChatDisabled(errors.Wrap(err, "provider unreachable at startup"))), nil
		}
	}

	loopOpts := []agent.Option{
		agent.WithMaxRounds(cfg.Agent.MaxRounds),
		agent.WithToolConcurrency(cfg.Agent.ToolConcurrency),
		agent.WithLanguageHint(cfg.Agent.LanguageHint),
	}
	if observer != nil {
		loopOpts = append(loopOpts, agent.WithObserver(observer))
	}
	loop, err := agent.NewLoop(client, registry, gw, loopOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "build agent loop")
	}
	log.Info("Chat enabled with %s, %d tools, at most %d rounds", client.Name(), registry.Count(), loop.MaxRounds())
	return append(opts, httpapi.WithAgent(loop)), nil
}

// probeScheduler registers the backend probe and runs it once right away so
// the health endpoint has data before the first tick.
type probeScheduler struct {
	probe *monitor.Probe
	cron  *cron.Cron
	expr  string
}

func (p probeScheduler) Schedule(ctx context.Context) error {
	if err := p.probe.Schedule(p.cron, p.expr); err != nil {
		return err
	}
	go p.probe.Run(ctx)
	return nil
}

func stopCron(engine cronEngine) {
	select {
	case <-engine.Stop().Done():
	case <-time.After(cronStopTimeout):
		log.Warn("Backend probe still running after %s, exiting anyway", cronStopTimeout)
	}
}

func runWithComponents(
	ctx context.Context,
	cfg *config.Config,
	sched scheduler,
	engine cronEngine,
	httpSrv httpServer,
) error {
	if sched != nil {
		if err := sched.Schedule(ctx); err != nil {
			return errors.Wrap(err, "schedule backend probe")
		}
		engine.Start()
		defer stopCron(engine)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		errCh <- httpSrv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown http server")
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	}
}
