package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"github.com/smile69cm/smile69cm/internal/config"
	"github.com/smile69cm/smile69cm/internal/executor"
	"github.com/smile69cm/smile69cm/internal/ledger"
	"github.com/smile69cm/smile69cm/internal/monitor"
	"github.com/smile69cm/smile69cm/internal/opsbot"
	"github.com/smile69cm/smile69cm/internal/pacing"
	"github.com/smile69cm/smile69cm/internal/platform"
	"github.com/smile69cm/smile69cm/internal/probe"
	"github.com/smile69cm/smile69cm/internal/session"
	"github.com/smile69cm/smile69cm/internal/store"
)

func main() {
	configPath := flag.String("config", "runtime/config.yaml", "path to config yaml")
	envPath := flag.String("env", "", "optional .env file with overrides")
	flag.Parse()
	configureLogOutput(os.Stdout)

	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			log.Fatalf("load env file: %v", err)
		}
	} else if err := godotenv.Load(); err == nil {
		log.Printf("event=env_file_loaded path=.env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	sessions, err := session.NewManager(cfg.Sessions.MonitorPath, cfg.Sessions.MainPath)
	if err != nil {
		log.Fatalf("init session manager: %v", err)
	}
	itemStore, err := store.New(cfg.Storage.ItemsPath, cfg.Storage.LegacyConfigPath)
	if err != nil {
		log.Fatalf("init item store: %v", err)
	}
	processed, err := ledger.New(cfg.Storage.LedgerPath)
	if err != nil {
		log.Fatalf("init ledger: %v", err)
	}
	pace := pacing.New()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	monitorClient := platform.NewHTTPClient(platform.Config{
		BaseURL:     cfg.Platform.BaseURL,
		HTTPClient:  httpClient,
		UserAgent:   cfg.Platform.UserAgent,
		TokenSource: func() string { return sessions.Token(session.RoleMonitor) },
	})
	mainClient := platform.NewHTTPClient(platform.Config{
		BaseURL:     cfg.Platform.BaseURL,
		HTTPClient:  httpClient,
		UserAgent:   cfg.Platform.UserAgent,
		TokenSource: func() string { return sessions.Token(session.RoleMain) },
	})

	exec := executor.New(mainClient, sessions, pace)
	runner, err := monitor.NewRunner(monitor.Config{
		Client:      monitorClient,
		Store:       itemStore,
		Ledger:      processed,
		Executor:    exec,
		Pacing:      pace,
		Sessions:    sessions,
		ReplyText:   cfg.Platform.ReplyText,
		FetchLimit:  cfg.Platform.CommentFetchLimit,
		CyclePeriod: time.Duration(cfg.Monitor.CyclePeriodSeconds) * time.Second,
		IdlePeriod:  time.Duration(cfg.Monitor.IdlePeriodSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("init monitor: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Fatalf("create telegram bot: %v", err)
	}
	ops, err := opsbot.New(opsbot.Config{
		API:               botAPI,
		AdminChatID:       cfg.Telegram.AdminChatID,
		Store:             itemStore,
		Sessions:          sessions,
		TriggerScan:       runner.RunCycle,
		CooldownRemaining: pace.CooldownRemaining,
		DMRecipients:      exec.RecipientCount,
	})
	if err != nil {
		log.Fatalf("init operator bot: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Probe.Enabled {
		probeRunner, err := probe.NewRunner(cfg.Probe.Cron, cfg.Probe.Timezone, sessions, []probe.Check{
			{Role: session.RoleMonitor, Client: monitorClient},
			{Role: session.RoleMain, Client: mainClient},
		})
		if err != nil {
			log.Fatalf("init session probe: %v", err)
		}
		probeRunner.Start(ctx)
	}

	go runner.Start(ctx)
	go ops.Run(ctx)

	log.Printf(
		"keywatch started: base_url=%s items=%d monitor_session=%t main_session=%t probe_enabled=%t",
		cfg.Platform.BaseURL,
		len(itemStore.List()),
		sessions.Has(session.RoleMonitor),
		sessions.Has(session.RoleMain),
		cfg.Probe.Enabled,
	)

	<-ctx.Done()
	stop()
	log.Printf("event=shutdown_started")
	runShutdownStep("ledger_persist", 2*time.Second, func() {
		if err := processed.Persist(); err != nil {
			log.Printf("event=ledger_persist_failed err=%v", err)
		}
	})
	runShutdownStep("legacy_sync", 2*time.Second, func() {
		if err := itemStore.SyncLegacy(); err != nil {
			log.Printf("event=legacy_sync_failed err=%v", err)
		}
	})
	log.Printf("keywatch stopped")
}

func runShutdownStep(name string, timeout time.Duration, fn func()) bool {
	if fn == nil {
		return false
	}
	started := time.Now()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	if timeout <= 0 {
		<-done
		log.Printf("event=shutdown_step_completed step=%s latency_ms=%d", name, durationMS(time.Since(started)))
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		log.Printf("event=shutdown_step_completed step=%s latency_ms=%d", name, durationMS(time.Since(started)))
		return false
	case <-timer.C:
		log.Printf("event=shutdown_step_timeout step=%s timeout_ms=%d", name, durationMS(timeout))
		return true
	}
}

func durationMS(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return d.Milliseconds()
}
