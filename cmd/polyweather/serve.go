package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/dantezy/polyweather/internal/api"
	"github.com/dantezy/polyweather/internal/scheduler"
	"github.com/dantezy/polyweather/internal/telegram"
)

const banner = `
            _                        _   _
 _ __   ___| |_   ___      _____  __| |_| |__   ___ _ __
| '_ \ / _ \ | | | \ \ /\ / / _ \/ _' | __| '_ \ / _ \ '__|
| |_) | (_) | | |_| |\ V  V /  __/ (_| | |_| | | |  __/ |
| .__/ \___/|_|\__, | \_/\_/ \___|\__,_|\__|_| |_|\___|_|
|_|            |___/

Dynamic ensemble blending for daily high settlements
`

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, finalize scheduler and notifications",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Print(banner)
	fmt.Println(strings.Repeat("-", 60))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Printf("database:         %s", cfg.DBPath)
	log.Printf("lock timeout:     %s", cfg.LockTimeout)
	log.Printf("deb window:       %d days (min %d, ε %.2f)", cfg.DEBWindow, cfg.MinHistoryDays, cfg.DEBEpsilon)
	log.Printf("model share:      %.0f%%", cfg.ModelShare*100)
	log.Printf("finalize every:   %s", cfg.FinalizeInterval)
	log.Printf("retention:        %d days", cfg.RetentionDays)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, st, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Initialize telegram (optional)
	var tg *telegram.Bot
	if cfg.HasTelegram() {
		log.Println("initializing telegram bot...")
		tg, err = telegram.NewBot(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Printf("WARNING: telegram init failed: %v (continuing without)", err)
			tg = nil
		}
	}
	if tg == nil {
		tg, _ = telegram.NewBot("", "")
	}

	sched := scheduler.New(eng, tg, cfg.FinalizeInterval, cfg.RetentionDays)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	app := api.NewApp()
	app.Use(logger.New())
	app.Use(recover.New())
	api.RegisterRoutes(app, eng, api.Options{
		Notifier:            tg,
		NotifyLowConfidence: cfg.NotifyLowConfidence,
	})

	go func() {
		log.Printf("[api] listening on %s", cfg.HTTPAddr)
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			log.Printf("[api] server stopped: %v", err)
		}
	}()

	if err := tg.NotifyStarted(len(eng.Cities()), cfg.HTTPAddr); err != nil {
		log.Printf("[telegram] failed to send start notification: %v", err)
	}

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("[api] error during shutdown: %v", err)
	}
	if err := tg.NotifyStopped(); err != nil {
		log.Printf("[telegram] failed to send stop notification: %v", err)
	}
	return nil
}
