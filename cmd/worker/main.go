package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"followup_backend/internal/email"
	"followup_backend/internal/messaging"
	"followup_backend/internal/scheduler"
	"followup_backend/platform/config"
	"followup_backend/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting delivery worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messages := messaging.NewClient(cfg, log)
	if messages == nil {
		log.Warn("message gateway not configured; message tasks will fail")
	}

	emails := email.NewSMTPSender(cfg)
	if emails == nil {
		log.Warn("SMTP not configured; email tasks will fail")
	}

	worker, err := scheduler.NewWorker(cfg, messages, emails, log)
	if err != nil {
		log.Error("failed to initialize delivery worker", "error", err)
		panic("failed to initialize delivery worker: " + err.Error())
	}

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- worker.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining in-flight tasks")
		worker.Shutdown()
	case err := <-srvErr:
		if err != nil {
			log.Error("delivery worker error", "error", err)
			panic("delivery worker error: " + err.Error())
		}
	}
}
