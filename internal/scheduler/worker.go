package scheduler

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"followup_backend/internal/email"
	"followup_backend/internal/messaging"
	"followup_backend/platform/config"
	"followup_backend/platform/logger"
)

// Worker consumes delivery tasks from the queue and hands them to the
// gateway clients.
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	messages *messaging.Client
	emails   *email.SMTPSender
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, messages *messaging.Client, emails *email.SMTPSender, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		messages: messages,
		emails:   emails,
		log:      log,
	}

	mux.HandleFunc(TaskSendMessage, w.handleSendMessage)
	mux.HandleFunc(TaskSendEmail, w.handleSendEmail)

	return w, nil
}

func (w *Worker) handleSendMessage(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseSendMessagePayload(task)
	if err != nil {
		return err
	}

	if err := w.messages.SendMessage(ctx, payload.Phone, payload.Body); err != nil {
		w.log.ExternalCallError("messaging", "send_message", err)
		return err
	}

	w.log.Info("follow-up message delivered", "ref", payload.Ref)
	return nil
}

func (w *Worker) handleSendEmail(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseSendEmailPayload(task)
	if err != nil {
		return err
	}

	if err := w.emails.Send(ctx, payload.Email, payload.Subject, payload.Body); err != nil {
		w.log.ExternalCallError("email", "send", err)
		return err
	}

	w.log.Info("follow-up email delivered", "ref", payload.Ref)
	return nil
}

// Start runs the asynq server. Blocks until Shutdown is called.
func (w *Worker) Start() error {
	return w.server.Run(w.mux)
}

// Shutdown stops the asynq server gracefully.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
