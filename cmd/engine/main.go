// cmd/engine/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/danmuigai/waflow-backend/internal/channel"
	"github.com/danmuigai/waflow-backend/internal/config"
	"github.com/danmuigai/waflow-backend/internal/controller"
	"github.com/danmuigai/waflow-backend/internal/db"
	"github.com/danmuigai/waflow-backend/internal/queue"
	"github.com/danmuigai/waflow-backend/internal/ratelimit"
	"github.com/danmuigai/waflow-backend/internal/repository"
	"github.com/danmuigai/waflow-backend/internal/service"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Warn("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("configuration error")
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer database.Close()

	contactRepo := &repository.ContactRepository{DB: database}
	messageRepo := &repository.MessageRepository{DB: database}
	ruleRepo := &repository.RuleRepository{DB: database}
	campaignRepo := &repository.CampaignRepository{DB: database}
	rollupRepo := &repository.RollupRepository{DB: database}

	var q queue.Queue
	if cfg.AMQPURL != "" {
		amqpQueue, err := queue.DialAMQP(cfg.AMQPURL, log)
		if err != nil {
			log.WithError(err).Fatal("AMQP connection failed")
		}
		defer amqpQueue.Close()
		q = amqpQueue
		log.Info("using AMQP for send retries")
	} else {
		q = queue.NewInMemoryQueue(log)
		log.Info("using in-memory queue for send retries")
	}

	client := channel.NewWhatsmeowClient(cfg.SessionDBPath, log)
	manager := channel.NewManager(client, log, cfg.AutoReconnect, cfg.ReconnectDelay)

	limiter := ratelimit.NewLimiter(cfg.RateLimitPerMin)

	messageService := &service.MessageService{
		Messages: messageRepo,
		Contacts: contactRepo,
		Log:      log,
	}
	scoringService := &service.ScoringService{
		Contacts: contactRepo,
		Log:      log,
	}
	analyticsService := &service.AnalyticsService{
		Messages: messageRepo,
		Contacts: contactRepo,
		Rollups:  rollupRepo,
		Log:      log,
	}
	broadcaster := &service.Broadcaster{
		Contacts:     contactRepo,
		Campaigns:    campaignRepo,
		Messages:     messageService,
		Limiter:      limiter,
		Sender:       manager,
		Queue:        q,
		Log:          log,
		DefaultDelay: cfg.BulkSendDelay,
	}
	ruleEngine := &service.RuleEngine{
		Rules:     ruleRepo,
		Contacts:  contactRepo,
		Messages:  messageService,
		Limiter:   limiter,
		Sender:    manager,
		Broadcast: broadcaster,
		Webhooks:  service.NewWebhookCaller(log),
		Queue:     q,
		Log:       log,
		OnRuleRun: analyticsService.RuleRan,
	}
	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		ContactRepo:  contactRepo,
		Broadcaster:  broadcaster,
		Log:          log,
	}

	engine := &service.Engine{
		Manager:        manager,
		Messages:       messageService,
		Rules:          ruleEngine,
		Scoring:        scoringService,
		Analytics:      analyticsService,
		Queue:          q,
		Log:            log,
		ReloadInterval: cfg.RuleReloadEvery,
		RetryDelay:     cfg.SendRetryDelay,
		HourlyTick:     cfg.HourlyRollupTick,
		DailyTick:      cfg.DailyRollupTick,
	}

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		log.WithError(err).Fatal("engine start failed")
	}

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
	}
	engineController := &controller.EngineController{
		Rules:    ruleEngine,
		Scoring:  scoringService,
		Contacts: contactRepo,
		Manager:  manager,
	}

	r := chi.NewRouter()

	// Campaign routes
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaignDetails)
	r.Post("/campaigns/{id}/send", campaignController.SendCampaign)
	r.Post("/campaigns/{id}/personalized-preview", campaignController.PersonalizedPreview)

	// Engine routes
	r.Post("/events", engineController.IngestEvent)
	r.Post("/rules/reload", engineController.ReloadRules)
	r.Get("/status", engineController.Status)
	r.Get("/contacts", engineController.ListContacts)
	r.Get("/contacts/{id}", engineController.GetContact)

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: r}
	go func() {
		log.Infof("HTTP API listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Infof("received %s, shutting down", s)
	case <-engine.Fatal():
		log.Error("engine hit a fatal condition, shutting down")
	}

	_ = srv.Shutdown(context.Background())
	engine.Stop()
}
