package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/api"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/broker"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/codehost"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/config"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/presence"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/service"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/slackbot"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	if cfg.Debug() {
		logger, _ = zap.NewDevelopment()
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Connect(ctx, cfg.DatabaseURL, cfg.DBConnectAttempts, cfg.DBConnectDelay, logger)
	if err != nil {
		sugar.Fatalf("failed to connect to db: %v", err)
	}
	defer func(db *sqlx.DB) {
		if err := db.Close(); err != nil {
			sugar.Errorf("failed to close db: %v", err)
		}
	}(db)

	if err := store.Migrate(db.DB, logger); err != nil {
		sugar.Fatalf("migrations failed: %v", err)
	}
	sugar.Info("migrations applied")

	var slackOpts []slack.Option
	if cfg.SlackAPIURL != "" {
		slackOpts = append(slackOpts, slack.OptionAPIURL(cfg.SlackAPIURL))
	}
	slackClient := slackbot.New(cfg.SlackBotToken, logger, slackOpts...)

	ghClient, err := codehost.New(cfg.GitHubToken, cfg.GitHubAPIURL, cfg.GitHubHost, logger)
	if err != nil {
		sugar.Fatalf("github client: %v", err)
	}

	presenceCache := presence.NewCache(presence.FromStatusSource(slackClient), cfg.PresenceExpiry)
	b := broker.New(slackClient, presenceCache, cfg.NewMembersAreReviewers, logger)
	repos := store.NewRepositories(db, logger)
	svc := service.NewService(repos, b, ghClient, cfg.PersonDeletePolicy, nil, logger)

	r := chi.NewRouter()
	r.Use(api.RequestIDMiddleware, api.LoggerMiddleware(logger), api.Recoverer(logger))
	api.RegisterRoutes(r, api.NewHandler(svc, logger), cfg.APIToken)
	if cfg.APIToken == "" {
		sugar.Warn("API_TOKEN is empty, the REST api rejects every call")
	}
	slackEvents := api.NewSlackEvents(svc, slackClient, ghClient, cfg.SlackSigningSecret, logger)
	api.RegisterSlackRoutes(r, slackEvents)
	if cfg.SlackSigningSecret == "" {
		sugar.Warn("SLACK_SIGNING_SECRET is empty, slack events are not verified")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorf("server forced to shutdown: %v", err)
	}
	// Review requests still running hold sessions; let them finish before db.Close.
	if err := slackEvents.Wait(shutdownCtx); err != nil {
		sugar.Errorf("abandoning unfinished slack work: %v", err)
	}
	sugar.Info("server stopped")
}
