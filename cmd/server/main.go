package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jagruk/preparedness/internal/alerts"
	"jagruk/preparedness/internal/auth"
	"jagruk/preparedness/internal/backend"
	"jagruk/preparedness/internal/config"
	"jagruk/preparedness/internal/dashboard"
	"jagruk/preparedness/internal/drills"
	preparednessgrpc "jagruk/preparedness/internal/grpc"
	internalhttp "jagruk/preparedness/internal/http"
	"jagruk/preparedness/internal/jobs"
	"jagruk/preparedness/internal/logging"
	"jagruk/preparedness/internal/notify"
	"jagruk/preparedness/internal/progress"
	"jagruk/preparedness/internal/realtime"
	"jagruk/preparedness/internal/rooms"
	"jagruk/preparedness/internal/roster"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store connection failed", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer store.Close()

	hub := rooms.NewHub(logger.Named("rooms"))
	defer hub.Close()
	var publisher rooms.Publisher = hub

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatal("redis ping failed", zap.Error(err))
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		relay := rooms.NewRedisRelay(hub, redisClient, cfg.RedisChannel, logger.Named("relay"))
		publisher = relay
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error("relay stopped", zap.Error(err))
			}
		}()
	}

	var mailer notify.Mailer = notify.NewLogMailer(logger.Named("mail"))
	if cfg.SendgridAPIKey != "" {
		mailer = notify.NewSendgridMailer(cfg.SendgridAPIKey, cfg.AlertEmailFrom)
	}
	notifier := notify.NewAlertNotifier(mailer, cfg.AlertEmailRecipients, logger.Named("notify"))
	defer notifier.Wait()

	rosterSvc := roster.NewService(store.Repo, logger.Named("roster"))
	drillSvc := drills.NewService(store.Repo, rosterSvc, publisher, logger.Named("drills"))
	alertSvc := alerts.NewService(store.Repo, publisher, notifier, logger.Named("alerts"))
	progressSvc := progress.NewService(store.Repo, rosterSvc, publisher, logger.Named("progress"))
	dashboardSvc := dashboard.NewService(drillSvc, alertSvc, progressSvc, hub)

	wsServer := realtime.NewServer(hub, publisher, logger.Named("realtime"), realtime.Options{
		SendBuffer:     cfg.WSSendBuffer,
		PingInterval:   cfg.WSPingInterval,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	server := internalhttp.NewServer(auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer), internalhttp.Services{
		Roster:    rosterSvc,
		Drills:    drillSvc,
		Alerts:    alertSvc,
		Progress:  progressSvc,
		Dashboard: dashboardSvc,
	}, wsServer, logger.Named("http"))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		// Websocket handlers derive from this context, so cancelling it on
		// shutdown closes hijacked connections too.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	grpcServer, err := preparednessgrpc.NewServer(cfg.ServiceAuthToken, logger.Named("grpc"))
	if err != nil {
		logger.Fatal("grpc service auth init failed", zap.Error(err))
	}

	expiry := jobs.NewAlertExpiry(alertSvc, cfg.AlertExpiryTimeout, logger.Named("jobs"))
	scheduler, err := jobs.StartAlertExpiry(ctx, cfg.AlertExpirySchedule, expiry, logger.Named("jobs"))
	if err != nil {
		logger.Fatal("alert expiry job init failed", zap.String("schedule", cfg.AlertExpirySchedule), zap.Error(err))
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	go func() {
		listener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("grpc listen error", zap.Error(err))
		}
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(listener); err != nil {
			logger.Fatal("grpc server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.SetServing(false)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	wsServer.Wait()
	<-scheduler.Stop().Done()
	grpcServer.Stop()
}
