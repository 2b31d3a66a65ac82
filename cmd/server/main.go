package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/adiwibowo/stayreserve/internal/booking"
	"github.com/adiwibowo/stayreserve/internal/config"
	"github.com/adiwibowo/stayreserve/internal/database"
	"github.com/adiwibowo/stayreserve/internal/gateway"
	"github.com/adiwibowo/stayreserve/internal/handler"
	"github.com/adiwibowo/stayreserve/internal/outbox"
	"github.com/adiwibowo/stayreserve/internal/queue"
	"github.com/adiwibowo/stayreserve/internal/repository"
	"github.com/adiwibowo/stayreserve/internal/router"
	"github.com/adiwibowo/stayreserve/internal/scheduler"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set env directly
	cfg := config.Load()

	logrus.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Env == "dev" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		logrus.Fatal("failed to connect to redis")
	}
	defer rdb.Close()

	store := repository.NewSQLStore(db)
	gw := gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayServerKey)
	engine := booking.NewEngine(store, gw,
		time.Duration(cfg.PaymentWindowMin)*time.Minute,
		time.Duration(cfg.ReminderLeadHours)*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := scheduler.NewRedisStore(rdb)
	runner := scheduler.NewRunner(jobs)
	runner.Handle(scheduler.JobExpire, engine.ExpireTransaction)
	runner.Handle(scheduler.JobRemind, engine.SendReminder)
	runner.Handle(scheduler.JobRelease, engine.ReleaseStay)
	go runner.Run(ctx)

	publisher := queue.NewPublisher(cfg.AMQPURL)
	dispatcher := outbox.NewDispatcher(store.Outbox(), publisher, jobs)
	go dispatcher.Run(ctx)

	go func() {
		if err := queue.StartNotificationConsumer(cfg.AMQPURL); err != nil {
			logrus.WithError(err).Error("notification consumer stopped")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	router.Register(e, handler.NewReservationHandler(engine), handler.NewWebhookHandler(engine), cfg.JWTSecret)

	go func() {
		addr := ":" + cfg.Port
		logrus.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("http server listening")
		if err := e.Start(addr); err != nil {
			logrus.WithError(err).Info("http server closed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("http server shutdown failed")
	}
}
