package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/carryconnect/carryconnect/internal/config"
	"github.com/carryconnect/carryconnect/internal/database"
	"github.com/carryconnect/carryconnect/internal/handler"
	"github.com/carryconnect/carryconnect/internal/live"
	"github.com/carryconnect/carryconnect/internal/middleware"
	"github.com/carryconnect/carryconnect/internal/queue"
	"github.com/carryconnect/carryconnect/internal/repository"
	"github.com/carryconnect/carryconnect/internal/router"
	"github.com/carryconnect/carryconnect/internal/service"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	log.SetLevel(config.ParseLogLevel(cfg.LogLevel))

	db, err := database.Open(database.Options{
		User:     cfg.DBUser,
		Password: cfg.DBPass,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
		MaxOpen:  cfg.DBMaxOpen,
	})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()
	if cfg.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := database.Migrate(ctx, db, database.DialectMySQL)
		cancel()
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable: response cache and rate limiting disabled")
	} else {
		defer rdb.Close()
	}
	cacheCfg := config.LoadCacheConfig()
	rlCfg := config.LoadRateLimitConfig()

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	trips := repository.NewTripRepo(db)
	messages := repository.NewMessageRepo(db)
	markers := repository.NewReadMarkerRepo(db)
	broker := live.NewBroker()

	var events service.BookingEvents
	if cfg.AMQPEnabled {
		events = queue.NewPublisher(cfg.RabbitURL)
		consumer := queue.NewBookingLogConsumer(cfg.RabbitURL)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("booking-consumer stopped: %v", err)
			}
		}()
	}

	retry := service.DefaultRetryPolicy()
	retry.Attempts = cfg.BookingRetryAttempts
	retry.Base = cfg.BookingRetryBase

	tripSvc := service.NewTripService(trips, users, broker)
	bookingSvc := service.NewBookingService(trips, users, broker, events, retry, cfg.AuthResolveTimeout)
	chatSvc := service.NewChatService(trips, messages, markers, broker)
	receiptSvc := service.NewReceiptService(trips, messages, markers, broker)

	// writes drop cached listings before they reply
	cache := middleware.NewRedisCache(cacheCfg, rdb)
	if cache != nil {
		tripSvc.UseListingCache(cache)
		bookingSvc.UseListingCache(cache)
	}

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(config.ParseLogLevel(cfg.LogLevel))
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.Logger())

	router.Register(e, router.Handlers{
		Auth:  handler.NewAuthHandler(cfg, users, tokens),
		Trips: handler.NewTripHandler(tripSvc, bookingSvc),
		Chat:  handler.NewChatHandler(chatSvc, receiptSvc),
		WS:    handler.NewWSHandler(tripSvc, chatSvc, receiptSvc),
	}, router.Options{
		JWTSecret: cfg.JWTSecret,
		Cache:     cache.Middleware(),
		RateLimit: middleware.NewWindowLimiter(rlCfg, rdb),
	})

	go func() {
		log.Infof("listening on %s (env=%s)", cfg.Addr(), cfg.Env)
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	bookingSvc.WaitEvents()
}
