package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rcabanilla/labreserve/config"
	"github.com/rcabanilla/labreserve/internal/bootstrap"
	"github.com/rcabanilla/labreserve/internal/cache"
	"github.com/rcabanilla/labreserve/internal/kafka"
	"github.com/rcabanilla/labreserve/internal/repository"
	"github.com/rcabanilla/labreserve/internal/service/reservation"
	"github.com/rcabanilla/labreserve/internal/service/status"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	redisCache := cache.NewRedisCache(cfg.Redis, time.Duration(cfg.Booking.FleetCacheTTLSeconds)*time.Second)
	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	resourceRepo := repository.NewResourceRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool)
	violationRepo := repository.NewViolationRepository(pool)

	reservationService := reservation.NewReservationService(
		bookingRepo,
		resourceRepo,
		violationRepo,
		redisCache,
		producer,
		cfg.Kafka.BookingEventsTopic,
		time.Duration(cfg.Booking.MinDurationMinutes)*time.Minute,
		time.Duration(cfg.Booking.MaxDurationMinutes)*time.Minute,
		reservation.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
	)
	statusService := status.NewStatusService(resourceRepo, bookingRepo, redisCache)

	if err := bootstrap.Run(ctx, cfg, reservationService, statusService); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
