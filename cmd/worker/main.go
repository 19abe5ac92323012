package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"

	"github.com/rcabanilla/labreserve/config"
	"github.com/rcabanilla/labreserve/internal/cache"
	"github.com/rcabanilla/labreserve/internal/domain"
	"github.com/rcabanilla/labreserve/internal/kafka"
	"github.com/rcabanilla/labreserve/internal/notify"
	"github.com/rcabanilla/labreserve/internal/ping"
	"github.com/rcabanilla/labreserve/internal/repository"
	"github.com/rcabanilla/labreserve/internal/service/reservation"
)

// The worker owns every clock-driven transition: pending bookings expire and
// sessions complete here, regardless of whether any client is still polling.
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

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic)
	defer consumer.Close()

	sender := notify.NewSender()
	go func() {
		if err := consumer.Consume(ctx, func(ctx context.Context, msg kafkaGo.Message) error {
			var event kafka.BookingEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				log.Printf("decode event error: %v", err)
				return nil
			}
			return sender.Send(ctx, event)
		}); err != nil {
			log.Printf("consumer stopped: %v", err)
		}
	}()

	prober := ping.NewProber(
		cfg.Prober.Ports,
		time.Duration(cfg.Prober.TimeoutSeconds)*time.Second,
		time.Duration(cfg.Prober.CacheTTLSecond)*time.Second,
	)

	expireTicker := time.NewTicker(sweepInterval(cfg.Worker.ExpirySweepSeconds, 30*time.Second))
	defer expireTicker.Stop()
	sessionTicker := time.NewTicker(sweepInterval(cfg.Worker.SessionSweepSeconds, 30*time.Second))
	defer sessionTicker.Stop()
	suspensionTicker := time.NewTicker(sweepInterval(cfg.Worker.SuspensionSweepMinutes*60, 10*time.Minute))
	defer suspensionTicker.Stop()
	probeTicker := time.NewTicker(sweepInterval(cfg.Worker.ProbeIntervalSeconds, time.Minute))
	defer probeTicker.Stop()

	for {
		select {
		case <-expireTicker.C:
			expired, err := reservationService.ExpirePendingBookings(ctx)
			if err != nil {
				log.Printf("expire pending bookings error: %v", err)
				continue
			}
			if len(expired) > 0 {
				log.Printf("expired %d pending bookings", len(expired))
			}
		case <-sessionTicker.C:
			completed, err := reservationService.CompleteExpiredSessions(ctx)
			if err != nil {
				log.Printf("complete sessions error: %v", err)
				continue
			}
			if len(completed) > 0 {
				log.Printf("completed %d sessions", len(completed))
			}
		case <-suspensionTicker.C:
			released, err := reservationService.ReleaseElapsedSuspensions(ctx)
			if err != nil {
				log.Printf("release suspensions error: %v", err)
				continue
			}
			if released > 0 {
				log.Printf("released %d suspensions", released)
			}
		case <-probeTicker.C:
			probeFleet(ctx, resourceRepo, prober)
		case <-ctx.Done():
			log.Printf("shutting down")
			return
		}
	}
}

func probeFleet(ctx context.Context, resources repository.ResourceRepository, prober *ping.Prober) {
	list, err := resources.List(ctx)
	if err != nil {
		log.Printf("list resources for probe: %v", err)
		return
	}
	for _, res := range list {
		reachability := domainReachability(prober.Reachable(ctx, res.Addr))
		if reachability == res.Reachability {
			continue
		}
		if err := resources.UpdateReachability(ctx, res.ID, reachability); err != nil {
			log.Printf("update reachability for %s: %v", res.Name, err)
		}
	}
}

func domainReachability(reachable bool) domain.Reachability {
	if reachable {
		return domain.ReachabilityReachable
	}
	return domain.ReachabilityUnreachable
}

func sweepInterval(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
