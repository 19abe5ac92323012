package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/rcabanilla/labreserve/api"
	"github.com/rcabanilla/labreserve/config"
	"github.com/rcabanilla/labreserve/internal/mw"
	"github.com/rcabanilla/labreserve/internal/service/reservation"
	"github.com/rcabanilla/labreserve/internal/service/status"
)

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails.
func Run(ctx context.Context, cfg *config.Config, reservations reservation.ReservationUseCase, statuses status.StatusUseCase) error {
	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: NewRouter(cfg, reservations, statuses),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

// NewRouter wires the API group: identity headers, per-IP rate limiting, and
// the booking and resource handlers.
func NewRouter(cfg *config.Config, reservations reservation.ReservationUseCase, statuses status.StatusUseCase) *gin.Engine {
	r := gin.Default()

	rps := cfg.HTTP.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.HTTP.RateLimitBurst
	if burst <= 0 {
		burst = 5
	}

	apiGroup := r.Group("/api")
	apiGroup.Use(mw.RateLimiter(rate.Limit(rps), burst), api.Identity())

	api.NewBookingHandler(reservations, statuses).Register(apiGroup.Group("/bookings"))
	api.NewResourceHandler(statuses).Register(apiGroup.Group("/resources"))

	return r
}
