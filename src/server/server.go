package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"

	"signalengine/src/handler"
	"signalengine/src/metrics"
	"signalengine/src/model"
	"signalengine/src/picks"
	"signalengine/src/portfolio"
)

// Ledger is everything the HTTP layer needs from the position ledger.
type Ledger interface {
	List(ctx context.Context, status string, limit int) ([]model.Position, error)
	Get(ctx context.Context, id uint) (*model.Position, error)
	Open(ctx context.Context, req portfolio.OpenRequest) (*model.Position, error)
	Close(ctx context.Context, id uint, exitPrice float64, note string) (float64, error)
	OpenPositions(ctx context.Context) ([]model.Position, error)
	Snapshot(ctx context.Context, capital float64, prices map[string]float64) (*portfolio.Snapshot, error)
	AutoClose(ctx context.Context, prices map[string]float64) ([]portfolio.AutoCloseResult, error)
}

type Picks interface {
	Generate(ctx context.Context, symbols []string) (*picks.Run, error)
	Accept(ctx context.Context, ids []string) ([]model.Position, error)
	Last() *picks.Run
}

type Deps struct {
	Ledger  Ledger
	Picks   Picks
	Prices  portfolio.PriceSource
	Capital float64
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("healthcheck write failed")
		}
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/positions", func(r chi.Router) {
		r.Get("/", handler.ListPositionsHandler(deps.Ledger))
		r.Post("/", handler.OpenPositionHandler(deps.Ledger))
		r.Get("/{id}", handler.GetPositionHandler(deps.Ledger))
		r.Post("/{id}/close", handler.ClosePositionHandler(deps.Ledger))
	})

	r.Get("/portfolio", handler.PortfolioHandler(deps.Ledger, deps.Prices, deps.Capital))
	r.Post("/portfolio/refresh", handler.RefreshHandler(deps.Ledger, deps.Prices, deps.Capital))

	r.Route("/picks", func(r chi.Router) {
		r.Post("/", handler.GeneratePicksHandler(deps.Picks))
		r.Get("/last", handler.LastPicksHandler(deps.Picks))
		r.Post("/accept", handler.AcceptPicksHandler(deps.Picks))
	})

	return r
}

// StartServer serves h until SIGINT or SIGTERM, then shuts down gracefully.
func StartServer(cfg *Config, h http.Handler) {
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		// pick runs fetch and backtest every symbol before answering
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
