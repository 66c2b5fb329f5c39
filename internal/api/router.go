// Package api exposes the MonitorService over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vietddude/dropwatch/internal/control/monitor"
	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/indexing/scheduler"
)

// Service is the MonitorService surface served over HTTP.
type Service interface {
	AddWallet(ctx context.Context, req monitor.AddWalletRequest) error
	RemoveWallet(ctx context.Context, address, userID string, fid int64) (bool, error)
	Snapshot() monitor.Snapshot
	CheckNewTransactions(ctx context.Context, wallets []string, since time.Time, limit int) monitor.CheckResult
	WalletActivity(ctx context.Context, address string, limit int) ([]domain.ClassifiedTransaction, error)
	ValidateWallet(ctx context.Context, address string) monitor.Validation
	SendNotification(ctx context.Context, req monitor.SendRequest) (domain.DispatchResult, error)
	HandleWebhook(ctx context.Context, body []byte) (monitor.WebhookEvent, error)
}

// StatusProvider reports the scheduler's per-address state.
type StatusProvider interface {
	Status() []scheduler.AddressStatus
}

// NewRouter builds the HTTP handler. status may be nil.
func NewRouter(svc Service, status StatusProvider) http.Handler {
	h := &handler{svc: svc, status: status, log: slog.Default().With("component", "api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/monitor-wallets", h.monitorWallets)
		r.Get("/monitor-wallets", h.snapshot)
		r.Post("/check-new-transactions", h.checkNewTransactions)
		r.Post("/get-wallet-activity", h.walletActivity)
		r.Post("/get-base-transactions", h.walletActivity)
		r.Post("/validate-wallet", h.validateWallet)
		r.Get("/validate-wallet", h.validateWallet)
		r.Post("/send-notification", h.sendNotification)
		r.Post("/webhook", h.webhook)
		r.Get("/status", h.schedulerStatus)
	})
	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// Server serves the API router.
type Server struct {
	server *http.Server
}

// NewServer creates an API server listening on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{server: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Start blocks serving requests until Stop.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
