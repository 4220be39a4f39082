package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/SirClappington/maintd/internal/domain"
	"github.com/SirClappington/maintd/internal/queue"
	"github.com/SirClappington/maintd/internal/storage"
)

// Jobs is the job service surface the HTTP layer calls into.
type Jobs interface {
	Create(ctx context.Context, p domain.JobParams) (*domain.Job, error)
	Update(ctx context.Context, id string, c domain.JobChanges) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, opts storage.ListOpts) ([]*domain.Job, error)
	AttachReference(ctx context.Context, id string, ref domain.Reference) (*domain.Job, error)
	DetachReference(ctx context.Context, id string, ref domain.Reference) error
}

// QueueStats reports the deferred action backlog.
type QueueStats interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// Pinger is checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Server struct {
	jobs   Jobs
	queue  QueueStats
	checks map[string]Pinger
	log    *zap.Logger
}

func NewServer(jobs Jobs, queue QueueStats, checks map[string]Pinger, log *zap.Logger) *Server {
	return &Server{jobs: jobs, queue: queue, checks: checks, log: log}
}

func (s *Server) Routes() http.Handler {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.RealIP)
	rtr.Use(requestLogger(s.log))
	rtr.Use(middleware.Recoverer)

	rtr.Get("/healthz", s.health)
	rtr.Get("/v1/stats", s.stats)

	rtr.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", s.createJob)
		r.Get("/", s.listJobs)
		r.Get("/{id}", s.getJob)
		r.Patch("/{id}", s.updateJob)
		r.Post("/{id}/references", s.attachReference)
		r.Delete("/{id}/references/{type}/{refID}", s.detachReference)
	})
	return rtr
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	code := http.StatusOK
	for name, c := range s.checks {
		if err := c.Ping(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, map[string]any{"status": status})
}
