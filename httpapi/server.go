package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fenrick/MiroDiagramming/cache"
	"github.com/fenrick/MiroDiagramming/idempotency"
	"github.com/fenrick/MiroDiagramming/jobs"
	"github.com/fenrick/MiroDiagramming/task"
	"github.com/fenrick/MiroDiagramming/tokenauth"
	"github.com/fenrick/MiroDiagramming/tokenauth/sealer"
	"github.com/fenrick/MiroDiagramming/upstream"
)

// Enqueuer accepts a Task for durable processing. *pipeline.Worker
// satisfies this.
type Enqueuer interface {
	Enqueue(ctx context.Context, t *task.Task) (int64, error)
}

// QueueLengther reports the current number of queued tasks, served by
// GET /api/limits. *sql.TaskStore satisfies this.
type QueueLengther interface {
	QueueLength(ctx context.Context) (int64, error)
}

// Governor is the subset of ratelimit.Governor the limits endpoint needs.
type Governor interface {
	Fill() map[string]int
}

// Config bounds request handling independent of the wired dependencies.
type Config struct {
	MaxBatchSize       int
	LogMaxEntries      int
	LogMaxPayloadBytes int
	WebhookSecret      string
	OAuthRedirectURI   string
}

// Server holds every dependency the HTTP surface calls into. All fields
// are required except WebhookSecret, which an empty Config disables (every
// webhook request is then rejected as Unauthorized).
type Server struct {
	cfg Config

	enqueuer    Enqueuer
	jobs        jobs.Store
	cacheStore  cache.Store
	queueLength QueueLengther
	governor    Governor
	idempotency *idempotency.Cache
	users       tokenauth.Store
	sealer      *sealer.Sealer
	oauth       upstream.Client

	log *slog.Logger
}

func NewServer(
	cfg Config,
	enqueuer Enqueuer,
	jobStore jobs.Store,
	cacheStore cache.Store,
	queueLength QueueLengther,
	governor Governor,
	idempotencyCache *idempotency.Cache,
	users tokenauth.Store,
	s *sealer.Sealer,
	oauthClient upstream.Client,
	log *slog.Logger,
) *Server {
	return &Server{
		cfg:         cfg,
		enqueuer:    enqueuer,
		jobs:        jobStore,
		cacheStore:  cacheStore,
		queueLength: queueLength,
		governor:    governor,
		idempotency: idempotencyCache,
		users:       users,
		sealer:      s,
		oauth:       oauthClient,
		log:         log,
	}
}

// Mux builds the complete routed handler for this server's HTTP surface.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/batch", s.handleBatch)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /api/cache/{board_id}", s.handleGetCache)
	mux.HandleFunc("GET /api/limits", s.handleLimits)
	mux.HandleFunc("GET /oauth/callback", s.handleOAuthCallback)
	mux.HandleFunc("POST /api/webhook", s.handleWebhook)
	mux.HandleFunc("POST /api/logs", s.handleLogs)
	return mux
}
