package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/zaneops/compose-core/internal/cloner"
	"github.com/zaneops/compose-core/internal/domain"
	"github.com/zaneops/compose-core/internal/ledger"
	"github.com/zaneops/compose-core/internal/orchestrator"
	"github.com/zaneops/compose-core/internal/store"
)

// DeployStarter starts (or cancels) the durable deploy workflow, implemented
// by internal/workflow.Starter.
type DeployStarter interface {
	StartDeploy(ctx context.Context, deployment *domain.ComposeStackDeployment) error
	CancelDeploy(ctx context.Context, stackID string) error
}

// ArchiveStarter starts the teardown workflow for a deleted stack,
// implemented by internal/workflow.Starter.
type ArchiveStarter interface {
	StartArchive(ctx context.Context, snapshot domain.StackSnapshot, deleteConfigs, deleteVolumes bool) error
}

// Scheduler creates and removes the per-stack Monitor/Metrics schedules,
// implemented by internal/monitor.Scheduler.
type Scheduler interface {
	EnsureSchedules(ctx context.Context, stackID string) error
	RemoveSchedules(ctx context.Context, stackID string) error
}

// Server bundles the collaborators every handler needs and exposes the
// assembled chi.Router.
type Server struct {
	store     *store.Store
	ledger    *ledger.Ledger
	cloner    *cloner.Cloner
	orch      orchestrator.Client
	deploys   DeployStarter
	archiver  ArchiveStarter
	scheduler Scheduler
	logger    *logrus.Logger
}

// New builds a Server. cloner, archiver, and scheduler may be nil when that
// capability is not wired (e.g. in tests exercising only the Change Ledger
// endpoints).
func New(
	s *store.Store,
	l *ledger.Ledger,
	cl *cloner.Cloner,
	orch orchestrator.Client,
	deploys DeployStarter,
	archiver ArchiveStarter,
	scheduler Scheduler,
	logger *logrus.Logger,
) *Server {
	return &Server{
		store:     s,
		ledger:    l,
		cloner:    cl,
		orch:      orch,
		deploys:   deploys,
		archiver:  archiver,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Router assembles the HTTP surface spec.md §6 describes, under
// /projects/<projectSlug>/<envName>/stacks/... plus the unscoped tokened
// webhook route.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Put("/stacks/webhook/{token}", s.handleWebhookDeploy)
	r.Post("/webhooks/git/{projectSlug}", s.handleGitWebhook)

	r.Route("/projects/{projectSlug}/{envName}/stacks", func(r chi.Router) {
		r.Get("/", s.handleListStacks)
		r.Post("/", s.handleCreateStack)
		r.Post("/from-dokploy", s.handleCreateStackFromDokploy)

		r.Route("/{stackSlug}", func(r chi.Router) {
			r.Get("/", s.handleGetStack)
			r.Delete("/", s.handleArchiveStack)
			r.Put("/request-change", s.handleRequestChange)
			r.Put("/deploy", s.handleDeploy)
			r.Put("/toggle", s.handleToggle)

			r.Get("/deployments/{hash}", s.handleGetDeployment)
			r.Put("/deployments/{hash}/cancel", s.handleCancelDeployment)
		})
	})

	return r
}

// requestLogger logs each request's method, path, status, and duration at
// Info level, grounded on the teacher's structured-logrus-per-request idiom
// (internal/controller logging via logr wrapping logrus.Entry).
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Info("handled request")
	})
}

// stackContext resolves the (project, environment, stack) path parameters
// shared by every /stacks/<slug>/... route.
func (s *Server) stackContext(r *http.Request) (*domain.ComposeStack, error) {
	ctx := r.Context()
	project, err := s.store.Projects.GetBySlug(ctx, chi.URLParam(r, "projectSlug"))
	if err != nil {
		return nil, err
	}
	env, err := s.store.Environments.GetByName(ctx, project.ID, chi.URLParam(r, "envName"))
	if err != nil {
		return nil, err
	}
	return s.store.Stacks.GetBySlug(ctx, env.ID, chi.URLParam(r, "stackSlug"))
}
