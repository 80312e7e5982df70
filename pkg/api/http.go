package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sandboxfirst/uom/config"
	"github.com/sandboxfirst/uom/log"
	"github.com/sandboxfirst/uom/middleware"
	"github.com/sandboxfirst/uom/pkg/gate"
	"github.com/sandboxfirst/uom/pkg/orchestrator"
)

// ListenAndServe starts the external control API, mirroring
// api.ListenAndServe's start/wait-for-ctx/graceful-shutdown shape.
func ListenAndServe(ctx context.Context, cli config.Cli, g *gate.Gate, orch *orchestrator.Orchestrator) error {
	router := NewRouter(cli, g, orch)
	return serve(ctx, cli.HTTPAddress, router, "starting sandbox-first control API")
}

// ListenAndServeInternal starts the internal/privileged server: health and
// metrics only, bound to a separate, typically loopback-only address -
// the same external/internal split api.ListenAndServe/
// api.ListenAndServeInternal keep in catalyst-api.
func ListenAndServeInternal(ctx context.Context, cli config.Cli, orch *orchestrator.Orchestrator) error {
	router := NewInternalRouter(orch)
	return serve(ctx, cli.InternalAddress, router, "starting internal metrics server")
}

func serve(ctx context.Context, addr string, handler http.Handler, startMsg string) error {
	server := http.Server{Addr: addr, Handler: handler}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoRequestID(startMsg, "version", config.Version, "host", addr)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil && err != http.ErrServerClosed {
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// NewRouter wires every external control-API route exactly the way
// api.NewCatalystAPIRouter wires catalyst-api's: a handler collection
// constructed from the concrete collaborators, logging and auth
// middleware composed around every route.
func NewRouter(cli config.Cli, g *gate.Gate, orch *orchestrator.Orchestrator) *httprouter.Router {
	router := httprouter.New()

	withLogging := middleware.LogRequest()
	withCORS := middleware.AllowCORS()
	capacityMiddleware := middleware.CapacityMiddleware{MaxConcurrentJobs: cli.MaxConcurrentJobs}
	withCapacityChecking := capacityMiddleware.HasCapacity

	handlers := NewHandlersCollection(g, orch, cli.APIKey)

	router.GET("/ok", withLogging(handlers.Ok()))

	router.POST("/v1/process/sandbox-first",
		withLogging(withCORS(middleware.IsAuthorized(cli.APIKey,
			withCapacityChecking(orch, handlers.ProcessSandboxFirst()),
		))),
	)
	router.GET("/v1/jobs/:jobId", withLogging(withCORS(middleware.IsAuthorized(cli.APIKey, handlers.GetJob()))))
	router.GET("/v1/jobs/:jobId/stream", withLogging(withCORS(middleware.IsAuthorized(cli.APIKey, handlers.Stream()))))
	router.GET("/v1/orchestrator/stats", withLogging(withCORS(middleware.IsAuthorized(cli.APIKey, handlers.Stats()))))

	return router
}

// NewInternalRouter wires the privileged server: a healthcheck plus the
// Prometheus scrape endpoint, the same pairing
// api.NewCatalystAPIRouterInternal mounts alongside its own internal-only
// routes.
func NewInternalRouter(orch *orchestrator.Orchestrator) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest()

	handlers := NewHandlersCollection(nil, orch, "")

	router.GET("/ok", withLogging(handlers.Ok()))
	router.GET("/metrics", withLogging(adaptHandler(promhttp.Handler())))

	return router
}

// adaptHandler lets a stdlib http.Handler (promhttp.Handler here) sit
// behind an httprouter route, the same adaptation catalyst-api's
// concatHandlers performs for its own /metrics route.
func adaptHandler(h http.Handler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		h.ServeHTTP(w, r)
	}
}
