package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/katsctl/internal/metrics"
	"github.com/loykin/katsctl/internal/preflight"
	"github.com/loykin/katsctl/internal/status"
)

// Source is observed by the API. *supervisor.Supervisor satisfies it.
type Source interface {
	Status(ctx context.Context) status.Snapshot
	Health(ctx context.Context) preflight.Report
}

// Router provides read-only HTTP handlers.
// Endpoints:
//
//	GET {basePath}/status   status document, same as `status --json`
//	GET {basePath}/health   health checklist
//	GET /metrics            Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      Source
	basePath string
	gatherer prometheus.Gatherer
}

// NewRouter constructs a Router. A nil gatherer serves the default registry.
func NewRouter(src Source, basePath string, g prometheus.Gatherer) *Router {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return &Router{src: src, basePath: sanitizeBase(basePath), gatherer: g}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/health", r.handleHealth)
	g.GET("/metrics", gin.WrapH(metrics.HandlerFor(r.gatherer)))
	return g
}

// NewServer builds an HTTP server for the router. Run it with Serve.
func NewServer(addr, basePath string, src Source, g prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(src, basePath, g).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// status samples CPU and pings the cache
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
// A server with TLSConfig set serves HTTPS from its GetCertificate.
func Serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		if srv.TLSConfig != nil {
			errc <- srv.ListenAndServeTLS("", "")
			return
		}
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if lerr := <-errc; lerr != nil && !errors.Is(lerr, http.ErrServerClosed) {
			return lerr
		}
		return err
	}
}

// --- Handlers ---

// healthCheck is one entry of the health response.
type healthCheck struct {
	Label   string `json:"label"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

type healthResp struct {
	OK     bool          `json:"ok"`
	Checks []healthCheck `json:"checks"`
}

func (r *Router) handleStatus(c *gin.Context) {
	snap := r.src.Status(c.Request.Context())
	writeJSON(c, http.StatusOK, snap.Document())
}

func (r *Router) handleHealth(c *gin.Context) {
	rep := r.src.Health(c.Request.Context())
	resp := healthResp{OK: rep.OK(), Checks: make([]healthCheck, 0, len(rep.Results))}
	for _, res := range rep.Results {
		resp.Checks = append(resp.Checks, healthCheck{Label: res.Label, Outcome: res.Outcome.String(), Detail: res.Detail})
	}
	code := http.StatusOK
	if !resp.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, resp)
}
