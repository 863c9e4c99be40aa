// Package server implements the loopback JSON bridge used by the desktop UI to reach the ledger.
// Every endpoint maps to a single repository, config store or upload manager operation.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/nanoledger/app/apikey"
	"github.com/umputun/nanoledger/app/common"
	"github.com/umputun/nanoledger/app/jobs"
	"github.com/umputun/nanoledger/app/store/enums"
	"github.com/umputun/nanoledger/app/uploads"
)

// Server is the http bridge
type Server struct {
	jobs          JobsRepo
	keys          KeyStore
	uploads       Uploader
	dataDir       string
	version       string
	uploadLimiter *limiter.Limiter
	csrf          *http.CrossOriginProtection // rejects browser requests made by other sites
}

// JobsRepo defines job ledger operations exposed over http
type JobsRepo interface {
	List(ctx context.Context, filter enums.Filter) ([]jobs.Job, error)
	Get(ctx context.Context, id string) (jobs.JobWithItems, error)
	CreateTextToImage(ctx context.Context, req jobs.TextToImageRequest) (jobs.JobWithItems, error)
	CreateImageToImage(ctx context.Context, req jobs.ImageToImageRequest) (jobs.JobWithItems, error)
	Delete(ctx context.Context, id string) error
	RecomputeAggregates(ctx context.Context, jobID string) (jobs.Job, error)
	SetBatch(ctx context.Context, id string, batch jobs.Batch) (jobs.Job, error)
	PendingItems(ctx context.Context, limit int) ([]jobs.JobItem, error)
	TransitionItem(ctx context.Context, itemID string, t jobs.Transition) (jobs.JobItem, error)
}

// KeyStore defines api key operations. The raw key is deliberately not part of it.
type KeyStore interface {
	Status(ctx context.Context) (apikey.Status, error)
	Save(ctx context.Context, key string) error
	Delete(ctx context.Context) error
}

// Uploader defines upload manager operations
type Uploader interface {
	Upload(ctx context.Context, paths []string) ([]uploads.File, error)
	DataURL(path string) (string, error)
	Delete(path string) error
}

// Config holds server dependencies and settings
type Config struct {
	Jobs       JobsRepo
	Keys       KeyStore
	Uploads    Uploader
	DataDir    string // reported by health, disk usage is measured here
	Version    string
	UploadRate float64 // upload requests per second, 0 for default
}

// New makes the server
func New(cfg Config) (*Server, error) {
	if cfg.Jobs == nil || cfg.Keys == nil || cfg.Uploads == nil {
		return nil, fmt.Errorf("server initialization failed: jobs, keys and uploads are required")
	}
	rate := cfg.UploadRate
	if rate <= 0 {
		rate = 5
	}
	lmt := tollbooth.NewLimiter(rate, nil)
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
	lmt.SetMessageContentType("application/json")
	msg, err := json.Marshal(ErrorResponse{Error: "too many upload requests", Kind: common.KindRateLimit})
	if err != nil {
		return nil, fmt.Errorf("can't make rate limit message: %w", err)
	}
	lmt.SetMessage(string(msg))

	s := &Server{
		jobs:          cfg.Jobs,
		keys:          cfg.Keys,
		uploads:       cfg.Uploads,
		dataDir:       cfg.DataDir,
		version:       cfg.Version,
		uploadLimiter: lmt,
		csrf:          http.NewCrossOriginProtection(),
	}
	s.csrf.SetDenyHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[WARN] rejected cross-origin %s %s, origin %q", r.Method, r.URL.Path, r.Header.Get("Origin"))
		s.writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "cross-origin request rejected", Kind: common.KindPermission})
	}))
	return s, nil
}

// Run starts the server and blocks until ctx is done
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting bridge server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("bridge server failed: %w", err)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("nanoledger", "umputun", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(64*1024),
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache, s.csrf.Handler)

		api.HandleFunc("GET /jobs", s.handleListJobs)
		api.HandleFunc("GET /jobs/{id}", s.handleGetJob)
		api.HandleFunc("POST /jobs/text-to-image", s.handleCreateTextToImage)
		api.HandleFunc("POST /jobs/image-to-image", s.handleCreateImageToImage)
		api.HandleFunc("DELETE /jobs/{id}", s.handleDeleteJob)
		api.HandleFunc("POST /jobs/{id}/recompute", s.handleRecompute)
		api.HandleFunc("PUT /jobs/{id}/batch", s.handleSetBatch)
		api.HandleFunc("GET /items/pending", s.handlePendingItems)
		api.HandleFunc("POST /items/{id}/transition", s.handleTransition)

		api.HandleFunc("GET /config", s.handleKeyStatus)
		api.HandleFunc("PUT /config", s.handleKeySave)
		api.HandleFunc("DELETE /config", s.handleKeyDelete)

		api.With(tollbooth.HTTPMiddleware(s.uploadLimiter)).HandleFunc("POST /uploads", s.handleUpload)
		api.HandleFunc("DELETE /uploads", s.handleDeleteUpload)
		api.HandleFunc("GET /image", s.handleImage)

		api.HandleFunc("GET /health", s.handleHealth)
		api.HandleFunc("GET /schema", s.handleSchema)
	})

	return router
}
