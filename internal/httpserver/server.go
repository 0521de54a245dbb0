// Package httpserver serves the feed generator's XRPC read surface.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gamesky/feedgen/internal/aturl"
	"github.com/gamesky/feedgen/internal/config"
	"github.com/gamesky/feedgen/internal/domain"
)

const feedGeneratorNSID = "app.bsky.feed.generator"

// Server is the HTTP server that serves feed generator XRPC endpoints.
type Server struct {
	cfg        *config.Config
	service    *domain.Service
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP server backed by the given feed service.
func NewServer(cfg *config.Config, service *domain.Service, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/did.json", s.handleDIDDoc)
	mux.HandleFunc("GET /xrpc/app.bsky.feed.describeFeedGenerator", s.handleDescribeFeedGenerator)
	mux.HandleFunc("GET /xrpc/app.bsky.feed.getFeedSkeleton", s.handleGetFeedSkeleton)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDIDDoc(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"@context": []string{"https://www.w3.org/ns/did/v1"},
		"id":       s.cfg.ServiceDID(),
		"service": []map[string]any{
			{
				"id":              "#bsky_fg",
				"type":            "BskyFeedGenerator",
				"serviceEndpoint": fmt.Sprintf("https://%s", s.cfg.Hostname),
			},
		},
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDescribeFeedGenerator(w http.ResponseWriter, _ *http.Request) {
	rkeys := s.service.Registry().RKeys()
	feedList := make([]map[string]string, 0, len(rkeys))
	for _, rkey := range rkeys {
		uri := fmt.Sprintf("at://%s/%s/%s", s.cfg.OwnerDID, feedGeneratorNSID, rkey)
		feedList = append(feedList, map[string]string{"uri": uri})
	}

	resp := map[string]any{
		"did":   s.cfg.ServiceDID(),
		"feeds": feedList,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetFeedSkeleton(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		feedDuration.Observe(time.Since(start).Seconds())
	}()

	var errs []string

	rkey := ""
	feedURI := r.URL.Query().Get("feed")
	if feedURI == "" {
		errs = append(errs, "feed parameter is required")
	} else {
		parsed, err := aturl.Parse(feedURI)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("invalid feed uri: %s", feedURI))
		default:
			if parsed.NSID != feedGeneratorNSID {
				errs = append(errs, fmt.Sprintf("unsupported namespace: %s", parsed.NSID))
			}
			if parsed.DID != s.cfg.OwnerDID {
				errs = append(errs, fmt.Sprintf("unknown feed publisher: %s", parsed.DID))
			}
			if _, ok := s.service.Registry().Lookup(parsed.RKey); !ok {
				errs = append(errs, fmt.Sprintf("unknown feed: %s", parsed.RKey))
			}
			rkey = parsed.RKey
		}
	}

	limit := domain.DefaultFeedLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid limit: %s", l))
		} else {
			limit = parsed
		}
	}

	if len(errs) > 0 {
		s.logger.Warn("rejected getFeedSkeleton request", "feed", feedURI, "errors", errs)
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}

	cursor := r.URL.Query().Get("cursor")

	page, err := s.service.GenerateFeed(r.Context(), rkey, cursor, limit)
	if err != nil {
		s.logger.Error("failed to generate feed",
			"feed", rkey,
			"limit", limit,
			"cursor", cursor,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"errors": []string{"failed to get feed"}})
		return
	}

	if cursor == "" {
		feedLoaded.WithLabelValues(rkey).Inc()
	} else {
		feedScrolled.WithLabelValues(rkey).Inc()
	}
	feedPageSize.Observe(float64(len(page.Posts)))

	resp := map[string]any{
		"feed": toSkeletonResponse(page.Posts),
	}
	if page.Cursor != "" {
		resp["cursor"] = page.Cursor
	}

	writeJSON(w, http.StatusOK, resp)
}

func toSkeletonResponse(posts []string) []map[string]string {
	result := make([]map[string]string, len(posts))
	for i, uri := range posts {
		result[i] = map[string]string{"post": uri}
	}
	return result
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
