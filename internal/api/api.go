// Package api exposes the resolver, the deferred-resolution queue and domain
// learning over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/learn"
	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/queue"
	"github.com/sells-group/entity-resolver/internal/resolver"
	"github.com/sells-group/entity-resolver/internal/tempid"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 32 << 20

// Deps are the components served by the API. Worker and Learner may be nil;
// their routes then answer 503.
type Deps struct {
	Resolver *resolver.Resolver
	Queue    queue.Store
	Worker   *queue.Worker
	Learner  *learn.Learner
	TempIDs  *tempid.Generator

	// Strategy is used when a resolve request carries none.
	Strategy      model.Strategy
	MinSampleSize int
	CORSOrigins   []string
}

// Server holds the HTTP handlers.
type Server struct {
	deps Deps
	log  *zap.Logger
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}
	return &Server{
		deps: deps,
		log:  zap.L().With(zap.String("component", "api")),
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.deps.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(s.logRequests)

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/resolve", s.resolve)
		r.Post("/queue", s.enqueue)
		r.Post("/queue/drain", s.drain)
		r.Get("/queue/stats", s.queueStats)
		r.Post("/learn", s.learn)
	})

	return r
}

// logRequests logs each completed request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.log.Info("api: request completed",
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
