package api

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/normalize"
	"github.com/sells-group/entity-resolver/internal/queue"
	"github.com/sells-group/entity-resolver/internal/tempid"
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResolveRequest is the body of POST /v1/resolve.
type ResolveRequest struct {
	Rows     []model.Row     `json:"rows"`
	Strategy *model.Strategy `json:"strategy,omitempty"`
}

// ResolveResponse is the answer to POST /v1/resolve.
type ResolveResponse struct {
	Rows       []model.ResolvedRow `json:"rows"`
	Statistics model.Statistics    `json:"statistics"`
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "rows is required")
		return
	}
	strategy := s.deps.Strategy
	if req.Strategy != nil {
		strategy = *req.Strategy
	}
	if err := strategy.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, stats := s.deps.Resolver.ResolveBatch(r.Context(), req.Rows, strategy)
	writeJSON(w, http.StatusOK, ResolveResponse{Rows: rows, Statistics: stats})
}

// EnqueueRequest is the body of POST /v1/queue. TempID is derived from the
// name when omitted.
type EnqueueRequest struct {
	Name   string `json:"name"`
	TempID string `json:"temp_id,omitempty"`
}

// EnqueueResponse is the answer to POST /v1/queue.
type EnqueueResponse struct {
	Enqueued       bool   `json:"enqueued"`
	NormalizedName string `json:"normalized_name"`
	TempID         string `json:"temp_id"`
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue is not configured")
		return
	}
	var req EnqueueRequest
	if !decode(w, r, &req) {
		return
	}
	name := normalize.Name(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is empty after normalization")
		return
	}

	id := strings.ToUpper(strings.TrimSpace(req.TempID))
	switch {
	case id == "" && s.deps.TempIDs != nil:
		id = s.deps.TempIDs.Generate(name)
	case id == "":
		writeError(w, http.StatusBadRequest, "temp_id is required")
		return
	case !tempid.IsTemp(id):
		writeError(w, http.StatusBadRequest, "temp_id is not a temporary identifier")
		return
	}

	ok, err := s.deps.Queue.Enqueue(r.Context(), req.Name, id)
	if errors.Is(err, queue.ErrEmptyName) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.log.Error("api: enqueue failed", zap.String("name", req.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, EnqueueResponse{Enqueued: ok, NormalizedName: name, TempID: id})
}

func (s *Server) drain(w http.ResponseWriter, r *http.Request) {
	if s.deps.Worker == nil {
		writeError(w, http.StatusServiceUnavailable, "worker is not configured")
		return
	}
	res, err := s.deps.Worker.DrainQueueOnce(r.Context())
	if err != nil {
		s.log.Error("api: drain failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "drain failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue is not configured")
		return
	}
	counts, err := s.deps.Queue.Counts(r.Context())
	if err != nil {
		s.log.Error("api: queue counts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "queue counts failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]model.QueueCounts{"counts": counts})
}

// LearnRequest is the body of POST /v1/learn. Bindings default to the
// server strategy and MinSampleSize to the configured minimum.
type LearnRequest struct {
	Rows          []model.ResolvedRow `json:"rows"`
	Bindings      []model.Binding     `json:"bindings,omitempty"`
	Domain        string              `json:"domain"`
	Table         string              `json:"table"`
	MinSampleSize *int                `json:"min_sample_size,omitempty"`
}

func (s *Server) learn(w http.ResponseWriter, r *http.Request) {
	if s.deps.Learner == nil {
		writeError(w, http.StatusServiceUnavailable, "learning is not configured")
		return
	}
	var req LearnRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Domain) == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	bindings := req.Bindings
	if len(bindings) == 0 {
		bindings = s.deps.Strategy.Bindings
	}
	check := model.Strategy{Bindings: bindings}
	if err := check.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minSample := s.deps.MinSampleSize
	if req.MinSampleSize != nil {
		minSample = *req.MinSampleSize
	}

	st := s.deps.Learner.LearnFromBatch(r.Context(), req.Rows, bindings, req.Domain, req.Table, minSample)
	writeJSON(w, http.StatusOK, st)
}
