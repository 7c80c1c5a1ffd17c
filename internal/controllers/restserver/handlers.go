package restserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/chrissnell/model3d/internal/storage"
	"github.com/chrissnell/model3d/internal/types"
	"github.com/chrissnell/model3d/pkg/responseformat"
)

const healthTimeout = 5 * time.Second

// Handlers contains all HTTP handlers for the results server
type Handlers struct {
	reader    storage.ResultReader
	formatter *responseformat.Formatter
	logger    *zap.SugaredLogger
}

// NewHandlers creates a new handlers instance
func NewHandlers(reader storage.ResultReader, logger *zap.SugaredLogger) *Handlers {
	return &Handlers{
		reader:    reader,
		formatter: responseformat.NewFormatter(),
		logger:    logger,
	}
}

// GetRuns lists the stored runs, newest first.
func (h *Handlers) GetRuns(w http.ResponseWriter, req *http.Request) {
	runs, err := h.reader.Runs(req.Context())
	if err != nil {
		h.storageError(w, req, err)
		return
	}
	h.write(w, req, transformRuns(runs))
}

// GetRun returns the summary of run {run}.
func (h *Handlers) GetRun(w http.ResponseWriter, req *http.Request) {
	run, err := h.reader.Run(req.Context(), mux.Vars(req)["run"])
	if err != nil {
		h.storageError(w, req, err)
		return
	}
	h.write(w, req, transformRun(run))
}

// GetRunEvents returns a page of the results of run {run}. The status, limit
// and offset query parameters narrow the page.
func (h *Handlers) GetRunEvents(w http.ResponseWriter, req *http.Request) {
	runID := mux.Vars(req)["run"]
	q, err := parseQuery(req)
	if err != nil {
		h.formatter.WriteError(w, req, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.reader.Run(req.Context(), runID); err != nil {
		h.storageError(w, req, err)
		return
	}
	results, err := h.reader.Results(req.Context(), runID, q)
	if err != nil {
		h.storageError(w, req, err)
		return
	}

	resp := &EventsResponse{
		RunID:  runID,
		Count:  len(results),
		Offset: q.Offset,
		Events: make([]*FitResponse, 0, len(results)),
	}
	for i := range results {
		resp.Events = append(resp.Events, transformResult(&results[i], false))
	}
	h.write(w, req, resp)
}

// GetRunEvent returns one event of run {run}, with its covariance.
func (h *Handlers) GetRunEvent(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	eventID, err := strconv.ParseUint(vars["event"], 10, 64)
	if err != nil {
		h.formatter.WriteError(w, req, http.StatusBadRequest, "invalid event id")
		return
	}
	r, err := h.reader.Result(req.Context(), vars["run"], eventID)
	if err != nil {
		h.storageError(w, req, err)
		return
	}
	h.write(w, req, transformResult(r, true))
}

// GetHealth pings the store when it supports it.
func (h *Handlers) GetHealth(w http.ResponseWriter, req *http.Request) {
	p, ok := h.reader.(storage.Pinger)
	if !ok {
		h.write(w, req, &HealthResponse{Status: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), healthTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		h.logger.Warnw("result store health check failed", "error", err)
		h.formatter.WriteStatus(w, req, http.StatusServiceUnavailable, &HealthResponse{Status: "unavailable", Error: err.Error()}, nil)
		return
	}
	h.write(w, req, &HealthResponse{Status: "ok"})
}

func parseQuery(req *http.Request) (storage.Query, error) {
	var q storage.Query
	v := req.URL.Query()

	if s := v.Get("status"); s != "" {
		switch st := types.FitStatus(s); st {
		case types.StatusConverged, types.StatusNotConverged, types.StatusRejected, types.StatusFailed:
			q.Status = st
		default:
			return q, fmt.Errorf("invalid status %q", s)
		}
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &q.Limit}, {"offset", &q.Offset}} {
		s := v.Get(p.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid %s %q", p.name, s)
		}
		*p.dst = n
	}
	return q, nil
}

func (h *Handlers) write(w http.ResponseWriter, req *http.Request, data any) {
	if err := h.formatter.WriteResponse(w, req, data, nil); err != nil {
		h.logger.Errorw("error writing response", "path", req.URL.Path, "error", err)
	}
}

func (h *Handlers) storageError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		h.formatter.WriteError(w, req, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Errorw("result store query failed", "path", req.URL.Path, "error", err)
	h.formatter.WriteError(w, req, http.StatusInternalServerError, "result store query failed")
}
