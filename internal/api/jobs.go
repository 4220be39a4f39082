package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/maintd/internal/domain"
	"github.com/SirClappington/maintd/internal/storage"
)

const maxLimit = 500

type createJobRequest struct {
	Type        string          `json:"type"`
	Description string          `json:"description"`
	State       string          `json:"state"`
	StartAt     json.RawMessage `json:"start_at"`
	FinishAt    json.RawMessage `json:"finish_at"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	var invalid []domain.FieldError
	startAt := instant("start_at", req.StartAt, &invalid)
	finishAt := instant("finish_at", req.FinishAt, &invalid)
	if len(invalid) > 0 {
		s.fail(w, r, &domain.ValidationError{Fields: invalid})
		return
	}

	j, err := s.jobs.Create(r.Context(), domain.JobParams{
		Type:        req.Type,
		Description: req.Description,
		State:       req.State,
		StartAt:     startAt,
		FinishAt:    finishAt,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (s *Server) updateJob(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	c, invalid, err := decodeChanges(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(invalid) > 0 {
		s.fail(w, r, &domain.ValidationError{Fields: invalid})
		return
	}

	j, err := s.jobs.Update(r.Context(), chi.URLParam(r, "id"), c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// decodeChanges reads a PATCH body. An explicit null finish_at clears it.
// Unreadable or null timestamps come back as field errors.
func decodeChanges(raw map[string]json.RawMessage) (domain.JobChanges, []domain.FieldError, error) {
	var c domain.JobChanges
	for _, f := range []struct {
		key string
		dst **string
	}{{"type", &c.Type}, {"description", &c.Description}, {"state", &c.State}} {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		var s *string
		if err := json.Unmarshal(v, &s); err != nil {
			return c, nil, errors.Errorf("%s must be a string", f.key)
		}
		if s == nil {
			empty := ""
			s = &empty
		}
		*f.dst = s
	}

	var invalid []domain.FieldError
	if v, ok := raw["start_at"]; ok {
		c.StartAt = instant("start_at", v, &invalid)
		if c.StartAt == nil && len(invalid) == 0 {
			invalid = append(invalid, domain.FieldError{Field: "start_at", Message: domain.MsgBlank})
		}
	}
	if v, ok := raw["finish_at"]; ok {
		c.FinishAt = instant("finish_at", v, &invalid)
		c.SetFinishAt = true
	}
	return c, invalid, nil
}

// instant decodes an optional RFC 3339 timestamp. A value that is present
// but unreadable is appended to invalid as an invalid date.
func instant(field string, raw json.RawMessage, invalid *[]domain.FieldError) *time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &t
		}
	}
	*invalid = append(*invalid, domain.FieldError{Field: field, Message: domain.MsgInvalidDate})
	return nil
}

type referenceRequest struct {
	Type string `json:"reference_type"`
	ID   string `json:"reference_id"`
}

func (s *Server) attachReference(w http.ResponseWriter, r *http.Request) {
	var req referenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	j, err := s.jobs.AttachReference(r.Context(), chi.URLParam(r, "id"),
		domain.Reference{Type: domain.ReferenceType(req.Type), ID: req.ID})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (s *Server) detachReference(w http.ResponseWriter, r *http.Request) {
	ref := domain.Reference{
		Type: domain.ReferenceType(chi.URLParam(r, "type")),
		ID:   chi.URLParam(r, "refID"),
	}
	if err := s.jobs.DetachReference(r.Context(), chi.URLParam(r, "id"), ref); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.queue.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	var opts storage.ListOpts
	q := r.URL.Query()
	if v := q.Get("state"); v != "" {
		st, ok := domain.ParseState(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown state "+strconv.Quote(v))
			return
		}
		opts.State = &st
	}
	var err error
	if opts.Limit, err = intParam(q.Get("limit"), 100); err != nil || opts.Limit < 1 || opts.Limit > maxLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxLimit))
		return
	}
	if opts.Offset, err = intParam(q.Get("offset"), 0); err != nil || opts.Offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	list, err := s.jobs.List(r.Context(), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": list, "meta": map[string]int{"count": len(list)}})
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// fail maps service errors onto responses: validation failures become 422
// with a field to messages map, unknown ids 404, everything else 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": ve.Map()})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrReferenceNotFound):
		writeError(w, http.StatusNotFound, "reference not found")
	default:
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
