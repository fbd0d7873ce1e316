// Package schedule exposes the scheduling engine over HTTP/JSON.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/shopsched/core/audit"
	"github.com/kilianp07/shopsched/core/engine"
	"github.com/kilianp07/shopsched/core/model"
	"github.com/kilianp07/shopsched/infra/logger"
)

const maxBody = 1 << 20

// Scheduler is the engine surface served by the handler.
type Scheduler interface {
	PlanSchedule(ctx context.Context, req engine.PlanRequest) (engine.PlanOutcome, error)
	ValidateSlots(ctx context.Context, req engine.ValidateRequest) ([]model.SchedulingConflict, error)
	BulkUpdateSlots(ctx context.Context, req engine.BulkRequest) (engine.BulkOutcome, error)
	SetSlotStatus(ctx context.Context, slotID string, status model.SlotStatus) (model.ScheduleSlot, error)
	GetCapacityBuckets(ctx context.Context, machineIDs []string, r model.DateRange, g model.Granularity) ([]model.CapacityBucket, error)
	GetPlanMetrics(ctx context.Context, planID string) (model.PlanMetrics, error)
}

var _ Scheduler = (*engine.Engine)(nil)

// Handler routes the scheduling API.
type Handler struct {
	sched Scheduler
	audit audit.Store
	token string
	log   logger.Logger
	mux   *http.ServeMux
}

// NewHandler returns the API handler. Requests must carry
// "Authorization: Bearer <token>" when token is non-empty. A nil audit
// store serves an empty log.
func NewHandler(s Scheduler, entries audit.Store, token string, log logger.Logger) *Handler {
	if entries == nil {
		entries = audit.NopStore{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	h := &Handler{sched: s, audit: entries, token: token, log: log, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /api/schedule/plan", h.plan)
	h.mux.HandleFunc("POST /api/slots/validate", h.validate)
	h.mux.HandleFunc("POST /api/slots/bulk", h.bulk)
	h.mux.HandleFunc("POST /api/slots/{id}/status", h.slotStatus)
	h.mux.HandleFunc("GET /api/capacity/buckets", h.buckets)
	h.mux.HandleFunc("GET /api/plans/{id}/metrics", h.planMetrics)
	h.mux.HandleFunc("GET /api/audit", h.auditLog)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) plan(w http.ResponseWriter, r *http.Request) {
	var req engine.PlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.sched.PlanSchedule(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, http.StatusOK, out)
}

type validateResponse struct {
	Conflicts []model.SchedulingConflict `json:"conflicts"`
	Valid     bool                       `json:"valid"`
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	var req engine.ValidateRequest
	if !h.decode(w, r, &req) {
		return
	}
	cs, err := h.sched.ValidateSlots(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if cs == nil {
		cs = []model.SchedulingConflict{}
	}
	h.write(w, http.StatusOK, validateResponse{Conflicts: cs, Valid: len(model.Conflicts(cs).Critical()) == 0})
}

func (h *Handler) bulk(w http.ResponseWriter, r *http.Request) {
	var req engine.BulkRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.sched.BulkUpdateSlots(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	code := http.StatusOK
	if !out.Applied {
		code = http.StatusConflict
	}
	h.write(w, code, out)
}

type statusRequest struct {
	Status model.SlotStatus `json:"status"`
}

func (h *Handler) slotStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	slot, err := h.sched.SetSlotStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, http.StatusOK, slot)
}

func (h *Handler) buckets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var rng model.DateRange
	var err error
	if rng.Start, err = parseTime(q.Get("start")); err != nil {
		h.fail(w, r, err)
		return
	}
	if rng.End, err = parseTime(q.Get("end")); err != nil {
		h.fail(w, r, err)
		return
	}
	g := model.Granularity(q.Get("granularity"))
	if g == "" {
		g = model.GranularityDay
	}
	out, err := h.sched.GetCapacityBuckets(r.Context(), splitIDs(q["machine_id"]), rng, g)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if out == nil {
		out = []model.CapacityBucket{}
	}
	h.write(w, http.StatusOK, out)
}

func (h *Handler) planMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.sched.GetPlanMetrics(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, http.StatusOK, m)
}

func (h *Handler) auditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var aq audit.Query
	var err error
	if aq.Start, err = parseTime(q.Get("start")); err != nil {
		h.fail(w, r, err)
		return
	}
	if aq.End, err = parseTime(q.Get("end")); err != nil {
		h.fail(w, r, err)
		return
	}
	aq.Action = q.Get("action")
	aq.MachineID = q.Get("machine_id")
	entries, err := h.audit.Query(r.Context(), aq)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	h.write(w, http.StatusOK, entries)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		h.fail(w, r, fmt.Errorf("%w: decode body: %v", model.ErrInvalidRequest, err))
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	h.write(w, code, errorBody{Error: err.Error()})
}

func (h *Handler) write(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warnf("encode response: %v", err)
	}
}

// StatusFor maps engine errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidRequest), errors.Is(err, model.ErrInvalidPolicy):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrMalformedSlot):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, model.ErrMachineBusy):
		return http.StatusLocked
	case errors.Is(err, model.ErrNoFeasibleMachine), errors.Is(err, model.ErrCapacityExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q is not RFC 3339", model.ErrInvalidRequest, s)
	}
	return t.UTC(), nil
}

// splitIDs accepts repeated and comma separated values.
func splitIDs(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}
