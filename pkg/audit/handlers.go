package audit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/openclave/gatehouse/pkg/httputil"
)

// Reader is the query surface the HTTP handlers need. *DBLogger implements
// it.
type Reader interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)
	Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error)
	Stats(ctx context.Context, start, end *time.Time) (*Stats, error)
}

// Handlers serves the audit trail to operators. The routes belong behind the
// same admin protection as provider management.
type Handlers struct {
	store Reader
}

// NewHandlers creates audit query handlers over the given store.
func NewHandlers(store Reader) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers the audit query routes on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.listEvents).Methods("GET")
	router.HandleFunc("/audit/export", h.exportEvents).Methods("GET")
	router.HandleFunc("/audit/stats", h.getStats).Methods("GET")
}

// listEvents handles GET /audit/events.
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// exportEvents handles GET /audit/export.
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)
	format := ExportFormat(httputil.ParseQueryString(r, "format", string(FormatJSON)))

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	switch format {
	case FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.csv")
	case FormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.json")
	}
	w.Write(data)
}

// getStats handles GET /audit/stats.
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	start := parseTimeParam(r, "start_time")
	end := parseTimeParam(r, "end_time")

	stats, err := h.store.Stats(r.Context(), start, end)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}

func parseFilter(r *http.Request) SearchFilter {
	query := r.URL.Query()

	filter := SearchFilter{
		StartTime: parseTimeParam(r, "start_time"),
		EndTime:   parseTimeParam(r, "end_time"),
		AccountID: query.Get("account_id"),
		Username:  query.Get("username"),
		Provider:  query.Get("provider"),
		IPAddress: query.Get("ip_address"),
		RequestID: query.Get("request_id"),
		Limit:     intParam(r, "limit", 100),
		Offset:    intParam(r, "offset", 0),
		SortOrder: query.Get("sort_order"),
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}

	if eventTypes := query.Get("event_types"); eventTypes != "" {
		for _, et := range strings.Split(eventTypes, ",") {
			if et = strings.TrimSpace(et); et != "" {
				filter.EventTypes = append(filter.EventTypes, EventType(et))
			}
		}
	}

	if statusStr := query.Get("status"); statusStr != "" {
		status := EventStatus(statusStr)
		filter.Status = &status
	}

	return filter
}

// intParam reads an integer query parameter, falling back to the default on
// missing or malformed values.
func intParam(r *http.Request, name string, defaultVal int) int {
	val, err := httputil.ParseQueryInt(r, name, defaultVal)
	if err != nil {
		return defaultVal
	}
	return val
}

func parseTimeParam(r *http.Request, name string) *time.Time {
	value := r.URL.Query().Get(name)
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &t
}
