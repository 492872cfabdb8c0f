package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	events     []*Event
	searchErr  error
	exportData []byte
	exportErr  error
	stats      *Stats
	statsErr   error

	lastFilter SearchFilter
	lastFormat ExportFormat
}

func (f *fakeReader) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	f.lastFilter = filter
	return f.events, f.searchErr
}

func (f *fakeReader) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	f.lastFilter = filter
	f.lastFormat = format
	return f.exportData, f.exportErr
}

func (f *fakeReader) Stats(ctx context.Context, start, end *time.Time) (*Stats, error) {
	return f.stats, f.statsErr
}

func newTestRouter(reader *fakeReader) *mux.Router {
	router := mux.NewRouter()
	NewHandlers(reader).RegisterRoutes(router)
	return router
}

func TestHandlersListEvents(t *testing.T) {
	t.Run("returns events with filter applied", func(t *testing.T) {
		reader := &fakeReader{events: sampleEvents()}
		router := newTestRouter(reader)

		url := "/audit/events?provider=corp-okta&account_id=acct-1" +
			"&event_types=auth.login,auth.login_failed&status=success" +
			"&start_time=2025-11-01T00:00:00Z&limit=5&offset=10&sort_order=asc"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", url, nil))

		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Events []*Event `json:"events"`
			Count  int      `json:"count"`
			Limit  int      `json:"limit"`
			Offset int      `json:"offset"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Count)
		assert.Len(t, body.Events, 2)
		assert.Equal(t, 5, body.Limit)
		assert.Equal(t, 10, body.Offset)

		filter := reader.lastFilter
		assert.Equal(t, "corp-okta", filter.Provider)
		assert.Equal(t, "acct-1", filter.AccountID)
		assert.Equal(t, []EventType{EventLogin, EventLoginFailed}, filter.EventTypes)
		require.NotNil(t, filter.Status)
		assert.Equal(t, StatusSuccess, *filter.Status)
		require.NotNil(t, filter.StartTime)
		assert.Equal(t, time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC), filter.StartTime.UTC())
		assert.Nil(t, filter.EndTime)
		assert.Equal(t, "asc", filter.SortOrder)
	})

	t.Run("defaults and caps", func(t *testing.T) {
		reader := &fakeReader{}
		router := newTestRouter(reader)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/events", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 100, reader.lastFilter.Limit)
		assert.Equal(t, 0, reader.lastFilter.Offset)

		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/events?limit=999999", nil))
		assert.Equal(t, 1000, reader.lastFilter.Limit)

		// Malformed values fall back instead of failing the request.
		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/events?limit=abc&start_time=yesterday", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 100, reader.lastFilter.Limit)
		assert.Nil(t, reader.lastFilter.StartTime)
	})

	t.Run("search error", func(t *testing.T) {
		reader := &fakeReader{searchErr: errors.New("boom")}
		router := newTestRouter(reader)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/events", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandlersExportEvents(t *testing.T) {
	tests := []struct {
		name            string
		query           string
		wantFormat      ExportFormat
		wantContentType string
		wantFilename    string
	}{
		{
			name:            "json by default",
			query:           "",
			wantFormat:      FormatJSON,
			wantContentType: "application/json",
			wantFilename:    "audit-events.json",
		},
		{
			name:            "csv",
			query:           "?format=csv",
			wantFormat:      FormatCSV,
			wantContentType: "text/csv",
			wantFilename:    "audit-events.csv",
		},
		{
			name:            "ndjson",
			query:           "?format=ndjson",
			wantFormat:      FormatNDJSON,
			wantContentType: "application/x-ndjson",
			wantFilename:    "audit-events.ndjson",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &fakeReader{exportData: []byte("payload")}
			router := newTestRouter(reader)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/export"+tt.query, nil))

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantFormat, reader.lastFormat)
			assert.Equal(t, tt.wantContentType, w.Header().Get("Content-Type"))
			assert.Contains(t, w.Header().Get("Content-Disposition"), tt.wantFilename)
			assert.Equal(t, "payload", w.Body.String())
		})
	}

	t.Run("export error", func(t *testing.T) {
		reader := &fakeReader{exportErr: errors.New("boom")}
		router := newTestRouter(reader)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/export", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandlersGetStats(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		reader := &fakeReader{stats: &Stats{
			TotalEvents:  12,
			FailedLogins: 3,
			EventsByType: map[EventType]int64{EventLogin: 9, EventLoginFailed: 3},
		}}
		router := newTestRouter(reader)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/stats", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var stats Stats
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
		assert.Equal(t, int64(12), stats.TotalEvents)
		assert.Equal(t, int64(3), stats.FailedLogins)
		assert.Equal(t, int64(9), stats.EventsByType[EventLogin])
	})

	t.Run("stats error", func(t *testing.T) {
		reader := &fakeReader{statsErr: errors.New("boom")}
		router := newTestRouter(reader)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/audit/stats", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
