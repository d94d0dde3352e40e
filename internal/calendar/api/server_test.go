package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"invest-calendar/internal/calendar/model"
	"invest-calendar/internal/calendar/query"
	"invest-calendar/internal/calendar/store"
)

var cst = time.FixedZone("CST", 8*3600)

func newServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b, err := store.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	s := store.New(zap.NewNop(), b)

	now := time.Date(2025, 6, 10, 9, 0, 0, 0, cst)
	e := model.NewEvent(model.CLS, "cls_1", "1", "2025-06-10", now)
	e.Title = "CPI"
	e.IsNew = true
	if err := s.Save(context.Background(), model.CLS, model.Current(), []model.Event{e}); err != nil {
		t.Fatalf("save: %v", err)
	}

	q := query.New(zap.NewNop(), s, nil)
	q.Now = func() time.Time { return now }
	srv := &Server{Log: zap.NewNop(), Query: q}
	return srv.Router()
}

type listResponse struct {
	Total int           `json:"total"`
	Data  []model.Event `json:"data"`
	Error string        `json:"error"`
}

func get(t *testing.T, r *gin.Engine, path string) (int, listResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	var body listResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, w.Body.String())
	}
	return w.Code, body
}

func TestEventsEndpoints(t *testing.T) {
	r := newServer(t)

	tests := []struct {
		path  string
		code  int
		total int
	}{
		{"/events", http.StatusOK, 1},
		{"/events?date=2025-06-11", http.StatusOK, 0},
		{"/events?date=bad", http.StatusBadRequest, 0},
		{"/events/range?start=2025-06-01&end=2025-06-30", http.StatusOK, 1},
		{"/events/range?start=2025-06-01", http.StatusBadRequest, 0},
		{"/events/new?since=2025-06-01", http.StatusOK, 1},
		{"/platforms/cls/events", http.StatusOK, 1},
		{"/platforms/weibo/events", http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		code, body := get(t, r, tt.path)
		if code != tt.code {
			t.Fatalf("%s: status %d, want %d (%+v)", tt.path, code, tt.code, body)
		}
		if body.Total != tt.total {
			t.Fatalf("%s: total %d, want %d", tt.path, body.Total, tt.total)
		}
		if code != http.StatusOK && body.Error == "" {
			t.Fatalf("%s: error message missing", tt.path)
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	r := newServer(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status code %d", w.Code)
	}
	var st query.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.ActiveTotal != 1 || st.NewTotal != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
}
