package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/jholloway/pipewright/internal/artifact"
	"github.com/jholloway/pipewright/internal/events"
	"github.com/jholloway/pipewright/internal/run"
)

func newTestServer(t *testing.T) (*Server, *run.Store) {
	t.Helper()
	store := run.NewStore(t.TempDir())
	log, err := events.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })
	if err := log.Migrate(); err != nil {
		t.Fatal(err)
	}
	return NewServer(store, log, 0), store
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	srv, store := newTestServer(t)

	a, err := store.Create("p1", "/w")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Update(a.ID, func(r *run.Record) { r.Status = run.StatusFailed }); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create("p2", "/w"); err != nil {
		t.Fatal(err)
	}

	rec := get(t, srv.Handler(), "/api/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var runs []run.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}

	rec = get(t, srv.Handler(), "/api/runs?status=failed")
	runs = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != a.ID {
		t.Errorf("unexpected filtered runs: %+v", runs)
	}
}

func TestListRunsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv.Handler(), "/api/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	// Must be an empty array, not null.
	var raw interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw.([]interface{}); !ok {
		t.Errorf("expected JSON array, got %s", rec.Body.String())
	}
}

func TestGetRun(t *testing.T) {
	srv, store := newTestServer(t)
	created, err := store.Create("p1", "/w")
	if err != nil {
		t.Fatal(err)
	}

	rec := get(t, srv.Handler(), "/api/runs/"+created.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got run.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != created.ID || got.Pipeline != "p1" {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv.Handler(), "/api/runs/1700000000-dead")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestArtifacts(t *testing.T) {
	srv, store := newTestServer(t)
	created, err := store.Create("p1", "/w")
	if err != nil {
		t.Fatal(err)
	}
	astore, err := artifact.NewStore(store.ArtifactDir(created.ID))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := astore.Publish("build", "image-ref", []byte("app:v1"), false); err != nil {
		t.Fatal(err)
	}

	rec := get(t, srv.Handler(), "/api/runs/"+created.ID+"/artifacts")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var handles []artifact.Handle
	if err := json.Unmarshal(rec.Body.Bytes(), &handles); err != nil {
		t.Fatal(err)
	}
	if len(handles) != 1 || handles[0].Name != "image-ref" {
		t.Errorf("unexpected handles: %+v", handles)
	}
}

func TestArtifactsRunNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv.Handler(), "/api/runs/1700000000-dead/artifacts")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestEvents(t *testing.T) {
	srv, store := newTestServer(t)
	created, err := store.Create("p1", "/w")
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.log.LogRunEvent(created.ID, "created", "", "p1"); err != nil {
		t.Fatal(err)
	}

	rec := get(t, srv.Handler(), "/api/runs/"+created.ID+"/events")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var evts []events.RunEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &evts); err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].Event != "created" {
		t.Errorf("unexpected events: %+v", evts)
	}
}

func TestEventsNilLog(t *testing.T) {
	store := run.NewStore(t.TempDir())
	srv := NewServer(store, nil, 0)
	rec := get(t, srv.Handler(), "/api/runs/some-id/events")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 with nil log, got %d", rec.Code)
	}
}
