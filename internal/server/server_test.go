package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/michaelbrown/crucible/internal/storage"
	"github.com/michaelbrown/crucible/internal/supervisor"
)

type fakeSupervisor struct {
	statuses map[string]supervisor.TaskStatus
}

func (f *fakeSupervisor) Add(string, []string, map[string]string) error { return nil }
func (f *fakeSupervisor) Status() map[string]supervisor.TaskStatus     { return f.statuses }
func (f *fakeSupervisor) Stop(string, bool) bool                       { return false }
func (f *fakeSupervisor) StopAll(bool)                                 {}
func (f *fakeSupervisor) Monitor()                                     {}
func (f *fakeSupervisor) RunUntilComplete(context.Context)             {}

type fakeStore struct {
	runs []storage.RunRecord
}

func (f *fakeStore) SaveRun(ctx context.Context, r *storage.RunRecord) error {
	f.runs = append(f.runs, *r)
	return nil
}

func (f *fakeStore) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], nil
		}
	}
	return nil, errors.New("run not found: " + id)
}

func (f *fakeStore) ListRuns(ctx context.Context, opts storage.RunListOptions) ([]storage.RunRecord, error) {
	return f.runs, nil
}

func (f *fakeStore) Close() error { return nil }

func TestHandleStatus(t *testing.T) {
	sup := &fakeSupervisor{statuses: map[string]supervisor.TaskStatus{
		"web": {PID: 42, Running: true},
	}}
	srv := New(sup, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got map[string]supervisor.TaskStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if got["web"].PID != 42 || !got["web"].Running {
		t.Errorf("got %+v", got)
	}
}

func TestHandleListRuns(t *testing.T) {
	store := &fakeStore{runs: []storage.RunRecord{
		{ID: "r1", InstanceID: "i1", Resolved: true},
	}}
	srv := New(&fakeSupervisor{}, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []storage.RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(got) != 1 || got[0].InstanceID != "i1" {
		t.Errorf("got %+v", got)
	}
}

func TestHandleListRunsWithoutStore(t *testing.T) {
	srv := New(&fakeSupervisor{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestIndexServed(t *testing.T) {
	srv := New(&fakeSupervisor{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
}
