package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"narrasync/internal/api"
	"narrasync/internal/captions"
	"narrasync/internal/config"
	"narrasync/internal/segments"
	"narrasync/internal/syncstate"
	"narrasync/internal/testsupport"
	"narrasync/internal/timeline"
)

type testServer struct {
	cfg     *config.Config
	manager *timeline.Manager
	handler http.Handler
}

func newTestServer(t *testing.T, opts ...testsupport.ConfigOption) *testServer {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	manager := timeline.NewManager(context.Background(), cfg, store, testsupport.NewFakeGenerator(), nil)
	t.Cleanup(manager.Close)
	d, err := New(cfg, store, manager, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	srv, err := newAPIServer(cfg, d, nil)
	if err != nil {
		t.Fatalf("newAPIServer: %v", err)
	}
	return &testServer{cfg: cfg, manager: manager, handler: srv.server.Handler}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if ts.cfg.Paths.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+ts.cfg.Paths.APIToken)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s response: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w.Code
}

func (ts *testServer) waitIdle(t *testing.T, id string) {
	t.Helper()
	engine, err := ts.manager.Open(context.Background(), id)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestAPIProjectLifecycle(t *testing.T) {
	ts := newTestServer(t)

	var project api.ProjectDocument
	code := ts.do(t, http.MethodPost, "/api/projects", api.CreateProjectRequest{
		Title:    "Demo",
		Segments: []string{"Hello world.", "Second line here."},
	}, &project)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if len(project.Segments) != 2 || project.Timeline.SyncStatus != syncstate.StatusOutOfSync {
		t.Fatalf("unexpected project: %+v", project)
	}
	base := "/api/projects/" + project.ID

	var status api.StatusResponse
	if code := ts.do(t, http.MethodGet, base+"/status", nil, &status); code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", code)
	}
	if len(status.SegmentsNeedingVoice) != 2 {
		t.Fatalf("expected 2 segments needing voice, got %v", status.SegmentsNeedingVoice)
	}

	var regen api.RegenerateResponse
	if code := ts.do(t, http.MethodPost, base+"/regenerate", nil, &regen); code != http.StatusAccepted {
		t.Fatalf("regenerate: expected 202, got %d", code)
	}
	if len(regen.Started) != 2 {
		t.Fatalf("expected 2 started, got %+v", regen)
	}
	ts.waitIdle(t, project.ID)

	if code := ts.do(t, http.MethodGet, base+"/status", nil, &status); code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", code)
	}
	if status.SyncStatus != syncstate.StatusSynced || status.Counts.Ready != 2 {
		t.Fatalf("expected synced with 2 ready, got %+v", status)
	}

	var caps api.CaptionsResponse
	if code := ts.do(t, http.MethodGet, base+"/captions", nil, &caps); code != http.StatusOK {
		t.Fatalf("captions: expected 200, got %d", code)
	}
	if len(caps.Captions) != 2 || len(caps.Captions[0].WordTimings) != 2 {
		t.Fatalf("unexpected captions: %+v", caps.Captions)
	}

	srtReq := httptest.NewRequest(http.MethodGet, base+"/captions.srt", nil)
	srtRec := httptest.NewRecorder()
	ts.handler.ServeHTTP(srtRec, srtReq)
	if srtRec.Code != http.StatusOK {
		t.Fatalf("captions.srt: expected 200, got %d", srtRec.Code)
	}
	if !strings.HasPrefix(srtRec.Body.String(), "1\n00:00:00,000 --> 00:00:00,600\nHello world.\n") {
		t.Fatalf("unexpected srt body %q", srtRec.Body.String())
	}

	var resolved api.ResolveResponse
	if code := ts.do(t, http.MethodGet, base+"/resolve?t=100", nil, &resolved); code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d", code)
	}
	if resolved.Frame.SegmentID != project.Segments[0].ID || resolved.Frame.Words[0].State != captions.WordActive {
		t.Fatalf("unexpected frame: %+v", resolved.Frame)
	}
	if code := ts.do(t, http.MethodGet, base+"/resolve?frame=15&fps=30", nil, &resolved); code != http.StatusOK {
		t.Fatalf("resolve frame: expected 200, got %d", code)
	}
	if resolved.TimeMs != 500 {
		t.Fatalf("expected 500ms for frame 15 at 30fps, got %d", resolved.TimeMs)
	}
	if code := ts.do(t, http.MethodGet, base+"/resolve", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("resolve without time: expected 400, got %d", code)
	}

	var list api.ProjectListResponse
	if code := ts.do(t, http.MethodGet, "/api/projects", nil, &list); code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", code)
	}
	if len(list.Projects) != 1 || list.Projects[0].SyncStatus != string(syncstate.StatusSynced) {
		t.Fatalf("unexpected list: %+v", list.Projects)
	}

	if code := ts.do(t, http.MethodDelete, base, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", code)
	}
	var failure api.ErrorResponse
	if code := ts.do(t, http.MethodGet, base, nil, &failure); code != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", code)
	}
	if failure.Kind != "not_found" {
		t.Fatalf("expected not_found kind, got %q", failure.Kind)
	}
}

func TestAPISegmentEdits(t *testing.T) {
	ts := newTestServer(t)

	var project api.ProjectDocument
	ts.do(t, http.MethodPost, "/api/projects", api.CreateProjectRequest{Title: "Edits", Segments: []string{"One.", "Two."}}, &project)
	base := "/api/projects/" + project.ID

	var inserted segments.Segment
	first := 0
	if code := ts.do(t, http.MethodPost, base+"/segments", api.InsertSegmentRequest{Text: "Zero.", Order: &first}, &inserted); code != http.StatusCreated {
		t.Fatalf("insert: expected 201, got %d", code)
	}
	if inserted.Order != 0 || inserted.Voice.Status != segments.VoicePending {
		t.Fatalf("unexpected inserted segment: %+v", inserted)
	}

	text := "Zero again."
	var updated segments.Segment
	if code := ts.do(t, http.MethodPatch, base+"/segments/"+inserted.ID, api.UpdateSegmentRequest{Text: &text}, &updated); code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d", code)
	}
	if updated.Text != "Zero again." {
		t.Fatalf("expected updated text, got %q", updated.Text)
	}

	if code := ts.do(t, http.MethodPatch, base+"/segments/"+inserted.ID, map[string]any{"colour": "red"}, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", code)
	}

	rejected := "Should not land."
	farAway := 99
	if code := ts.do(t, http.MethodPatch, base+"/segments/"+inserted.ID, api.UpdateSegmentRequest{Text: &rejected, Order: &farAway}, nil); code != http.StatusConflict {
		t.Fatalf("out-of-range order: expected 409, got %d", code)
	}
	var current api.ProjectDocument
	ts.do(t, http.MethodGet, base, nil, &current)
	for _, seg := range current.Segments {
		if seg.ID == inserted.ID && seg.Text != "Zero again." {
			t.Fatalf("rejected update partially applied: text is %q", seg.Text)
		}
	}

	dup := api.ReorderRequest{SegmentIDs: []string{inserted.ID, inserted.ID, project.Segments[0].ID}}
	if code := ts.do(t, http.MethodPut, base+"/segments/order", dup, nil); code != http.StatusConflict {
		t.Fatalf("duplicate reorder: expected 409, got %d", code)
	}

	if code := ts.do(t, http.MethodDelete, base+"/segments/"+inserted.ID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete segment: expected 204, got %d", code)
	}
	if code := ts.do(t, http.MethodDelete, base+"/segments/"+inserted.ID, nil, nil); code != http.StatusNotFound {
		t.Fatalf("delete missing segment: expected 404, got %d", code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	ts := newTestServer(t, testsupport.WithAPIToken("secret"))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}

	if code := ts.do(t, http.MethodGet, "/api/projects", nil, nil); code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
}
