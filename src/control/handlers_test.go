package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"overlaycore/src/authz"
	"overlaycore/src/livestate"
	"overlaycore/src/model"
	"overlaycore/src/persistence"
)

type recordedEmit struct {
	event   string
	payload any
	room    model.Room
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []recordedEmit
}

func (f *fakeEmitter) Emit(event string, payload any, room model.Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEmit{event, payload, room})
}

func (f *fakeEmitter) rooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.room.Name()
	}
	return out
}

const testSecret = "handlers-test-secret"

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type fixture struct {
	api     *API
	adapter *persistence.MemoryAdapter
	emitter *fakeEmitter
	store   *livestate.Store
	router  chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	adapter := persistence.NewMemoryAdapter()
	adapter.SeedProject(model.Project{OwnerUserID: "u-owner", OwnerName: "acme", Name: "show"}, []model.Scene{
		{
			ID:      1,
			Project: "show",
			Objects: []model.Object{
				{ID: 10, Type: model.ObjectText, Properties: map[string]any{"content": "hello"}},
				{ID: 11, Type: model.ObjectTimer, Properties: map[string]any{"time_format": "MM:SS"}},
			},
		},
		{ID: 2, Project: "show", Objects: nil},
	})
	adapter.SeedToken("tok-owner", "u-owner")
	adapter.SeedGrant("show", "u-viewer", model.LevelViewer)

	gate := authz.New(testSecret, adapter)
	store := livestate.New()
	emitter := &fakeEmitter{}
	api := New(adapter, gate, store, emitter)

	r := chi.NewRouter()
	api.Routes(r)

	return &fixture{api: api, adapter: adapter, emitter: emitter, store: store, router: r}
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestPushSceneFansOutAndClearsSiblings(t *testing.T) {
	f := newFixture(t)
	f.store.SetSceneLive("show", "default", 2, true)

	rec := f.do(t, http.MethodPost, "/scenes/1/push", signToken(t, "tok-owner"), map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	scenes := f.store.GetAllLiveScenes("show", "default")
	if !scenes[1] {
		t.Fatalf("scene 1 should be live: %+v", scenes)
	}
	if scenes[2] {
		t.Fatalf("scene 2 should have been pushed out by the sibling clear: %+v", scenes)
	}

	rooms := f.emitter.rooms()
	wantProjectRoom := model.ProjectRoom("show").Name()
	found := false
	for _, r := range rooms {
		if r == wantProjectRoom {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an emit to %s, got rooms %v", wantProjectRoom, rooms)
	}
}

func TestPushSceneRequiresEditorPermission(t *testing.T) {
	f := newFixture(t)
	f.adapter.SeedToken("tok-viewer", "u-viewer")

	rec := f.do(t, http.MethodPost, "/scenes/1/push", signToken(t, "tok-viewer"), map[string]any{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body = %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateTextMergesIntoLiveState(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/live/objects/10/text", signToken(t, "tok-owner"), map[string]any{
		"project_name": "show",
		"content":      "breaking news",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	state := f.store.GetProjectLiveState("show", "default")
	obj, ok := state[10]
	if !ok {
		t.Fatalf("expected object 10 to have an override")
	}
	if obj.Properties["content"] != "breaking news" {
		t.Fatalf("content = %v, want %q", obj.Properties["content"], "breaking news")
	}
}

func TestUpdateTextRejectsWrongObjectType(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/live/objects/11/text", signToken(t, "tok-owner"), map[string]any{
		"project_name": "show",
		"content":      "nope",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestTimerStartStopRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/live/objects/11/timer/start", signToken(t, "tok-owner"), map[string]any{
		"project_name": "show",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body = %s", rec.Code, rec.Body.String())
	}

	time.Sleep(5 * time.Millisecond)

	rec = f.do(t, http.MethodPost, "/live/objects/11/timer/stop", signToken(t, "tok-owner"), map[string]any{
		"project_name": "show",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp timerActionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TimerState.IsRunning {
		t.Fatalf("expected timer to be stopped")
	}
	if resp.TimerState.Elapsed <= 0 {
		t.Fatalf("expected elapsed > 0 after a sleep, got %v", resp.TimerState.Elapsed)
	}
}

func TestClearProjectRemovesAllLiveState(t *testing.T) {
	f := newFixture(t)
	f.store.SetSceneLive("show", "default", 1, true)
	f.store.UpdateObjectProperty("show", "default", 10, "content", "x")

	rec := f.do(t, http.MethodPost, "/live/projects/show/clear", signToken(t, "tok-owner"), map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if scenes := f.store.GetAllLiveScenes("show", "default"); len(scenes) != 0 {
		t.Fatalf("expected no live scenes after clear, got %+v", scenes)
	}
}

func TestGetStateReportsLiveScenesAndRequiresToken(t *testing.T) {
	f := newFixture(t)
	f.store.SetSceneLive("show", "default", 1, true)

	rec := f.do(t, http.MethodGet, "/live/projects/show/state", signToken(t, "tok-owner"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp stateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.SceneStates["1"] {
		t.Fatalf("expected scene 1 to be reported live: %+v", resp.SceneStates)
	}

	rec = f.do(t, http.MethodGet, "/live/projects/show/state", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for missing token, body = %s", rec.Code, rec.Body.String())
	}
}
