package overlay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"overlaycore/src/livestate"
	"overlaycore/src/model"
	"overlaycore/src/persistence"
)

func newFixture() (*httptest.Server, *persistence.MemoryAdapter, *livestate.Store) {
	adapter := persistence.NewMemoryAdapter()
	adapter.SeedProject(model.Project{OwnerUserID: "u-owner", OwnerName: "acme", Name: "show"}, []model.Scene{
		{
			ID:      1,
			Project: "show",
			Objects: []model.Object{
				{ID: 42, Type: model.ObjectText, Order: 0, Properties: map[string]any{"content": "Hello", "size": 24}},
			},
		},
	})
	store := livestate.New()
	h := New(adapter, store)

	r := chi.NewRouter()
	h.Routes(r)
	return httptest.NewServer(r), adapter, store
}

func TestGetSceneReturnsBaselineWithNoOverride(t *testing.T) {
	srv, _, _ := newFixture()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/overlay/scenes/1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body sceneResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Objects) != 1 || body.Objects[0].Properties["content"] != "Hello" {
		t.Fatalf("unexpected objects: %+v", body.Objects)
	}
}

func TestGetSceneMergesOverrideAndClearRestoresBaseline(t *testing.T) {
	srv, _, store := newFixture()
	defer srv.Close()

	store.UpdateObjectProperty("show", "default", 42, "content", "World")

	resp, err := http.Get(srv.URL + "/overlay/scenes/1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body sceneResponse
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if body.Objects[0].Properties["content"] != "World" {
		t.Fatalf("expected merged content %q, got %v", "World", body.Objects[0].Properties["content"])
	}
	if body.Objects[0].Properties["size"] != float64(24) {
		t.Fatalf("expected untouched baseline key to survive, got %v", body.Objects[0].Properties["size"])
	}

	store.ClearProjectLiveState("show", "default")

	resp, err = http.Get(srv.URL + "/overlay/scenes/1")
	if err != nil {
		t.Fatalf("GET after clear: %v", err)
	}
	defer resp.Body.Close()
	body = sceneResponse{}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Objects[0].Properties["content"] != "Hello" {
		t.Fatalf("expected baseline content restored after clear, got %v", body.Objects[0].Properties["content"])
	}
}

func TestGetSceneUnknownIDReturnsNotFound(t *testing.T) {
	srv, _, _ := newFixture()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/overlay/scenes/999")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
