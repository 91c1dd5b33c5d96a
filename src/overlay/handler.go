// Package overlay implements the single public, unauthenticated endpoint
// that merges a scene's baseline objects with whatever live overrides the
// store holds.
package overlay

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"overlaycore/src/livestate"
	"overlaycore/src/metrics"
	"overlaycore/src/model"
	"overlaycore/src/persistence"
)

// Handler serves the merged-scene read path. It never authenticates a
// caller and never mutates anything.
type Handler struct {
	adapter persistence.Adapter
	store   *livestate.Store
}

// New returns a Handler backed by adapter for baseline reads and store for
// live overrides.
func New(adapter persistence.Adapter, store *livestate.Store) *Handler {
	return &Handler{adapter: adapter, store: store}
}

// Routes mounts the overlay read path onto r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/overlay/scenes/{scene_id}", h.getScene)
}

type mergedObject struct {
	ID         int64            `json:"id"`
	Type       model.ObjectType `json:"type"`
	Order      int              `json:"order"`
	Properties map[string]any   `json:"properties"`
}

type sceneResponse struct {
	SceneID   int64          `json:"scene_id"`
	ChannelID string         `json:"channel_id"`
	IsLive    bool           `json:"is_live"`
	Objects   []mergedObject `json:"objects"`
}

func (h *Handler) getScene(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { metrics.OverlayReadDuration.Observe(time.Since(start).Seconds()) }()
	ctx := r.Context()
	sceneID, err := strconv.ParseInt(chi.URLParam(r, "scene_id"), 10, 64)
	if err != nil {
		writeError(w, model.NewError(model.ErrInvalidArgument, "invalid scene_id"))
		return
	}
	channel := r.URL.Query().Get("channel_id")
	if channel == "" {
		channel = model.DefaultChannel
	}

	scene, err := h.adapter.SceneByID(ctx, sceneID)
	if err != nil {
		writeError(w, notFound(err))
		return
	}

	live := h.store.GetAllLiveScenes(scene.Project, channel)
	overrides := h.store.GetProjectLiveState(scene.Project, channel)

	objects := make([]mergedObject, len(scene.Objects))
	for i, obj := range scene.Objects {
		objects[i] = mergedObject{ID: obj.ID, Type: obj.Type, Order: obj.Order, Properties: merge(obj.Properties, overrides, obj.ID)}
	}

	writeJSON(w, http.StatusOK, sceneResponse{
		SceneID:   sceneID,
		ChannelID: channel,
		IsLive:    live[sceneID],
		Objects:   objects,
	})
}

// merge overlays override.properties on top of baseline, key by key.
// Objects without a recorded override pass through untouched.
func merge(baseline map[string]any, overrides map[int64]livestate.ObjectState, objectID int64) map[string]any {
	override, ok := overrides[objectID]
	if !ok {
		return baseline
	}
	merged := make(map[string]any, len(baseline)+len(override.Properties))
	for k, v := range baseline {
		merged[k] = v
	}
	for k, v := range override.Properties {
		merged[k] = v
	}
	return merged
}

func notFound(err error) error {
	if err == persistence.ErrNotFound {
		return err
	}
	return model.NewError(model.ErrNotFound, "%v", err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := model.ErrInternal
	if me, ok := err.(*model.Error); ok {
		kind = me.Kind
	}
	status := http.StatusInternalServerError
	code := "internal"
	switch kind {
	case model.ErrNotFound:
		status, code = http.StatusNotFound, "not_found"
	case model.ErrInvalidArgument:
		status, code = http.StatusBadRequest, "invalid_argument"
	}
	body := errorEnvelope{}
	body.Error.Code = code
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}
