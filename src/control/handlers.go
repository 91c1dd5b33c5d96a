// Package control implements the operator-facing command surface: push/out
// scene, live property updates, timer actions, clear, and state reads.
// Every handler follows the same shape — decode, resolve principal,
// authorize, load via the persistence adapter, mutate the live state store,
// fan out through the broadcaster.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"overlaycore/src/authz"
	"overlaycore/src/livestate"
	"overlaycore/src/metrics"
	"overlaycore/src/model"
	"overlaycore/src/persistence"
)

// Emitter is the subset of the broadcaster the control API needs.
// Satisfied by *broadcast.Server.
type Emitter interface {
	Emit(event string, payload any, room model.Room)
}

// API wires the persistence adapter, authorization gate, live state store,
// and broadcaster together into the control API's HTTP handlers.
type API struct {
	adapter persistence.Adapter
	gate    *authz.Gate
	store   *livestate.Store
	emitter Emitter
	now     func() time.Time
}

// New returns an API ready to mount with Routes.
func New(adapter persistence.Adapter, gate *authz.Gate, store *livestate.Store, emitter Emitter) *API {
	return &API{adapter: adapter, gate: gate, store: store, emitter: emitter, now: time.Now}
}

// Routes mounts every control endpoint onto r.
func (a *API) Routes(r chi.Router) {
	r.Post("/scenes/{scene_id}/push", a.pushScene)
	r.Post("/scenes/{scene_id}/out", a.outScene)
	r.Post("/live/objects/{object_id}/text", a.updateText)
	r.Post("/live/objects/{object_id}/image", a.updateImage)
	r.Post("/live/objects/{object_id}/shape", a.updateShape)
	r.Post("/live/objects/{object_id}/timer/{action}", a.timerAction)
	r.Post("/live/projects/{project_name}/clear", a.clearProject)
	r.Get("/live/projects/{project_name}/state", a.getState)
}

func (a *API) timestamp() string { return a.now().UTC().Format(time.RFC3339) }

// respond writes a successful response and records the command outcome.
func (a *API) respond(w http.ResponseWriter, command string, status int, v any) {
	metrics.ControlCommandsTotal.WithLabelValues(command, "success").Inc()
	writeJSON(w, status, v)
}

// fail writes an error response and records the command outcome.
func (a *API) fail(w http.ResponseWriter, command string, err error) {
	metrics.ControlCommandsTotal.WithLabelValues(command, "error").Inc()
	writeError(w, err)
}

func (a *API) principal(r *http.Request) (authz.Principal, error) {
	token := authz.ExtractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return authz.Principal{}, model.NewError(model.ErrUnauthenticated, "missing bearer token")
	}
	return a.gate.Authenticate(r.Context(), token)
}

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, model.NewError(model.ErrInvalidArgument, "invalid %s %q", name, raw)
	}
	return id, nil
}

// fanOut delivers event/payload to project.Name's project room, the
// project owner's user room, and every other viewer-or-higher user's room.
func (a *API) fanOut(ctx context.Context, project model.Project, event string, payload any) {
	a.emitter.Emit(event, payload, model.ProjectRoom(project.Name))
	a.emitter.Emit(event, payload, model.UserRoom(project.OwnerUserID))

	users, err := a.adapter.GrantedUsers(ctx, project.Name)
	if err != nil {
		return
	}
	for _, userID := range users {
		if userID == project.OwnerUserID {
			continue
		}
		a.emitter.Emit(event, payload, model.UserRoom(userID))
	}
}

func (a *API) projectOf(ctx context.Context, name string) (model.Project, error) {
	return a.adapter.Project(ctx, name)
}

type channelBody struct {
	ChannelID string `json:"channel_id"`
}

func (b channelBody) channel() string {
	if b.ChannelID == "" {
		return model.DefaultChannel
	}
	return b.ChannelID
}

type sceneStatusResponse struct {
	Status    string `json:"status"`
	SceneID   int64  `json:"scene_id"`
	ChannelID string `json:"channel_id"`
}

type sceneLiveUpdatePayload struct {
	SceneID   int64  `json:"scene_id"`
	IsLive    bool   `json:"is_live"`
	ChannelID string `json:"channel_id"`
	Timestamp string `json:"timestamp"`
}

func (a *API) pushScene(w http.ResponseWriter, r *http.Request) {
	a.setSceneLive(w, r, true)
}

func (a *API) outScene(w http.ResponseWriter, r *http.Request) {
	a.setSceneLive(w, r, false)
}

func (a *API) setSceneLive(w http.ResponseWriter, r *http.Request, isLive bool) {
	command := "out_scene"
	if isLive {
		command = "push_scene"
	}

	ctx := r.Context()
	sceneID, err := idParam(r, "scene_id")
	if err != nil {
		a.fail(w, command, err)
		return
	}
	var body channelBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	channel := body.channel()

	principal, err := a.principal(r)
	if err != nil {
		a.fail(w, command, err)
		return
	}
	scene, err := a.adapter.SceneByID(ctx, sceneID)
	if err != nil {
		a.fail(w, command, persistenceNotFound(err))
		return
	}
	if err := a.gate.Authorize(ctx, scene.Project, principal, model.LevelEditor); err != nil {
		a.fail(w, command, err)
		return
	}
	project, err := a.projectOf(ctx, scene.Project)
	if err != nil {
		a.fail(w, command, persistenceNotFound(err))
		return
	}

	if isLive {
		siblings, err := a.adapter.ScenesByProject(ctx, scene.Project)
		if err != nil {
			a.fail(w, command, model.NewError(model.ErrInternal, "list scenes: %v", err))
			return
		}
		for _, id := range siblings {
			if id == sceneID {
				continue
			}
			a.store.SetSceneLive(scene.Project, channel, id, false)
			a.fanOut(ctx, project, "scene_live_update", sceneLiveUpdatePayload{
				SceneID: id, IsLive: false, ChannelID: channel, Timestamp: a.timestamp(),
			})
		}
	}
	a.store.SetSceneLive(scene.Project, channel, sceneID, isLive)
	a.fanOut(ctx, project, "scene_live_update", sceneLiveUpdatePayload{
		SceneID: sceneID, IsLive: isLive, ChannelID: channel, Timestamp: a.timestamp(),
	})

	a.respond(w, command, http.StatusOK, sceneStatusResponse{Status: "success", SceneID: sceneID, ChannelID: channel})
}

type objectPropertyBody struct {
	ProjectName string `json:"project_name"`
	ChannelID   string `json:"channel_id"`
	Content     string `json:"content"`
	Src         string `json:"src"`
	Color       string `json:"color"`
}

func (b objectPropertyBody) channel() string {
	if b.ChannelID == "" {
		return model.DefaultChannel
	}
	return b.ChannelID
}

type objectLiveUpdatePayload struct {
	ObjectID  int64  `json:"object_id"`
	Property  string `json:"property"`
	Value     string `json:"value"`
	ChannelID string `json:"channel_id"`
	Timestamp string `json:"timestamp"`
}

type textResponse struct {
	ObjectID int64  `json:"object_id"`
	Content  string `json:"content"`
}

type imageResponse struct {
	ObjectID int64  `json:"object_id"`
	Src      string `json:"src"`
}

type shapeResponse struct {
	ObjectID int64  `json:"object_id"`
	Color    string `json:"color"`
}

func (a *API) updateText(w http.ResponseWriter, r *http.Request) {
	a.updateObjectProperty(w, r, model.ObjectText, "content",
		func(b objectPropertyBody) string { return b.Content },
		func(objectID int64, value string) any { return textResponse{ObjectID: objectID, Content: value} })
}

func (a *API) updateImage(w http.ResponseWriter, r *http.Request) {
	a.updateObjectProperty(w, r, model.ObjectImage, "src",
		func(b objectPropertyBody) string { return b.Src },
		func(objectID int64, value string) any { return imageResponse{ObjectID: objectID, Src: value} })
}

func (a *API) updateShape(w http.ResponseWriter, r *http.Request) {
	a.updateObjectProperty(w, r, model.ObjectShape, "color",
		func(b objectPropertyBody) string { return b.Color },
		func(objectID int64, value string) any { return shapeResponse{ObjectID: objectID, Color: value} })
}

func (a *API) updateObjectProperty(
	w http.ResponseWriter, r *http.Request,
	wantType model.ObjectType, property string,
	extract func(objectPropertyBody) string,
	respond func(objectID int64, value string) any,
) {
	command := "update_" + string(wantType)

	ctx := r.Context()
	objectID, err := idParam(r, "object_id")
	if err != nil {
		a.fail(w, command, err)
		return
	}
	var body objectPropertyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProjectName == "" {
		a.fail(w, command, model.NewError(model.ErrInvalidArgument, "project_name is required"))
		return
	}
	channel := body.channel()

	principal, err := a.principal(r)
	if err != nil {
		a.fail(w, command, err)
		return
	}
	if err := a.gate.Authorize(ctx, body.ProjectName, principal, model.LevelEditor); err != nil {
		a.fail(w, command, err)
		return
	}
	object, err := a.adapter.Object(ctx, body.ProjectName, objectID)
	if err != nil {
		a.fail(w, command, persistenceNotFound(err))
		return
	}
	if object.Type != wantType {
		a.fail(w, command, model.NewError(model.ErrInvalidArgument, "object %d is type %s, not %s", objectID, object.Type, wantType))
		return
	}
	project, err := a.projectOf(ctx, body.ProjectName)
	if err != nil {
		a.fail(w, command, persistenceNotFound(err))
		return
	}

	value := extract(body)
	a.store.UpdateObjectProperty(body.ProjectName, channel, objectID, property, value)
	a.fanOut(ctx, project, "object_live_update", objectLiveUpdatePayload{
		ObjectID: objectID, Property: property, Value: value, ChannelID: channel, Timestamp: a.timestamp(),
	})

	a.respond(w, command, http.StatusOK, respond(objectID, value))
}

type timerUpdatePayload struct {
	ObjectID    int64                `json:"object_id"`
	Action      string               `json:"action"`
	CurrentTime string               `json:"current_time"`
	Elapsed     float64              `json:"elapsed"`
	TimeFormat  livestate.TimeFormat `json:"time_format"`
	ChannelID   string               `json:"channel_id"`
	Timestamp   string               `json:"timestamp"`
}

type timerStateBody struct {
	IsRunning   bool    `json:"is_running"`
	Elapsed     float64 `json:"elapsed"`
	CurrentTime string  `json:"current_time"`
}

type timerActionResponse struct {
	ObjectID   int64          `json:"object_id"`
	TimerState timerStateBody `json:"timer_state"`
}

func (a *API) timerAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	objectID, err := idParam(r, "object_id")
	if err != nil {
		a.fail(w, "timer_action", err)
		return
	}
	action := chi.URLParam(r, "action")
	if action != "start" && action != "stop" && action != "reset" {
		a.fail(w, "timer_action", model.NewError(model.ErrInvalidArgument, "unknown timer action %q", action))
		return
	}
	command := "timer_" + action

	var body objectPropertyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProjectName == "" {
		a.fail(w, command, model.NewError(model.ErrInvalidArgument, "project_name is required"))
		return
	}
	channel := body.channel()

	principal, err := a.principal(r)
	if err != nil {
		a.fail(w, command, err)
		return
	}
	if err := a.gate.Authorize(ctx, body.ProjectName, principal, model.LevelEditor); err != nil {
		a.fail(w, command, err)
		return
	}
	object, err := a.adapter.Object(ctx, body.ProjectName, objectID)
	if err != nil {
		a.fail(w, command, persistenceNotFound(err))
		return
	}
	if object.Type != model.ObjectTimer {
		a.fail(w, command, model.NewError(model.ErrInvalidArgument, "object %d is type %s, not timer", objectID, object.Type))
		return
	}
	project, err := a.projectOf(ctx, body.ProjectName)
	if err != nil {
		a.fail(w, command, persistenceNotFound(err))
		return
	}

	format := livestate.NormalizeFormat(stringProp(object.Properties, "time_format"))

	var state timerStateBody
	switch action {
	case "start":
		_, elapsed, fmt := a.store.StartTimer(body.ProjectName, channel, objectID, format)
		state = timerStateBody{IsRunning: true, Elapsed: elapsed, CurrentTime: livestate.FormatElapsed(elapsed, fmt)}
		format = fmt
	case "stop":
		elapsed := a.store.StopTimer(body.ProjectName, channel, objectID)
		state = timerStateBody{IsRunning: false, Elapsed: elapsed, CurrentTime: livestate.FormatElapsed(elapsed, format)}
	case "reset":
		a.store.ResetTimer(body.ProjectName, channel, objectID)
		state = timerStateBody{IsRunning: false, Elapsed: 0, CurrentTime: livestate.FormatElapsed(0, format)}
	}

	a.fanOut(ctx, project, "timer_update", timerUpdatePayload{
		ObjectID: objectID, Action: action, CurrentTime: state.CurrentTime,
		Elapsed: state.Elapsed, TimeFormat: format, ChannelID: channel, Timestamp: a.timestamp(),
	})
	a.respond(w, command, http.StatusOK, timerActionResponse{ObjectID: objectID, TimerState: state})
}

func stringProp(properties map[string]any, key string) string {
	if properties == nil {
		return ""
	}
	s, _ := properties[key].(string)
	return s
}

type liveStateClearedPayload struct {
	ProjectName string `json:"project_name"`
	Timestamp   string `json:"timestamp"`
}

type clearResponse struct {
	Message string `json:"message"`
}

func (a *API) clearProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectName := chi.URLParam(r, "project_name")
	var body channelBody
	_ = json.NewDecoder(r.Body).Decode(&body)

	principal, err := a.principal(r)
	if err != nil {
		a.fail(w, "clear_project", err)
		return
	}
	if err := a.gate.Authorize(ctx, projectName, principal, model.LevelEditor); err != nil {
		a.fail(w, "clear_project", err)
		return
	}
	project, err := a.projectOf(ctx, projectName)
	if err != nil {
		a.fail(w, "clear_project", persistenceNotFound(err))
		return
	}

	a.store.ClearProjectLiveState(projectName, body.ChannelID)
	a.fanOut(ctx, project, "live_state_cleared", liveStateClearedPayload{ProjectName: projectName, Timestamp: a.timestamp()})

	a.respond(w, "clear_project", http.StatusOK, clearResponse{Message: "live state cleared"})
}

type objectStateBody struct {
	Properties  map[string]any `json:"properties"`
	LastUpdated string         `json:"last_updated"`
}

type stateResponse struct {
	ObjectStates map[string]objectStateBody `json:"object_states"`
	SceneStates  map[string]bool            `json:"scene_states"`
}

func (a *API) getState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectName := chi.URLParam(r, "project_name")
	channel := r.URL.Query().Get("channel_id")
	if channel == "" {
		channel = model.DefaultChannel
	}

	principal, err := a.principal(r)
	if err != nil {
		a.fail(w, "get_state", err)
		return
	}
	if err := a.gate.Authorize(ctx, projectName, principal, model.LevelViewer); err != nil {
		a.fail(w, "get_state", err)
		return
	}

	objects := a.store.GetProjectLiveState(projectName, channel)
	scenes := a.store.GetAllLiveScenes(projectName, channel)

	objectStates := make(map[string]objectStateBody, len(objects))
	for id, state := range objects {
		objectStates[strconv.FormatInt(id, 10)] = objectStateBody{
			Properties:  state.Properties,
			LastUpdated: state.LastUpdated.UTC().Format(time.RFC3339),
		}
	}
	sceneStates := make(map[string]bool, len(scenes))
	for id, live := range scenes {
		sceneStates[strconv.FormatInt(id, 10)] = live
	}

	a.respond(w, "get_state", http.StatusOK, stateResponse{ObjectStates: objectStates, SceneStates: sceneStates})
}

func persistenceNotFound(err error) error {
	if err == persistence.ErrNotFound {
		return err
	}
	return model.NewError(model.ErrNotFound, "%v", err)
}
