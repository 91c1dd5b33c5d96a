// Package timer implements a single 1 Hz background loop that advances
// every running timer and fans out `timer_update` events to the project
// room and every relevant user room.
package timer

import (
	"context"
	"time"

	"overlaycore/src/concurrency"
	"overlaycore/src/livestate"
	"overlaycore/src/logging"
	"overlaycore/src/model"
)

// Emitter is the subset of the broadcaster the ticker needs. Satisfied by
// *broadcast.Server.
type Emitter interface {
	Emit(event string, payload any, room model.Room)
}

// GrantedUserLister resolves every user with viewer-or-higher permission on
// a project, so a tick can fan out to their individual user rooms in
// addition to the project room. Satisfied by persistence.Adapter.
type GrantedUserLister interface {
	GrantedUsers(ctx context.Context, projectName string) ([]string, error)
}

// UpdatePayload is the `timer_update` event body. Timestamp is ISO-8601,
// matching every other outbound event payload.
type UpdatePayload struct {
	ObjectID    int64                `json:"object_id"`
	Action      string               `json:"action"`
	CurrentTime string               `json:"current_time"`
	Elapsed     float64              `json:"elapsed"`
	TimeFormat  livestate.TimeFormat `json:"time_format"`
	ChannelID   string               `json:"channel_id"`
	Timestamp   string               `json:"timestamp"`
}

// Ticker drives the 1 Hz loop. The zero value is not usable; construct with
// New.
type Ticker struct {
	store    *livestate.Store
	emitter  Emitter
	grants   GrantedUserLister
	interval time.Duration
	now      func() time.Time
}

// New returns a Ticker that advances store's running timers once per
// second and fans updates out through emitter.
func New(store *livestate.Store, emitter Emitter, grants GrantedUserLister) *Ticker {
	return &Ticker{
		store:    store,
		emitter:  emitter,
		grants:   grants,
		interval: time.Second,
		now:      time.Now,
	}
}

// Run blocks, ticking until ctx is canceled. Callers launch it via
// concurrency.GoSafe, the same panic-recovering wrapper used for every
// long-lived goroutine, so a panic in one tick never takes the process
// down.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// Start launches Run in a recovered background goroutine and returns
// immediately.
func (t *Ticker) Start(ctx context.Context) {
	concurrency.GoSafe(func() { t.Run(ctx) })
}

func (t *Ticker) tick(ctx context.Context) {
	running := t.store.SnapshotRunningTimers()
	ts := t.now().UTC().Format(time.RFC3339)
	for _, rt := range running {
		payload := UpdatePayload{
			ObjectID:    rt.Object,
			Action:      "update",
			CurrentTime: livestate.FormatElapsed(rt.Elapsed, rt.Format),
			Elapsed:     rt.Elapsed,
			TimeFormat:  rt.Format,
			ChannelID:   rt.Channel,
			Timestamp:   ts,
		}
		t.emitTo(ctx, rt.Project, rt.Channel, payload)
	}
}

// emitTo fans one payload to the project room plus every viewer-or-higher
// user room on the project. Emit reports delivery errors without raising,
// so a failing room does not stop the rest of the tick. Emit is called
// synchronously, one room after another: a delivery that blocks delays the
// remaining rooms and timers of this tick.
func (t *Ticker) emitTo(ctx context.Context, project, channel string, payload UpdatePayload) {
	t.emitter.Emit("timer_update", payload, model.ProjectRoom(project))

	users, err := t.grants.GrantedUsers(ctx, project)
	if err != nil {
		logging.Log.WithError(err).WithField("project", project).Warn("timer tick: could not list granted users")
		return
	}
	for _, userID := range users {
		t.emitter.Emit("timer_update", payload, model.UserRoom(userID))
	}
}
