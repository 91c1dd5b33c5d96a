// Package persistence defines the read-only contract to the relational
// datastore that owns projects, scenes, objects, users, and permissions.
// The live-state core never writes through this interface.
package persistence

import (
	"context"

	"overlaycore/src/model"
)

// Adapter is the read-only contract the rest of the core depends on. It is
// satisfied by the Postgres-backed implementation in postgres.go for
// production and by the in-memory fake in memory.go for tests and for
// running the core standalone.
type Adapter interface {
	// ProjectByName resolves a project by its owner's username and the
	// project's own name, the addressing scheme overlay URLs use.
	ProjectByName(ctx context.Context, ownerUsername, projectName string) (model.Project, error)

	// ProjectByOwnerID resolves a project by (owner user id, project name).
	// No code path in this module calls it.
	ProjectByOwnerID(ctx context.Context, ownerUserID, projectName string) (model.Project, error)

	// Project resolves a project by its name alone, the addressing scheme
	// the control API's `{project_name}` path segment uses (no owner
	// segment there; project names are unique).
	Project(ctx context.Context, projectName string) (model.Project, error)

	// Scene loads a scene and its ordered objects, scoped to a project.
	Scene(ctx context.Context, projectName string, sceneID int64) (model.Scene, error)

	// SceneByID loads a scene by id alone, for the push/out routes whose
	// request body carries no project_name.
	SceneByID(ctx context.Context, sceneID int64) (model.Scene, error)

	// Object loads a single object, scoped to a project, for control-path
	// type validation.
	Object(ctx context.Context, projectName string, objectID int64) (model.Object, error)

	// ScenesByProject lists every scene id belonging to a project, used by
	// the push path to clear siblings.
	ScenesByProject(ctx context.Context, projectName string) ([]int64, error)

	// UserIDByToken resolves a validated bearer token subject to a user id.
	// Token signature/expiry validation happens in src/authz; this call
	// only confirms the subject still exists and is usable.
	UserIDByToken(ctx context.Context, subject string) (string, error)

	// Grant returns the permission level a user holds on a project.
	// model.LevelNone, nil is returned for "no grant" rather than an error.
	Grant(ctx context.Context, projectName, userID string) (model.PermissionLevel, error)

	// GrantedUsers lists every user id holding viewer-or-higher permission
	// on a project, used to fan control/timer events out to every relevant
	// user room.
	GrantedUsers(ctx context.Context, projectName string) ([]string, error)
}

// ErrNotFound is returned by Adapter methods when the looked-up entity does
// not exist. Callers translate it to model.ErrNotFound.
var ErrNotFound = model.NewError(model.ErrNotFound, "not found")
