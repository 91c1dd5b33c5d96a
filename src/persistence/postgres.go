package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"overlaycore/src/model"
)

// PostgresAdapter reads projects, scenes, objects, users, and permission
// grants from the relational datastore DATABASE_URL points at. It never
// issues a write statement; every method here is a SELECT.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

// NewPostgresAdapter opens a pooled connection to databaseURL. The pool is
// lazily connected; callers should follow up with a health check (e.g.
// pool.Ping) before serving traffic.
func NewPostgresAdapter(ctx context.Context, databaseURL string) (*PostgresAdapter, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	return &PostgresAdapter{pool: pool}, nil
}

// Close releases the connection pool.
func (a *PostgresAdapter) Close() { a.pool.Close() }

func (a *PostgresAdapter) ProjectByName(ctx context.Context, ownerUsername, projectName string) (model.Project, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT p.name, u.id, u.username
		FROM projects p
		JOIN users u ON u.id = p.owner_user_id
		WHERE u.username = $1 AND p.name = $2`, ownerUsername, projectName)

	var p model.Project
	if err := row.Scan(&p.Name, &p.OwnerUserID, &p.OwnerName); err != nil {
		return model.Project{}, wrapNotFound(err)
	}
	return p, nil
}

func (a *PostgresAdapter) ProjectByOwnerID(ctx context.Context, ownerUserID, projectName string) (model.Project, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT p.name, u.id, u.username
		FROM projects p
		JOIN users u ON u.id = p.owner_user_id
		WHERE u.id = $1 AND p.name = $2`, ownerUserID, projectName)

	var p model.Project
	if err := row.Scan(&p.Name, &p.OwnerUserID, &p.OwnerName); err != nil {
		return model.Project{}, wrapNotFound(err)
	}
	return p, nil
}

func (a *PostgresAdapter) Project(ctx context.Context, projectName string) (model.Project, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT p.name, u.id, u.username
		FROM projects p
		JOIN users u ON u.id = p.owner_user_id
		WHERE p.name = $1`, projectName)

	var p model.Project
	if err := row.Scan(&p.Name, &p.OwnerUserID, &p.OwnerName); err != nil {
		return model.Project{}, wrapNotFound(err)
	}
	return p, nil
}

func (a *PostgresAdapter) Scene(ctx context.Context, projectName string, sceneID int64) (model.Scene, error) {
	var scene model.Scene
	scene.ID = sceneID
	scene.Project = projectName

	var exists bool
	if err := a.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM scenes s JOIN projects p ON p.id = s.project_id
			WHERE s.id = $1 AND p.name = $2)`, sceneID, projectName).Scan(&exists); err != nil {
		return model.Scene{}, wrapNotFound(err)
	}
	if !exists {
		return model.Scene{}, ErrNotFound
	}

	rows, err := a.pool.Query(ctx, `
		SELECT o.id, o.type, o."order", o.properties
		FROM objects o
		WHERE o.scene_id = $1
		ORDER BY o."order"`, sceneID)
	if err != nil {
		return model.Scene{}, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o model.Object
		var typeStr string
		if err := rows.Scan(&o.ID, &typeStr, &o.Order, &o.Properties); err != nil {
			return model.Scene{}, fmt.Errorf("scan object: %w", err)
		}
		o.Type = model.ObjectType(typeStr)
		scene.Objects = append(scene.Objects, o)
	}
	return scene, rows.Err()
}

func (a *PostgresAdapter) SceneByID(ctx context.Context, sceneID int64) (model.Scene, error) {
	var scene model.Scene
	scene.ID = sceneID
	if err := a.pool.QueryRow(ctx, `
		SELECT p.name FROM scenes s
		JOIN projects p ON p.id = s.project_id
		WHERE s.id = $1`, sceneID).Scan(&scene.Project); err != nil {
		return model.Scene{}, wrapNotFound(err)
	}

	rows, err := a.pool.Query(ctx, `
		SELECT o.id, o.type, o."order", o.properties
		FROM objects o
		WHERE o.scene_id = $1
		ORDER BY o."order"`, sceneID)
	if err != nil {
		return model.Scene{}, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o model.Object
		var typeStr string
		if err := rows.Scan(&o.ID, &typeStr, &o.Order, &o.Properties); err != nil {
			return model.Scene{}, fmt.Errorf("scan object: %w", err)
		}
		o.Type = model.ObjectType(typeStr)
		scene.Objects = append(scene.Objects, o)
	}
	return scene, rows.Err()
}

func (a *PostgresAdapter) Object(ctx context.Context, projectName string, objectID int64) (model.Object, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT o.id, o.type, o."order", o.properties
		FROM objects o
		JOIN scenes s ON s.id = o.scene_id
		JOIN projects p ON p.id = s.project_id
		WHERE o.id = $1 AND p.name = $2`, objectID, projectName)

	var o model.Object
	var typeStr string
	if err := row.Scan(&o.ID, &typeStr, &o.Order, &o.Properties); err != nil {
		return model.Object{}, wrapNotFound(err)
	}
	o.Type = model.ObjectType(typeStr)
	return o, nil
}

func (a *PostgresAdapter) ScenesByProject(ctx context.Context, projectName string) ([]int64, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT s.id FROM scenes s
		JOIN projects p ON p.id = s.project_id
		WHERE p.name = $1`, projectName)
	if err != nil {
		return nil, fmt.Errorf("query scenes: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan scene id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (a *PostgresAdapter) UserIDByToken(ctx context.Context, subject string) (string, error) {
	var userID string
	if err := a.pool.QueryRow(ctx, `SELECT id FROM users WHERE id = $1`, subject).Scan(&userID); err != nil {
		return "", wrapNotFound(err)
	}
	return userID, nil
}

func (a *PostgresAdapter) Grant(ctx context.Context, projectName, userID string) (model.PermissionLevel, error) {
	var levelStr string
	err := a.pool.QueryRow(ctx, `
		SELECT g.level FROM project_grants g
		JOIN projects p ON p.id = g.project_id
		WHERE p.name = $1 AND g.user_id = $2`, projectName, userID).Scan(&levelStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LevelNone, nil
	}
	if err != nil {
		return model.LevelNone, fmt.Errorf("query grant: %w", err)
	}
	return parseLevel(levelStr), nil
}

func (a *PostgresAdapter) GrantedUsers(ctx context.Context, projectName string) ([]string, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT g.user_id FROM project_grants g
		JOIN projects p ON p.id = g.project_id
		WHERE p.name = $1 AND g.level IN ('viewer', 'editor', 'owner')`, projectName)
	if err != nil {
		return nil, fmt.Errorf("query granted users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan granted user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func parseLevel(s string) model.PermissionLevel {
	switch s {
	case "owner":
		return model.LevelOwner
	case "editor":
		return model.LevelEditor
	case "viewer":
		return model.LevelViewer
	default:
		return model.LevelNone
	}
}

func wrapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("query: %w", err)
}

var _ Adapter = (*PostgresAdapter)(nil)
