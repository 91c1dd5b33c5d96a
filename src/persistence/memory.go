package persistence

import (
	"context"
	"sort"
	"sync"

	"overlaycore/src/model"
)

// MemoryAdapter is an in-memory Adapter, used for tests and for running the
// core standalone without a Postgres instance. A single RWMutex guards
// plain Go maps, safe for concurrent reads and writes.
type MemoryAdapter struct {
	mu       sync.RWMutex
	projects map[string]model.Project          // keyed by project name
	scenes   map[string]map[int64]model.Scene  // project -> scene id -> scene
	objects  map[string]map[int64]model.Object // project -> object id -> object
	tokens   map[string]string                 // token subject -> user id
	grants   map[string]map[string]model.PermissionLevel // project -> user id -> level
}

// NewMemoryAdapter returns an empty MemoryAdapter ready for Seed calls.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		projects: make(map[string]model.Project),
		scenes:   make(map[string]map[int64]model.Scene),
		objects:  make(map[string]map[int64]model.Object),
		tokens:   make(map[string]string),
		grants:   make(map[string]map[string]model.PermissionLevel),
	}
}

// SeedProject registers a project and its scenes/objects, and grants its
// owner the owner permission level.
func (m *MemoryAdapter) SeedProject(p model.Project, scenes []model.Scene) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.projects[p.Name] = p
	if _, ok := m.scenes[p.Name]; !ok {
		m.scenes[p.Name] = make(map[int64]model.Scene)
	}
	if _, ok := m.objects[p.Name]; !ok {
		m.objects[p.Name] = make(map[int64]model.Object)
	}
	for _, s := range scenes {
		m.scenes[p.Name][s.ID] = s
		for _, o := range s.Objects {
			m.objects[p.Name][o.ID] = o
		}
	}
	if _, ok := m.grants[p.Name]; !ok {
		m.grants[p.Name] = make(map[string]model.PermissionLevel)
	}
	m.grants[p.Name][p.OwnerUserID] = model.LevelOwner
}

// SeedToken maps a bearer token subject to a user id.
func (m *MemoryAdapter) SeedToken(subject, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[subject] = userID
}

// SeedGrant grants userID a permission level on projectName.
func (m *MemoryAdapter) SeedGrant(projectName, userID string, level model.PermissionLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grants[projectName]; !ok {
		m.grants[projectName] = make(map[string]model.PermissionLevel)
	}
	m.grants[projectName][userID] = level
}

func (m *MemoryAdapter) ProjectByName(_ context.Context, ownerUsername, projectName string) (model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectName]
	if !ok || p.OwnerName != ownerUsername {
		return model.Project{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryAdapter) ProjectByOwnerID(_ context.Context, ownerUserID, projectName string) (model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectName]
	if !ok || p.OwnerUserID != ownerUserID {
		return model.Project{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryAdapter) Project(_ context.Context, projectName string) (model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectName]
	if !ok {
		return model.Project{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryAdapter) Scene(_ context.Context, projectName string, sceneID int64) (model.Scene, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scenes, ok := m.scenes[projectName]
	if !ok {
		return model.Scene{}, ErrNotFound
	}
	s, ok := scenes[sceneID]
	if !ok {
		return model.Scene{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryAdapter) SceneByID(_ context.Context, sceneID int64) (model.Scene, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, scenes := range m.scenes {
		if s, ok := scenes[sceneID]; ok {
			return s, nil
		}
	}
	return model.Scene{}, ErrNotFound
}

func (m *MemoryAdapter) Object(_ context.Context, projectName string, objectID int64) (model.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	objs, ok := m.objects[projectName]
	if !ok {
		return model.Object{}, ErrNotFound
	}
	o, ok := objs[objectID]
	if !ok {
		return model.Object{}, ErrNotFound
	}
	return o, nil
}

func (m *MemoryAdapter) ScenesByProject(_ context.Context, projectName string) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scenes, ok := m.scenes[projectName]
	if !ok {
		return nil, ErrNotFound
	}
	ids := make([]int64, 0, len(scenes))
	for id := range scenes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryAdapter) UserIDByToken(_ context.Context, subject string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	userID, ok := m.tokens[subject]
	if !ok {
		return "", ErrNotFound
	}
	return userID, nil
}

func (m *MemoryAdapter) Grant(_ context.Context, projectName, userID string) (model.PermissionLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	grants, ok := m.grants[projectName]
	if !ok {
		return model.LevelNone, nil
	}
	return grants[userID], nil
}

func (m *MemoryAdapter) GrantedUsers(_ context.Context, projectName string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	grants, ok := m.grants[projectName]
	if !ok {
		return nil, nil
	}
	users := make([]string, 0, len(grants))
	for userID, level := range grants {
		if level.AtLeast(model.LevelViewer) {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users, nil
}

var _ Adapter = (*MemoryAdapter)(nil)
