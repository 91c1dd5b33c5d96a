// Package model holds the typed entities the live-state core reads from the
// persistence adapter or derives internally. Nothing here is ever written
// back to the persistence store.
package model

import "fmt"

// ObjectType enumerates the scene object kinds the control API knows how to
// mutate live. Unknown types read from the persistence adapter are kept as
// the raw string so pass-through/display still works; only these four are
// valid targets for a control command.
type ObjectType string

const (
	ObjectText  ObjectType = "text"
	ObjectImage ObjectType = "image"
	ObjectShape ObjectType = "shape"
	ObjectTimer ObjectType = "timer"
)

// PermissionLevel orders project access grants. Zero value (LevelNone) is
// "no grant" and must never satisfy a viewer+ check.
type PermissionLevel int

const (
	LevelNone PermissionLevel = iota
	LevelViewer
	LevelEditor
	LevelOwner
)

// AtLeast reports whether p is at or above min.
func (p PermissionLevel) AtLeast(min PermissionLevel) bool {
	return p >= min
}

func (p PermissionLevel) String() string {
	switch p {
	case LevelViewer:
		return "viewer"
	case LevelEditor:
		return "editor"
	case LevelOwner:
		return "owner"
	default:
		return "none"
	}
}

// DefaultChannel is used whenever a caller omits channel_id.
const DefaultChannel = "default"

// Project identifies a project by its owning user and name.
type Project struct {
	OwnerUserID string
	OwnerName   string // username, used to build public overlay URLs
	Name        string
}

// Object is a scene member with a stable id, a type tag, and baseline
// properties. Properties are intentionally loosely typed: the live-override
// keyspace is open-ended and editor-defined.
type Object struct {
	ID         int64
	Type       ObjectType
	Order      int
	Properties map[string]any
}

// Scene belongs to a project and has an ordered list of objects.
type Scene struct {
	ID      int64
	Project string
	Objects []Object
}

// Grant is a (user, project) permission record read from the persistence
// adapter.
type Grant struct {
	UserID string
	Level  PermissionLevel
}

// RoomKind enumerates the three addressable room shapes: a project's room,
// a user's room, and a user's per-channel room. Modeled as a sum type so
// join resolution and emit-target enumeration are exhaustive.
type RoomKind int

const (
	RoomProject RoomKind = iota
	RoomUser
	RoomUserChannel
)

// Room is one addressable broadcaster room.
type Room struct {
	Kind    RoomKind
	Project string
	UserID  string
	Channel string
}

// Name renders the room's canonical string key: project_<name>,
// user_<id>, or user_<id>_channel_<id>.
func (r Room) Name() string {
	switch r.Kind {
	case RoomProject:
		return "project_" + r.Project
	case RoomUser:
		return "user_" + r.UserID
	case RoomUserChannel:
		return fmt.Sprintf("user_%s_channel_%s", r.UserID, r.Channel)
	default:
		return ""
	}
}

// ProjectRoom builds the project_<name> room.
func ProjectRoom(project string) Room { return Room{Kind: RoomProject, Project: project} }

// UserRoom builds the user_<id> room.
func UserRoom(userID string) Room { return Room{Kind: RoomUser, UserID: userID} }

// UserChannelRoom builds the user_<id>_channel_<id> room.
func UserChannelRoom(userID, channel string) Room {
	return Room{Kind: RoomUserChannel, UserID: userID, Channel: channel}
}

// ErrorKind enumerates the error taxonomy every public operation maps its
// failures to.
type ErrorKind int

const (
	ErrInternal ErrorKind = iota
	ErrNotFound
	ErrUnauthenticated
	ErrUnauthorized
	ErrInvalidArgument
	ErrConflict
)

// Error is the structured error every public operation in this module
// returns instead of mutating or emitting on failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// NewError builds a tagged Error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
