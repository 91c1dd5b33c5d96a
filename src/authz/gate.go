// Package authz implements editor bearer-token authentication, overlay
// principal resolution, permission-level checks, and the four-rule join
// resolution the broadcaster's `join` event drives.
package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"overlaycore/src/model"
	"overlaycore/src/persistence"
)

// Principal is the resolved caller of a command or join request. Overlay
// principals are never Authenticated and carry no UserID of their own.
type Principal struct {
	UserID        string
	Authenticated bool
}

// Gate resolves principals and permission levels against the persistence
// adapter. The zero value is not usable; construct with New.
type Gate struct {
	secret  []byte
	adapter persistence.Adapter
}

// New returns a Gate that validates bearer tokens with jwtSecret and checks
// permissions through adapter.
func New(jwtSecret string, adapter persistence.Adapter) *Gate {
	return &Gate{secret: []byte(jwtSecret), adapter: adapter}
}

type claims struct {
	jwt.RegisteredClaims
}

// Authenticate parses and verifies a bearer token, then resolves its
// subject claim to a user id through the persistence adapter (token
// signature/expiry is validated here; the adapter only confirms the
// resolved subject still names a usable user, per the comment on
// persistence.Adapter.UserIDByToken).
func (g *Gate) Authenticate(ctx context.Context, bearerToken string) (Principal, error) {
	token, err := jwt.ParseWithClaims(bearerToken, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return Principal{}, model.NewError(model.ErrUnauthenticated, "invalid bearer token")
	}
	c, ok := token.Claims.(*claims)
	if !ok || c.Subject == "" {
		return Principal{}, model.NewError(model.ErrUnauthenticated, "token missing subject")
	}

	userID, err := g.adapter.UserIDByToken(ctx, c.Subject)
	if err != nil {
		return Principal{}, model.NewError(model.ErrUnauthenticated, "token subject not recognized")
	}
	return Principal{UserID: userID, Authenticated: true}, nil
}

// Level returns the permission level principal holds on projectName.
func (g *Gate) Level(ctx context.Context, projectName string, principal Principal) (model.PermissionLevel, error) {
	if !principal.Authenticated {
		return model.LevelNone, nil
	}
	return g.adapter.Grant(ctx, projectName, principal.UserID)
}

// Authorize returns an Unauthorized error unless principal holds at least
// min permission on projectName.
func (g *Gate) Authorize(ctx context.Context, projectName string, principal Principal, min model.PermissionLevel) error {
	level, err := g.Level(ctx, projectName, principal)
	if err != nil {
		return err
	}
	if !level.AtLeast(min) {
		return model.NewError(model.ErrUnauthorized, "requires %s or higher on %s", min, projectName)
	}
	return nil
}

// ExtractBearerToken pulls the token out of a standard `Authorization:
// Bearer <token>` header value. Returns "" if the header doesn't carry one.
func ExtractBearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

// JoinRequest is the decoded payload of the broadcaster's inbound `join`
// event.
type JoinRequest struct {
	Room        string // explicit room name, rule 1
	Project     string // owner_username/project_name, rules 2-3
	UserID      string // optional client-supplied user id, rule 3
	RoomType    string // "user" narrows rule 2 to the user room only
	BearerToken string // present only for rule 2
}

// JoinResult is what the broadcaster should actually join the session to.
type JoinResult struct {
	RoomNames []string
	Principal Principal
}

// ResolveJoin implements the four join resolution rules in order: an
// explicit room, an authenticated editor, and an anonymous overlay
// principal. Any failure returns a *model.Error suitable for the
// broadcaster's outbound `error` event.
func (g *Gate) ResolveJoin(ctx context.Context, req JoinRequest) (JoinResult, error) {
	// Rule 1: an explicit room field is joined verbatim.
	if req.Room != "" {
		return JoinResult{RoomNames: []string{req.Room}}, nil
	}

	if req.Project == "" {
		return JoinResult{}, model.NewError(model.ErrInvalidArgument, "join requires room or project")
	}
	ownerUsername, projectName, ok := splitProject(req.Project)
	if !ok {
		return JoinResult{}, model.NewError(model.ErrInvalidArgument, "malformed project %q", req.Project)
	}

	// Rule 2: an authenticated editor.
	if req.BearerToken != "" {
		principal, err := g.Authenticate(ctx, req.BearerToken)
		if err != nil {
			return JoinResult{}, err
		}
		proj, err := g.adapter.ProjectByName(ctx, ownerUsername, projectName)
		if err != nil {
			return JoinResult{}, err
		}
		if err := g.Authorize(ctx, proj.Name, principal, model.LevelViewer); err != nil {
			return JoinResult{}, err
		}
		if req.RoomType == "user" {
			return JoinResult{RoomNames: []string{model.UserRoom(principal.UserID).Name()}, Principal: principal}, nil
		}
		return JoinResult{
			RoomNames: []string{model.ProjectRoom(proj.Name).Name(), model.UserRoom(principal.UserID).Name()},
			Principal: principal,
		}, nil
	}

	// Rule 3: anonymous overlay principal.
	proj, err := g.adapter.ProjectByName(ctx, ownerUsername, projectName)
	if err != nil {
		return JoinResult{}, err
	}
	ownerID := proj.OwnerUserID
	if req.UserID != "" {
		ownerID = req.UserID
	}
	return JoinResult{RoomNames: []string{model.UserRoom(ownerID).Name()}}, nil
}

func splitProject(project string) (ownerUsername, projectName string, ok bool) {
	parts := strings.SplitN(project, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
