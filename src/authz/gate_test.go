package authz

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"overlaycore/src/model"
	"overlaycore/src/persistence"
)

const testSecret = "test-secret"

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newFixture(t *testing.T) (*Gate, *persistence.MemoryAdapter) {
	t.Helper()
	adapter := persistence.NewMemoryAdapter()
	adapter.SeedProject(model.Project{OwnerUserID: "u-owner", OwnerName: "acme", Name: "show"}, nil)
	adapter.SeedToken("tok-subject", "u-owner")
	adapter.SeedGrant("show", "u-editor", model.LevelEditor)
	return New(testSecret, adapter), adapter
}

func TestAuthenticateValidToken(t *testing.T) {
	g, _ := newFixture(t)
	principal, err := g.Authenticate(context.Background(), signToken(t, "tok-subject"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal.UserID != "u-owner" || !principal.Authenticated {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	g, _ := newFixture(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "tok-subject"},
	})
	signed, _ := token.SignedString([]byte("wrong-secret"))

	if _, err := g.Authenticate(context.Background(), signed); err == nil {
		t.Fatalf("expected error for token signed with the wrong secret")
	}
}

func TestAuthenticateRejectsUnknownSubject(t *testing.T) {
	g, _ := newFixture(t)
	if _, err := g.Authenticate(context.Background(), signToken(t, "nobody")); err == nil {
		t.Fatalf("expected error for a subject the adapter doesn't recognize")
	}
}

func TestAuthorizeEnforcesMinimumLevel(t *testing.T) {
	g, _ := newFixture(t)
	owner := Principal{UserID: "u-owner", Authenticated: true}
	editor := Principal{UserID: "u-editor", Authenticated: true}
	stranger := Principal{UserID: "u-nobody", Authenticated: true}

	if err := g.Authorize(context.Background(), "show", owner, model.LevelEditor); err != nil {
		t.Fatalf("owner should satisfy editor+: %v", err)
	}
	if err := g.Authorize(context.Background(), "show", editor, model.LevelEditor); err != nil {
		t.Fatalf("editor should satisfy editor+: %v", err)
	}
	if err := g.Authorize(context.Background(), "show", stranger, model.LevelViewer); err == nil {
		t.Fatalf("stranger with no grant should fail viewer+")
	}
}

func TestResolveJoinRuleExplicitRoom(t *testing.T) {
	g, _ := newFixture(t)
	result, err := g.ResolveJoin(context.Background(), JoinRequest{Room: "user_u-owner_channel_main"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.RoomNames) != 1 || result.RoomNames[0] != "user_u-owner_channel_main" {
		t.Fatalf("expected verbatim room join, got %v", result.RoomNames)
	}
}

func TestResolveJoinRuleAuthenticatedEditorJoinsBothRooms(t *testing.T) {
	g, _ := newFixture(t)
	result, err := g.ResolveJoin(context.Background(), JoinRequest{
		Project:     "acme/show",
		BearerToken: signToken(t, "tok-subject"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.RoomNames) != 2 {
		t.Fatalf("expected project room + user room, got %v", result.RoomNames)
	}
}

func TestResolveJoinRuleAuthenticatedEditorUserRoomTypeOnly(t *testing.T) {
	g, _ := newFixture(t)
	result, err := g.ResolveJoin(context.Background(), JoinRequest{
		Project:     "acme/show",
		RoomType:    "user",
		BearerToken: signToken(t, "tok-subject"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.RoomNames) != 1 || result.RoomNames[0] != "user_u-owner" {
		t.Fatalf("expected only the user room, got %v", result.RoomNames)
	}
}

func TestResolveJoinRuleAnonymousOverlay(t *testing.T) {
	g, _ := newFixture(t)
	result, err := g.ResolveJoin(context.Background(), JoinRequest{Project: "acme/show"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.RoomNames) != 1 || result.RoomNames[0] != "user_u-owner" {
		t.Fatalf("expected the owner's user room, got %v", result.RoomNames)
	}
	if result.Principal.Authenticated {
		t.Fatalf("anonymous join must not produce an authenticated principal")
	}
}

func TestResolveJoinRuleFourRejectsUnknownProject(t *testing.T) {
	g, _ := newFixture(t)
	_, err := g.ResolveJoin(context.Background(), JoinRequest{Project: "acme/does-not-exist"})
	if err == nil {
		t.Fatalf("expected error for an unknown project")
	}
}
