package users

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/quizforge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/quizforge-backend/internal/domain"
	"github.com/yungbote/quizforge-backend/internal/pkg/dbctx"
)

func TestUserRepoEmailNormalization(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewUserRepo(db, testutil.Logger(t))

	u := &types.User{
		ID:       uuid.New(),
		Email:    "  Ada@Example.COM ",
		Password: "hashed-password",
		Tier:     types.TierFree,
	}
	if err := repo.Create(dbc, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Email != "ada@example.com" {
		t.Fatalf("email not normalized on create: %q", u.Email)
	}

	got, err := repo.GetByEmail(dbc, "ADA@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Fatalf("lookup by differently-cased email failed")
	}

	got, err = repo.GetByEmail(dbc, "nobody@example.com")
	if err != nil {
		t.Fatalf("get unknown email: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown email")
	}
}

func TestUserRepoGetByID(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewUserRepo(db, testutil.Logger(t))

	u := &types.User{ID: uuid.New(), Email: "b@example.com", Password: "x", Tier: types.TierPro}
	if err := repo.Create(dbc, u); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByID(dbc, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Tier != types.TierPro {
		t.Fatalf("user not found or tier lost")
	}

	got, err = repo.GetByID(dbc, uuid.Nil)
	if err != nil {
		t.Fatalf("nil id: %v", err)
	}
	if got != nil {
		t.Fatalf("nil id must return nil user")
	}
}
