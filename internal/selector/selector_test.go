package selector

import (
	"testing"

	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/model"
)

func TestPickLeastUsed(t *testing.T) {
	a := model.Account{ID: uuid.New(), CommentCount: 5}
	b := model.Account{ID: uuid.New(), CommentCount: 2}
	c := model.Account{ID: uuid.New(), CommentCount: 8}

	got := pickLeastUsed([]model.Account{a, b, c})
	if got.ID != b.ID {
		t.Errorf("pickLeastUsed() = %v (count %d), want the account with the fewest comments (%v, count %d)", got.ID, got.CommentCount, b.ID, b.CommentCount)
	}
}

func TestExcludeLastAccount(t *testing.T) {
	a := model.Account{ID: uuid.New()}
	b := model.Account{ID: uuid.New()}
	accounts := []model.Account{a, b}

	out := ExcludeLastAccount(accounts, a.ID)
	if len(out) != 1 || out[0].ID != b.ID {
		t.Fatalf("ExcludeLastAccount() = %v, want only b left", out)
	}
}

func TestExcludeLastAccount_NilExclusion(t *testing.T) {
	accounts := []model.Account{{ID: uuid.New()}}
	out := ExcludeLastAccount(accounts, uuid.Nil)
	if len(out) != len(accounts) {
		t.Errorf("ExcludeLastAccount() with uuid.Nil changed the list, want it unchanged")
	}
}

func TestExcludeLastAccount_WouldEmptyPoolKeepsOriginal(t *testing.T) {
	only := model.Account{ID: uuid.New()}
	out := ExcludeLastAccount([]model.Account{only}, only.ID)
	if len(out) != 1 || out[0].ID != only.ID {
		t.Errorf("ExcludeLastAccount() emptied the pool when the excluded account was the only candidate; want the original pool kept so dispatch can still proceed")
	}
}
