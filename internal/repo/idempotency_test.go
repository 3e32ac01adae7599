package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-newsletter/internal/domain"
)

func TestInsertIdempotencyPlaceholder_ClaimThenDuplicate(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	if err := InsertIdempotencyPlaceholder(ctx, db, "u1", "k1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := InsertIdempotencyPlaceholder(ctx, db, "u1", "k1"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on second claim, got %v", err)
	}

	// Same key for another user is a different record.
	if err := InsertIdempotencyPlaceholder(ctx, db, "u2", "k1"); err != nil {
		t.Fatalf("claim for other user: %v", err)
	}

	rec, err := GetIdempotency(ctx, db, "u1", "k1")
	if err != nil {
		t.Fatalf("GetIdempotency: %v", err)
	}
	if rec.Completed() {
		t.Fatalf("fresh claim must be a placeholder, got %+v", rec)
	}
}

func TestGetIdempotency_Missing(t *testing.T) {
	db := newRepoDB(t)
	rec, err := GetIdempotency(context.Background(), db, "u1", "missing")
	if rec != nil || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected (nil, ErrNotFound), got (%v, %v)", rec, err)
	}
}

func TestSaveIdempotencyResponse_CompletesPlaceholder(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	if err := InsertIdempotencyPlaceholder(ctx, db, "u1", "k1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	resp := &domain.SavedResponse{
		StatusCode: 200,
		Headers: []domain.HeaderPair{
			{Name: "Content-Type", Value: []byte("application/json; charset=utf-8")},
			{Name: "X-Trace", Value: []byte("a")},
			{Name: "X-Trace", Value: []byte("b")},
		},
		Body: []byte(`{"status":"accepted"}`),
	}
	if err := SaveIdempotencyResponse(ctx, db, "u1", "k1", resp); err != nil {
		t.Fatalf("SaveIdempotencyResponse: %v", err)
	}

	rec, err := GetIdempotency(ctx, db, "u1", "k1")
	if err != nil {
		t.Fatalf("GetIdempotency: %v", err)
	}
	got := rec.Response()
	if got == nil || got.StatusCode != 200 || string(got.Body) != string(resp.Body) {
		t.Fatalf("unexpected saved response: %+v", got)
	}
	if len(got.Headers) != 3 || string(got.Headers[1].Value) != "a" || string(got.Headers[2].Value) != "b" {
		t.Fatalf("headers not preserved in order: %+v", got.Headers)
	}
}

func TestSaveIdempotencyResponse_NoPlaceholder(t *testing.T) {
	db := newRepoDB(t)
	err := SaveIdempotencyResponse(context.Background(), db, "u1", "nope", &domain.SavedResponse{StatusCode: 200})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertIdempotencyPlaceholder_RolledBackClaimFreesKey(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	tx := db.Begin()
	if err := InsertIdempotencyPlaceholder(ctx, tx, "u1", "k1"); err != nil {
		t.Fatalf("claim in tx: %v", err)
	}
	tx.Rollback()

	if err := InsertIdempotencyPlaceholder(ctx, db, "u1", "k1"); err != nil {
		t.Fatalf("expected key to be free after rollback, got %v", err)
	}
}
