package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swapplan/swapplan/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "plans.db"), filepath.Join(dir, "plans.lock"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func receipt(status string) model.PlanReceipt {
	now := time.Now().UTC()
	return model.PlanReceipt{
		ID:          uuid.NewString(),
		AccountID:   "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R",
		SourceAsset: "USDC",
		DestAsset:   "SOL",
		AmountIn:    decimal.RequireFromString("20"),
		AmountOut:   decimal.RequireFromString("0.098"),
		Route:       "Whirlpool",
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestStoreSaveGetList(t *testing.T) {
	s := openStore(t)

	rec := receipt(model.PlanStatusCancelled)
	rec.RequiresManualApproval = true
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != rec.ID || got.SourceAsset != "USDC" || !got.RequiresManualApproval {
		t.Fatalf("unexpected receipt: %+v", got)
	}
	if !got.AmountIn.Equal(rec.AmountIn) {
		t.Fatalf("amount in = %s, want %s", got.AmountIn, rec.AmountIn)
	}

	// An approved re-run finishes the same plan; the upsert replaces the
	// cancelled record.
	got.Status = model.PlanStatusDone
	got.RequiresManualApproval = true
	got.UpdatedAt = time.Now().UTC()
	if err := s.Save(got); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}

	done, err := s.List(model.PlanStatusDone, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(done) != 1 {
		t.Fatalf("expected one done plan, got %d", len(done))
	}
	cancelled, err := s.List(model.PlanStatusCancelled, 10)
	if err != nil {
		t.Fatalf("List cancelled failed: %v", err)
	}
	if len(cancelled) != 0 {
		t.Fatalf("expected upsert to replace cancelled record, got %d", len(cancelled))
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	s := openStore(t)

	older := receipt(model.PlanStatusDone)
	older.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	newer := receipt(model.PlanStatusDone)
	if err := s.Save(older); err != nil {
		t.Fatalf("Save older failed: %v", err)
	}
	if err := s.Save(newer); err != nil {
		t.Fatalf("Save newer failed: %v", err)
	}

	all, err := s.List("", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two plans, got %d", len(all))
	}
	if all[0].ID != newer.ID {
		t.Fatalf("expected newest first, got %s", all[0].ID)
	}

	limited, err := s.List("", 1)
	if err != nil {
		t.Fatalf("List limited failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != newer.ID {
		t.Fatalf("limit should keep the newest, got %+v", limited)
	}
}

func TestStoreGetMissingPlan(t *testing.T) {
	s := openStore(t)

	_, err := s.Get("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRejectsEmptyPlanID(t *testing.T) {
	s := openStore(t)

	if err := s.Save(model.PlanReceipt{}); err == nil {
		t.Fatal("expected missing plan id error")
	}
}
