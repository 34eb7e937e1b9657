package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/swapplan/swapplan/internal/model"
)

// ErrNotFound reports a plan ID absent from the store.
var ErrNotFound = errors.New("plan not found")

// Store persists finished plan receipts. The pipeline itself never
// touches it; the CLI records each cycle's outcome here and serves the
// history commands from it.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create plan store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create plan lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open plan sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS plans (
			plan_id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			pair TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_plans_status_updated ON plans(status, updated_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_plans_account_updated ON plans(account_id, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init plan schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the receipt by plan ID, so re-running a gated plan with
// approval overwrites its cancelled record with the final one.
func (s *Store) Save(receipt model.PlanReceipt) error {
	if strings.TrimSpace(receipt.ID) == "" {
		return fmt.Errorf("save plan: missing plan id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock plan store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock plan store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	createdUnix := receipt.CreatedAt.UTC().Unix()
	updatedUnix := receipt.UpdatedAt.UTC().Unix()
	if receipt.CreatedAt.IsZero() {
		createdUnix = time.Now().UTC().Unix()
	}
	if receipt.UpdatedAt.IsZero() {
		updatedUnix = time.Now().UTC().Unix()
	}
	pair := receipt.SourceAsset + "/" + receipt.DestAsset

	_, err = s.db.Exec(`
		INSERT INTO plans (plan_id, account_id, pair, status, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plan_id) DO UPDATE SET
			account_id=excluded.account_id,
			pair=excluded.pair,
			status=excluded.status,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, receipt.ID, receipt.AccountID, pair, receipt.Status, createdUnix, updatedUnix, payload)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

func (s *Store) Get(planID string) (model.PlanReceipt, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM plans WHERE plan_id = ?", planID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PlanReceipt{}, fmt.Errorf("%w: %s", ErrNotFound, planID)
		}
		return model.PlanReceipt{}, fmt.Errorf("read plan: %w", err)
	}
	var receipt model.PlanReceipt
	if err := json.Unmarshal(payload, &receipt); err != nil {
		return model.PlanReceipt{}, fmt.Errorf("decode plan payload: %w", err)
	}
	return receipt, nil
}

// List returns receipts newest first, optionally filtered by status.
func (s *Store) List(status string, limit int) ([]model.PlanReceipt, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = s.db.Query("SELECT payload FROM plans ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.Query("SELECT payload FROM plans WHERE status = ? ORDER BY updated_at DESC LIMIT ?", status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	receipts := make([]model.PlanReceipt, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan plan row: %w", err)
		}
		var receipt model.PlanReceipt
		if err := json.Unmarshal(payload, &receipt); err != nil {
			return nil, fmt.Errorf("decode plan row: %w", err)
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan rows: %w", err)
	}
	return receipts, nil
}
