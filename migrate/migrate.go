// Package migrate applies schema migrations in deterministic order, tracking
// what has been applied in a ledger table. Each migration runs inside its own
// transaction together with its ledger record, so a failed script leaves
// neither schema changes nor a ledger entry behind.
package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/sqlift/sqlift/pkg/logger"
	"github.com/sqlift/sqlift/postgres"
	"github.com/sqlift/sqlift/query"
)

// DefaultLedgerTable is where applied migration identifiers are recorded.
const DefaultLedgerTable = "schema_migrations"

// Record is one ledger row.
type Record struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	AppliedAt time.Time `db:"applied_at"`
}

// Runner applies migrations against one database.
type Runner struct {
	client *postgres.Client
	// LedgerTable overrides the ledger table name. Set it before the first
	// run.
	LedgerTable string
}

func NewRunner(client *postgres.Client) *Runner {
	return &Runner{client: client, LedgerTable: DefaultLedgerTable}
}

// ToLatest applies every migration whose ID is greater than the highest
// recorded one, in ascending order, and returns how many were applied.
// The first failure stops the run: that migration's changes and its ledger
// update roll back together, later migrations are not attempted, and the
// error is surfaced. A run with nothing pending applies zero and succeeds.
//
// A session advisory lock guards the whole run, so concurrent runners on the
// same database serialize instead of racing.
func (r *Runner) ToLatest(ctx context.Context, src Source) (int, error) {
	migrations, err := src.Migrations()
	if err != nil {
		return 0, err
	}
	h, unlock, err := r.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if err := r.ensureLedger(ctx, h); err != nil {
		return 0, err
	}
	latest, err := r.latestApplied(ctx, h)
	if err != nil {
		return 0, err
	}
	log := logger.FromContext(ctx).With("ledger_table", r.LedgerTable)
	applied := 0
	for _, m := range migrations {
		if m.ID <= latest {
			continue
		}
		if err := r.apply(ctx, h, m); err != nil {
			return applied, fmt.Errorf("migrate: apply %s: %w", m.ID, err)
		}
		log.Info("Applied migration", "id", m.ID, "name", m.Name)
		applied++
	}
	if applied == 0 {
		log.Debug("No pending migrations")
	}
	return applied, nil
}

// Rollback reverts the most recently applied migration using its down
// script, removing its ledger row in the same transaction. Migrations
// without a down script cannot be rolled back.
func (r *Runner) Rollback(ctx context.Context, src Source) error {
	migrations, err := src.Migrations()
	if err != nil {
		return err
	}
	h, unlock, err := r.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.ensureLedger(ctx, h); err != nil {
		return err
	}
	latest, err := r.latestApplied(ctx, h)
	if err != nil {
		return err
	}
	if latest == "" {
		return fmt.Errorf("migrate: nothing to roll back")
	}
	var target *Migration
	for i := range migrations {
		if migrations[i].ID == latest {
			target = &migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migrate: applied migration %s not present in source", latest)
	}
	if target.Down == "" {
		return fmt.Errorf("migrate: migration %s has no down script", latest)
	}
	err = h.Transaction(ctx, func(tx *postgres.Tx) error {
		if err := tx.ExecRaw(ctx, target.Down); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, query.Delete(r.LedgerTable).WhereEq("id", target.ID))
		return err
	})
	if err != nil {
		return fmt.Errorf("migrate: roll back %s: %w", latest, err)
	}
	logger.FromContext(ctx).Info("Rolled back migration", "id", target.ID, "name", target.Name)
	return nil
}

// Applied lists the ledger in application order.
func (r *Runner) Applied(ctx context.Context) ([]Record, error) {
	h, err := r.client.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	err = r.ensureLedger(ctx, h)
	h.Release()
	if err != nil {
		return nil, err
	}
	var records []Record
	err = r.client.Select(ctx, &records,
		query.Select("id", "name", "applied_at").From(r.LedgerTable).OrderBy("id"))
	if err != nil {
		return nil, err
	}
	return records, nil
}

// lock takes a session advisory lock on a connection held for the whole run.
// Every ledger read and migration transaction reuses the returned handle, so
// a run needs exactly one pooled connection. The unlock func releases the
// lock and the connection; it runs with cancellation stripped so an expired
// context cannot leave the lock held.
func (r *Runner) lock(ctx context.Context) (*postgres.Handle, func(), error) {
	h, err := r.client.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	if _, err := h.Exec(ctx,
		"SELECT pg_advisory_lock(hashtext($1), hashtext($2))",
		r.LedgerTable, "migrate",
	); err != nil {
		h.Release()
		return nil, nil, fmt.Errorf("migrate: acquire advisory lock: %w", err)
	}
	return h, func() {
		if _, err := h.Exec(context.WithoutCancel(ctx),
			"SELECT pg_advisory_unlock(hashtext($1), hashtext($2))",
			r.LedgerTable, "migrate",
		); err != nil {
			logger.FromContext(ctx).Warn("Failed to release migration advisory lock", "error", err)
		}
		h.Release()
	}, nil
}

func (r *Runner) ensureLedger(ctx context.Context, h *postgres.Handle) error {
	_, err := h.Run(ctx, query.CreateTable(r.LedgerTable).
		IfNotExists().
		Column("id", "text", "PRIMARY KEY").
		Column("name", "text", "NOT NULL DEFAULT ''").
		Column("applied_at", "timestamptz", "NOT NULL"))
	if err != nil {
		return fmt.Errorf("migrate: ensure ledger table: %w", err)
	}
	return nil
}

func (r *Runner) latestApplied(ctx context.Context, h *postgres.Handle) (string, error) {
	rs, err := h.Run(ctx,
		query.Select("id").From(r.LedgerTable).OrderByDesc("id").Limit(1))
	if err != nil {
		return "", fmt.Errorf("migrate: read ledger: %w", err)
	}
	row, ok := rs.First()
	if !ok {
		return "", nil
	}
	id, _ := row["id"].(string)
	return id, nil
}

func (r *Runner) apply(ctx context.Context, h *postgres.Handle, m Migration) error {
	return h.Transaction(ctx, func(tx *postgres.Tx) error {
		if err := tx.ExecRaw(ctx, m.Up); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, query.Insert(r.LedgerTable).Values(map[string]any{
			"id":         m.ID,
			"name":       m.Name,
			"applied_at": time.Now().UTC(),
		}))
		return err
	})
}
