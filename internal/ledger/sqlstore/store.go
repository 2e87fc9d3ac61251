// Package sqlstore persists ledger records through database/sql. The same
// code serves Postgres (lib/pq) and SQLite (modernc.org/sqlite); each
// record is stored as its canonical JSON payload alongside the columns
// used for lookups.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"arbiter/internal/ledger"
	"arbiter/pkg/platform/sentinel"
	txcontext "arbiter/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
	d  dialect
}

// Open connects with the given driver and applies migrations.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := Migrate(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, driver), nil
}

func New(db *sql.DB, driver Driver) *Store {
	return &Store{db: db, d: dialect{driver: driver}}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Health pings the database.
func (s *Store) Health(ctx context.Context) error { return s.db.PingContext(ctx) }

const selectColumns = `SELECT payload FROM audit_records`

func (s *Store) Head(ctx context.Context, partition string) (*ledger.AuditRecord, error) {
	row := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx,
		s.d.rebind(selectColumns+` WHERE partition_key = ? ORDER BY sequence DESC LIMIT 1`), partition)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read head of %s: %w", partition, err)
	}
	return rec, nil
}

func (s *Store) Insert(ctx context.Context, rec *ledger.AuditRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var corrects *string
	if rec.Corrects != nil {
		c := rec.Corrects.String()
		corrects = &c
	}

	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecerFrom(ctx, s.db)
		_, err := exec.ExecContext(ctx, s.d.rebind(`
			INSERT INTO audit_records (
				id, partition_key, sequence, entity_id, counterparty_id, event_type,
				recorded_at, retain_until, corrects, prev_hash, hash, payload
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			rec.ID.String(),
			rec.Partition,
			int64(rec.Sequence),
			rec.EntityID,
			rec.CounterpartyID,
			string(rec.EventType),
			rec.RecordedAt.UnixMicro(),
			rec.RetainUntil.UnixMicro(),
			corrects,
			rec.PrevHash,
			rec.Hash,
			string(payload),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("partition %s sequence %d: %w", rec.Partition, rec.Sequence, ledger.ErrSequenceTaken)
			}
			return fmt.Errorf("insert record: %w", err)
		}
		for _, code := range dedupe(rec.Jurisdictions) {
			if _, err := exec.ExecContext(ctx, s.d.rebind(`INSERT INTO audit_record_jurisdictions (record_id, code) VALUES (?, ?)`),
				rec.ID.String(), code); err != nil {
				return fmt.Errorf("insert jurisdiction: %w", err)
			}
		}
		for _, path := range dedupe(rec.RulePaths) {
			if _, err := exec.ExecContext(ctx, s.d.rebind(`INSERT INTO audit_record_rules (record_id, path) VALUES (?, ?)`),
				rec.ID.String(), path); err != nil {
				return fmt.Errorf("insert rule path: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*ledger.AuditRecord, error) {
	row := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx, s.d.rebind(selectColumns+` WHERE id = ?`), id.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) Range(ctx context.Context, partition string, from, to uint64) ([]ledger.AuditRecord, error) {
	rows, err := txcontext.ExecerFrom(ctx, s.db).QueryContext(ctx,
		s.d.rebind(selectColumns+` WHERE partition_key = ? AND sequence >= ? AND sequence <= ? ORDER BY sequence ASC`),
		partition, int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	return scanRecords(rows)
}

func (s *Store) Query(ctx context.Context, f ledger.Filter) ([]ledger.AuditRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		where = append(where, clause)
		args = append(args, arg)
	}
	if f.Partition != "" {
		add("partition_key = ?", f.Partition)
	}
	if f.EntityID != "" {
		add("entity_id = ?", f.EntityID)
	}
	if f.CounterpartyID != "" {
		add("counterparty_id = ?", f.CounterpartyID)
	}
	if !f.From.IsZero() {
		add("recorded_at >= ?", f.From.UnixMicro())
	}
	if !f.To.IsZero() {
		add("recorded_at < ?", f.To.UnixMicro())
	}
	if f.Jurisdiction != "" {
		add("id IN (SELECT record_id FROM audit_record_jurisdictions WHERE code = ?)", f.Jurisdiction)
	}
	if f.RulePath != "" {
		add("id IN (SELECT record_id FROM audit_record_rules WHERE path = ?)", f.RulePath)
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Newest {
		query += " ORDER BY recorded_at DESC, partition_key DESC, sequence DESC"
	} else {
		query += " ORDER BY recorded_at ASC, partition_key ASC, sequence ASC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := txcontext.ExecerFrom(ctx, s.db).QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return scanRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ledger.AuditRecord, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		return nil, err
	}
	var rec ledger.AuditRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode record payload: %w: %w", sentinel.ErrInvalidState, err)
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]ledger.AuditRecord, error) {
	defer rows.Close()
	var out []ledger.AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
