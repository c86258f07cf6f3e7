// Package archive keeps evicted flow records in SQLite so they outlive the
// in-memory table.
//
// Flow references restart at 1 with every process, so each process run
// gets a UUID and archived rows are keyed by (run_id, ref).
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"grimm.is/flowmeta/internal/brand"
	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/flowtable"
	"grimm.is/flowmeta/internal/identity"
	"grimm.is/flowmeta/internal/logging"
)

// Flow is one archived record.
type Flow struct {
	ID             int64                        `json:"id"`
	RunID          string                       `json:"run_id"`
	Ref            uint64                       `json:"ref"`
	Kind           string                       `json:"kind"` // l34 or l2
	EndpointA      string                       `json:"endpoint_a"`
	EndpointB      string                       `json:"endpoint_b"`
	Proto          uint8                        `json:"proto,omitempty"`
	PortA          uint16                       `json:"port_a,omitempty"`
	PortB          uint16                       `json:"port_b,omitempty"`
	EtherType      uint16                       `json:"ether_type,omitempty"`
	TimeFirst      time.Time                    `json:"time_first"`
	TimeLast       time.Time                    `json:"time_last"`
	Packets        uint64                       `json:"packets"`
	Rule           string                       `json:"rule,omitempty"`
	Classification map[string]string            `json:"classification,omitempty"`
	OutQueue       int                          `json:"out_queue"`
	Identities     map[string]identity.Identity `json:"identities,omitempty"`
	ArchivedAt     time.Time                    `json:"archived_at"`
}

// DB is the flow archive.
type DB struct {
	db     *sql.DB
	runID  string
	clock  clock.Clock
	logger *logging.Logger
}

// Open opens or creates the archive at path and registers a new run.
func Open(path string, clk clock.Clock, logger *logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; the sweep is the only one writing anyway
	db.SetMaxOpenConns(1)

	a := &DB{
		db:     db,
		runID:  uuid.NewString(),
		clock:  clock.OrReal(clk),
		logger: logger.WithComponent("archive"),
	}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	host, _ := os.Hostname()
	_, err = db.Exec(`INSERT INTO runs (id, started_at, hostname, version) VALUES (?, ?, ?, ?)`,
		a.runID, a.clock.Now().UnixNano(), host, brand.Version)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to register run: %w", err)
	}

	a.logger.Info("archive opened", "path", path, "run_id", a.runID)
	return a, nil
}

func (a *DB) initSchema() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			hostname TEXT,
			version TEXT
		);

		CREATE TABLE IF NOT EXISTS flows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			ref INTEGER NOT NULL,
			kind TEXT NOT NULL,
			endpoint_a TEXT NOT NULL,
			endpoint_b TEXT NOT NULL,
			proto INTEGER DEFAULT 0,
			port_a INTEGER DEFAULT 0,
			port_b INTEGER DEFAULT 0,
			ether_type INTEGER DEFAULT 0,
			time_first INTEGER NOT NULL,  -- unix nanoseconds
			time_last INTEGER NOT NULL,
			packets INTEGER NOT NULL,
			rule TEXT,
			classification TEXT,          -- JSON object
			out_queue INTEGER DEFAULT 0,
			identities TEXT,              -- JSON object keyed by address
			archived_at INTEGER NOT NULL,
			UNIQUE(run_id, ref)
		);

		CREATE INDEX IF NOT EXISTS idx_flows_time_last ON flows(time_last);
		CREATE INDEX IF NOT EXISTS idx_flows_endpoints ON flows(endpoint_a, endpoint_b);
	`)
	return err
}

// RunID identifies this process run.
func (a *DB) RunID() string { return a.runID }

// Close closes the database connection.
func (a *DB) Close() error {
	return a.db.Close()
}

// WriteEvicted stores recs in one transaction.
func (a *DB) WriteEvicted(ctx context.Context, recs []flowtable.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO flows (
			run_id, ref, kind, endpoint_a, endpoint_b, proto, port_a, port_b, ether_type,
			time_first, time_last, packets, rule, classification, out_queue, identities, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := a.clock.Now().UnixNano()
	for _, r := range recs {
		f := fromRecord(r)
		class, err := marshalOptional(f.Classification)
		if err != nil {
			return err
		}
		ids, err := marshalOptional(f.Identities)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			a.runID, int64(f.Ref), f.Kind, f.EndpointA, f.EndpointB, f.Proto, f.PortA, f.PortB, f.EtherType,
			f.TimeFirst.UnixNano(), f.TimeLast.UnixNano(), int64(f.Packets), f.Rule, class, f.OutQueue, ids, now)
		if err != nil {
			return fmt.Errorf("insert flow %d: %w", f.Ref, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	a.logger.Debug("archived flows", "count", len(recs))
	return nil
}

// Recent returns up to limit archived flows, newest first.
func (a *DB) Recent(ctx context.Context, limit int) ([]Flow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, run_id, ref, kind, endpoint_a, endpoint_b, proto, port_a, port_b, ether_type,
		       time_first, time_last, packets, rule, classification, out_queue, identities, archived_at
		FROM flows ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Flow
	for rows.Next() {
		var (
			f                     Flow
			ref, packets          int64
			first, last, archived int64
			rule, class, ids      sql.NullString
		)
		err := rows.Scan(&f.ID, &f.RunID, &ref, &f.Kind, &f.EndpointA, &f.EndpointB, &f.Proto, &f.PortA, &f.PortB,
			&f.EtherType, &first, &last, &packets, &rule, &class, &f.OutQueue, &ids, &archived)
		if err != nil {
			return nil, err
		}
		f.Ref = uint64(ref)
		f.Packets = uint64(packets)
		f.TimeFirst = time.Unix(0, first).UTC()
		f.TimeLast = time.Unix(0, last).UTC()
		f.ArchivedAt = time.Unix(0, archived).UTC()
		f.Rule = rule.String
		if class.Valid {
			if err := json.Unmarshal([]byte(class.String), &f.Classification); err != nil {
				return nil, fmt.Errorf("flow %d classification: %w", f.ID, err)
			}
		}
		if ids.Valid {
			if err := json.Unmarshal([]byte(ids.String), &f.Identities); err != nil {
				return nil, fmt.Errorf("flow %d identities: %w", f.ID, err)
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Count returns the number of archived flows across all runs.
func (a *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flows`).Scan(&n)
	return n, err
}

// Prune deletes flows whose last packet is older than retain.
func (a *DB) Prune(ctx context.Context, retain time.Duration) (int64, error) {
	cutoff := a.clock.Now().Add(-retain).UnixNano()
	res, err := a.db.ExecContext(ctx, `DELETE FROM flows WHERE time_last < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err == nil && n > 0 {
		a.logger.Info("pruned archived flows", "count", n)
	}
	return n, err
}

func marshalOptional[T any](m map[string]T) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// fromRecord flattens a table record into archive columns.
func fromRecord(r flowtable.Record) Flow {
	f := Flow{
		Ref:       uint64(r.Ref),
		TimeFirst: r.TimeFirst,
		TimeLast:  r.TimeLast,
		Packets:   r.PacketsToController,
	}
	switch {
	case r.Key.L34 != nil:
		k := r.Key.L34
		f.Kind = "l34"
		f.EndpointA, f.EndpointB = k.IPA.String(), k.IPB.String()
		f.Proto = k.Proto
		if k.Ports != nil {
			f.PortA, f.PortB = k.Ports.A, k.Ports.B
		}
	case r.Key.L2 != nil:
		k := r.Key.L2
		f.Kind = "l2"
		f.EndpointA, f.EndpointB = k.EthA.String(), k.EthB.String()
		f.EtherType = k.EtherType
	}
	if r.Actions != nil {
		f.Rule = r.Actions.Rule
		f.Classification = r.Actions.Classification
		f.OutQueue = r.Actions.OutQueue
	}
	if len(r.Identities) > 0 {
		f.Identities = make(map[string]identity.Identity, len(r.Identities))
		for addr, id := range r.Identities {
			f.Identities[addr.String()] = id
		}
	}
	return f
}
