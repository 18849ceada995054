// Package table creates and verifies the physical vector tables. It is the
// only place that knows the SQL dialect for declaring a fixed-width vector
// column, and the only place that interpolates table names into DDL.
package table

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/vecdex/vecdex/vectordb"
	"github.com/vecdex/vecdex/vectordb/ident"
)

// DefaultModule is the accelerated virtual table module probed for at
// construction time.
const DefaultModule = "vec0"

// Manager ensures physical vector tables exist with the right shape.
type Manager struct {
	db          *sql.DB
	module      string
	accelerated bool
	logf        func(format string, args ...any)
}

// Option configures the Manager.
type Option func(*Manager)

// WithModule overrides the accelerated virtual table module name.
func WithModule(module string) Option {
	return func(m *Manager) {
		if module != "" {
			m.module = module
		}
	}
}

// WithLogf sets the logger used to report degraded mode.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(m *Manager) { m.logf = logf }
}

// New creates a Manager and probes once for the accelerated module. The probe
// result is a capability flag consulted by every later call; absence of the
// module is not an error.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Manager, error) {
	if db == nil {
		return nil, vectordb.NewValidationError("db", "nil")
	}
	m := &Manager{db: db, module: DefaultModule, logf: log.Printf}
	for _, opt := range opts {
		opt(m)
	}
	available, err := probeModule(ctx, db, m.module)
	if err != nil {
		return nil, err
	}
	m.accelerated = available
	if !available {
		m.logf("table: module %q unavailable, vector tables degrade to brute-force scans", m.module)
	}
	return m, nil
}

// Accelerated reports whether the accelerated virtual table module was present
// at construction time.
func (m *Manager) Accelerated() bool { return m.accelerated }

// EnsureTable creates the physical table for tableID when missing. With the
// accelerated module present it declares a virtual table binding the embedding
// column width to dimension; otherwise, or when the virtual declaration fails,
// it creates the plain base table and logs the degradation.
func (m *Manager) EnsureTable(ctx context.Context, tableID ident.TableIdentifier, dimension int) error {
	if tableID.IsZero() {
		return vectordb.NewValidationError("table identifier", "empty")
	}
	if dimension <= 0 {
		return vectordb.NewValidationError("dimension", "%d is not positive", dimension)
	}
	exists, err := m.TableExists(ctx, tableID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if m.accelerated {
		ddl := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING %s(chunk_id INTEGER, embedding FLOAT[%d])",
			tableID, m.module, dimension)
		_, err := m.db.ExecContext(ctx, ddl)
		if err == nil {
			return nil
		}
		m.logf("table: %v; falling back to base table",
			&vectordb.SchemaError{Op: "create virtual table " + tableID.String(), Err: err})
		m.accelerated = false
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT, chunk_id INTEGER NOT NULL, embedding BLOB NOT NULL)",
		tableID)
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return &vectordb.SchemaError{Op: "create table " + tableID.String(), Err: err}
	}
	return nil
}

// TableExists reports whether the physical table is present. Virtual tables
// register in sqlite_master with type 'table' like plain ones.
func (m *Manager) TableExists(ctx context.Context, tableID ident.TableIdentifier) (bool, error) {
	if tableID.IsZero() {
		return false, vectordb.NewValidationError("table identifier", "empty")
	}
	var one int
	err := m.db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, tableID.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DropTable removes the physical table. Dropping an absent table is a no-op.
func (m *Manager) DropTable(ctx context.Context, tableID ident.TableIdentifier) error {
	if tableID.IsZero() {
		return vectordb.NewValidationError("table identifier", "empty")
	}
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", tableID)); err != nil {
		return &vectordb.SchemaError{Op: "drop table " + tableID.String(), Err: err}
	}
	return nil
}

func probeModule(ctx context.Context, db *sql.DB, module string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM pragma_module_list WHERE name = ?`, module).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err == sql.ErrNoRows {
		return false, nil
	}
	msg := err.Error()
	if strings.Contains(msg, "no such table: pragma_module_list") ||
		strings.Contains(msg, "no such column: name") ||
		strings.Contains(msg, "syntax error") {
		return false, nil
	}
	return false, err
}
