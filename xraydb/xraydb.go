// Package xraydb provides x-ray absorption edge reference data backed by an
// embedded SQLite database.
package xraydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/zillow/xraydb-mcp/xraydb/migrations"
	_ "modernc.org/sqlite"
)

var (
	ErrUnknownElement   = errors.New("unknown element")
	ErrUnknownEdge      = errors.New("unknown edge")
	ErrEnergyOutOfRange = errors.New("energy out of range")
	ErrClosed           = errors.New("database is closed")
)

// EdgeNames are the absorption edges held in the database, highest energy
// first.
var EdgeNames = []string{"K", "L1", "L2", "L3"}

// GuessTolerance is the largest relative distance between a queried energy
// and an edge for GuessEdge to report a match.
const GuessTolerance = 0.05

type Element struct {
	Z         int
	Symbol    string
	Name      string
	MolarMass float64
}

// Edge is one absorption edge of an element. Energy is in eV.
type Edge struct {
	Name              string
	Energy            float64
	FluorescenceYield float64
	JumpRatio         float64
}

type Guess struct {
	Element string
	Edge    string
	Energy  float64
}

// DB is safe for concurrent use. Close may race with queries still in
// flight; those fail with ErrClosed or a driver error.
type DB struct {
	sqlDB atomic.Pointer[sql.DB]
}

// Open opens the database at path, creating and seeding it when needed. An
// empty path or ":memory:" selects a private in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	path = strings.TrimSpace(path)
	memory := path == "" || path == ":memory:"
	dsn := ":memory:"
	if !memory {
		dsn = filepath.Clean(path)
	}
	dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if memory {
		// every connection to :memory: opens a distinct empty database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	db := &DB{}
	db.sqlDB.Store(sqlDB)
	return db, nil
}

func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	sqlDB := db.sqlDB.Swap(nil)
	if sqlDB == nil {
		return nil
	}
	return sqlDB.Close()
}

func (db *DB) conn() (*sql.DB, error) {
	if db == nil {
		return nil, ErrClosed
	}
	sqlDB := db.sqlDB.Load()
	if sqlDB == nil {
		return nil, ErrClosed
	}
	return sqlDB, nil
}

// Element resolves an element by symbol, name or atomic number. Symbols and
// names match case-insensitively.
func (db *DB) Element(ctx context.Context, ident string) (Element, error) {
	conn, err := db.conn()
	if err != nil {
		return Element{}, err
	}
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return Element{}, fmt.Errorf("%w: empty identifier", ErrUnknownElement)
	}

	z := -1
	if n, err := strconv.Atoi(ident); err == nil {
		z = n
	}

	var el Element
	row := conn.QueryRowContext(ctx, `
SELECT z, symbol, name, molar_mass FROM elements
WHERE lower(symbol) = lower(?) OR lower(name) = lower(?) OR z = ?`,
		ident, ident, z)
	if err := row.Scan(&el.Z, &el.Symbol, &el.Name, &el.MolarMass); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Element{}, fmt.Errorf("%w: %q", ErrUnknownElement, ident)
		}
		return Element{}, fmt.Errorf("query element %q: %w", ident, err)
	}
	return el, nil
}

// Elements returns every element in the database ordered by atomic number.
func (db *DB) Elements(ctx context.Context) ([]Element, error) {
	conn, err := db.conn()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `SELECT z, symbol, name, molar_mass FROM elements ORDER BY z`)
	if err != nil {
		return nil, fmt.Errorf("query elements: %w", err)
	}
	defer rows.Close()

	var out []Element
	for rows.Next() {
		var el Element
		if err := rows.Scan(&el.Z, &el.Symbol, &el.Name, &el.MolarMass); err != nil {
			return nil, fmt.Errorf("scan element: %w", err)
		}
		out = append(out, el)
	}
	return out, rows.Err()
}

// XrayEdges returns the absorption edges of an element, highest energy
// first.
func (db *DB) XrayEdges(ctx context.Context, element string) ([]Edge, error) {
	conn, err := db.conn()
	if err != nil {
		return nil, err
	}
	el, err := db.Element(ctx, element)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `
SELECT edge, absorption_edge, fluorescence_yield, jump_ratio FROM xray_levels
WHERE element = ? ORDER BY absorption_edge DESC`, el.Symbol)
	if err != nil {
		return nil, fmt.Errorf("query edges of %s: %w", el.Symbol, err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Name, &e.Energy, &e.FluorescenceYield, &e.JumpRatio); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// XrayEdge returns a single absorption edge of an element.
func (db *DB) XrayEdge(ctx context.Context, element, edge string) (Edge, error) {
	conn, err := db.conn()
	if err != nil {
		return Edge{}, err
	}
	el, err := db.Element(ctx, element)
	if err != nil {
		return Edge{}, err
	}
	e := Edge{Name: edge}
	row := conn.QueryRowContext(ctx, `
SELECT absorption_edge, fluorescence_yield, jump_ratio FROM xray_levels
WHERE element = ? AND edge = ?`, el.Symbol, edge)
	if err := row.Scan(&e.Energy, &e.FluorescenceYield, &e.JumpRatio); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Edge{}, fmt.Errorf("%w: %s has no %s edge", ErrUnknownEdge, el.Symbol, edge)
		}
		return Edge{}, fmt.Errorf("query %s edge of %s: %w", edge, el.Symbol, err)
	}
	return e, nil
}

// GuessEdge finds the edge closest to energy (eV). The second return value
// is false when no edge lies within GuessTolerance of energy.
func (db *DB) GuessEdge(ctx context.Context, energy float64) (Guess, bool, error) {
	conn, err := db.conn()
	if err != nil {
		return Guess{}, false, err
	}
	if math.IsNaN(energy) || math.IsInf(energy, 0) || energy <= 0 {
		return Guess{}, false, fmt.Errorf("%w: %v eV", ErrEnergyOutOfRange, energy)
	}

	var g Guess
	row := conn.QueryRowContext(ctx, `
SELECT element, edge, absorption_edge FROM xray_levels
ORDER BY abs(absorption_edge - ?) ASC, absorption_edge DESC
LIMIT 1`, energy)
	if err := row.Scan(&g.Element, &g.Edge, &g.Energy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Guess{}, false, nil
		}
		return Guess{}, false, fmt.Errorf("guess edge for %v eV: %w", energy, err)
	}
	if math.Abs(g.Energy-energy) > GuessTolerance*energy {
		return Guess{}, false, nil
	}
	return g, true, nil
}
