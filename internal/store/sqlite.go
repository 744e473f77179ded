package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sql.DB handle addressed by DATABASE_URL and exposes the
// driver/route repositories and blocklist lookups the core reads.
type DB struct {
	sql *sql.DB
}

// Open connects to dsn (a sqlite DSN, e.g. "file:dispatch.db?_journal=WAL")
// and ensures the schema bootstrap tables exist. The spreadsheet ETL (out of
// scope) is the system of record that populates drivers/routes on a
// schedule; Open only guarantees the tables it reads/writes exist.
func Open(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	db := &DB{sql: sqlDB}
	if err := db.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *DB) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS drivers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	vehicle_type TEXT NOT NULL,
	priority_score INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS routes (
	id TEXT PRIMARY KEY,
	vehicle_type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	driver_id TEXT,
	status TEXT NOT NULL DEFAULT 'AVAILABLE',
	assigned_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS blocklist (
	driver_id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'ACTIVE'
);
CREATE INDEX IF NOT EXISTS idx_routes_status ON routes(status);
CREATE INDEX IF NOT EXISTS idx_routes_driver ON routes(driver_id);
`
	_, err := db.sql.ExecContext(ctx, ddl)
	return err
}

// Close releases the underlying connection pool.
func (db *DB) Close() error { return db.sql.Close() }

// FindDriverByID implements the driver repository port.
func (db *DB) FindDriverByID(ctx context.Context, id string) (*Driver, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT id, name, vehicle_type, priority_score FROM drivers WHERE id = ?`, id)
	var d Driver
	if err := row.Scan(&d.ID, &d.Name, &d.VehicleType, &d.PriorityScore); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDriverNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ErrDriverNotFound is returned by FindDriverByID on a lookup miss.
var ErrDriverNotFound = errors.New("store: driver not found")

// ListAvailableForVehicle returns AVAILABLE routes visible to vehicleType.
// Moto drivers see moto-only routes; all other vehicle types see every
// non-moto route first, then moto routes last.
func (db *DB) ListAvailableForVehicle(ctx context.Context, vehicleType string) ([]Route, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, vehicle_type, title, description, status
		 FROM routes WHERE status = ? ORDER BY rowid`, RouteAvailable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var moto, other []Route
	for rows.Next() {
		var r Route
		var status string
		if err := rows.Scan(&r.ID, &r.VehicleType, &r.Title, &r.Description, &status); err != nil {
			return nil, err
		}
		r.Status = RouteStatus(status)
		if r.VehicleType == "moto" {
			moto = append(moto, r)
		} else {
			other = append(other, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if vehicleType == "moto" {
		return moto, nil
	}
	return append(other, moto...), nil
}

// AssignIfAvailable performs the atomic predicate-update AVAILABLE->ASSIGNED
// bound to driverID. It returns true iff exactly one row was updated.
func (db *DB) AssignIfAvailable(ctx context.Context, routeID, driverID string) (bool, error) {
	res, err := db.sql.ExecContext(ctx,
		`UPDATE routes SET driver_id = ?, status = ?, assigned_at = ?
		 WHERE id = ? AND status = ? AND driver_id IS NULL`,
		driverID, RouteAssigned, time.Now(), routeID, RouteAvailable)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DriverAlreadyAssigned reports whether driverID currently holds an ASSIGNED
// route; used as a belt-and-braces re-check before queueing and before each
// claim.
func (db *DB) DriverAlreadyAssigned(ctx context.Context, driverID string) (bool, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM routes WHERE driver_id = ? AND status = ?)`,
		driverID, RouteAssigned)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// BlocklistStatusFor resolves a driver's current blocklist status, defaulting
// to BlocklistInactive when the driver has no blocklist row.
func (db *DB) BlocklistStatusFor(ctx context.Context, driverID string) (BlocklistStatus, error) {
	row := db.sql.QueryRowContext(ctx, `SELECT status FROM blocklist WHERE driver_id = ?`, driverID)
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BlocklistInactive, nil
		}
		return "", err
	}
	return BlocklistStatus(status), nil
}

// RouteByID is used by the claim executor after a committed claim to read
// back the claimed route.
func (db *DB) RouteByID(ctx context.Context, id string) (*Route, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT id, vehicle_type, title, description, COALESCE(driver_id, ''), status
		 FROM routes WHERE id = ?`, id)
	var r Route
	var status string
	if err := row.Scan(&r.ID, &r.VehicleType, &r.Title, &r.Description, &r.DriverID, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.Status = RouteStatus(status)
	return &r, nil
}
