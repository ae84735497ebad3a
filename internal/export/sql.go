// internal/export/sql.go
package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"

	// Blind import support for sqlite3 used by OpenSQLite.
	_ "github.com/mattn/go-sqlite3"
)

// Dialect selects the DDL flavour for SQL.
type Dialect int

const (
	SQLite Dialect = iota
	MySQL
)

const (
	sqlRecordCountInfo = 100

	sqliteCreateTable = `CREATE TABLE IF NOT EXISTS detections (
		id             INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		stream_id      TEXT NOT NULL,
		detected       INTEGER NOT NULL,
		arrival_time   REAL NOT NULL,
		bearing_deg    REAL,
		snapshot_start INTEGER NOT NULL,
		magnitude      REAL NOT NULL
	);`
	mysqlCreateTable = `CREATE TABLE IF NOT EXISTS detections (
		id             BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		stream_id      VARCHAR(64) NOT NULL,
		detected       BIGINT NOT NULL,
		arrival_time   DOUBLE NOT NULL,
		bearing_deg    DOUBLE NULL,
		snapshot_start BIGINT NOT NULL,
		magnitude      DOUBLE NOT NULL
	);`
	sqlInsertRecord = `INSERT INTO detections (
		stream_id,
		detected,
		arrival_time,
		bearing_deg,
		snapshot_start,
		magnitude
	) VALUES (?, ?, ?, ?, ?, ?);`
)

// SQL stores records in a detections table.
type SQL struct {
	DB      *sql.DB
	Dialect Dialect
}

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case MySQL:
		return "mysql"
	}
	return fmt.Sprintf("Dialect(%d)", int(d))
}

func (s *SQL) createTable(ctx context.Context) error {
	ddl := sqliteCreateTable
	if s.Dialect == MySQL {
		ddl = mysqlCreateTable
	}
	_, err := s.DB.ExecContext(ctx, ddl)
	return err
}

func (s *SQL) Write(ctx context.Context, records <-chan Record) error {
	if err := s.createTable(ctx); err != nil {
		return fmt.Errorf("unable to create table: %w", err)
	}
	statement, err := s.DB.PrepareContext(ctx, sqlInsertRecord)
	if err != nil {
		return fmt.Errorf("unable to prepare insert: %w", err)
	}
	defer statement.Close()

	counts := map[string]int{
		"error":   0,
		"success": 0,
		"total":   0,
	}
	for r := range records {
		counts["total"]++
		bearing := sql.NullFloat64{Float64: r.Bearing.Degrees(), Valid: r.Bearing.Valid}
		if _, err := statement.Exec(r.StreamID, r.Detected.UnixMilli(), r.ArrivalTime, bearing, r.SnapshotStart, r.Magnitude); err != nil {
			counts["error"]++
			glog.Warningf("error storing detection in %s DB: %s", s.Dialect, err)
			continue
		}
		counts["success"]++
		if counts["total"]%sqlRecordCountInfo == 0 {
			glog.Infof("detection export counts: %+v", counts)
		}
	}
	glog.V(1).Infof("%s export finished: %+v", s.Dialect, counts)
	return nil
}

// OpenSQLite opens (creating if needed) the sqlite database at path.
func OpenSQLite(path string) (*SQL, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite DB %q: %w", path, err)
	}
	// sqlite serializes writers; a single connection also keeps
	// ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	return &SQL{DB: db, Dialect: SQLite}, nil
}

// MySQLConfig names a MySQL endpoint.
type MySQLConfig struct {
	Server       string
	User         string
	PasswordFile string
	Database     string
}

// DSN builds the driver connection string, reading the password file.
func (c MySQLConfig) DSN() (string, error) {
	var pass string
	if c.PasswordFile != "" {
		b, err := os.ReadFile(c.PasswordFile)
		if err != nil {
			return "", fmt.Errorf("unable to read MySQL password file %q: %w", c.PasswordFile, err)
		}
		pass = strings.TrimSpace(string(b))
	}
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = pass
	cfg.Net = "tcp"
	cfg.Addr = c.Server
	cfg.DBName = c.Database
	return cfg.FormatDSN(), nil
}

// OpenMySQL connects to the configured MySQL server.
func OpenMySQL(c MySQLConfig) (*SQL, error) {
	dsn, err := c.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open MySQL DB %q: %w", c.Server, err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	return &SQL{DB: db, Dialect: MySQL}, nil
}
