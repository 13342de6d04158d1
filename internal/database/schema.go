package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Supported SQL dialects.  Table DDL is shared; only index creation differs
// because MySQL has no CREATE INDEX IF NOT EXISTS.
const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite3"
)

var tables = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            VARCHAR(36)  NOT NULL PRIMARY KEY,
		email         VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		display_name  VARCHAR(255) NOT NULL,
		contact       VARCHAR(255) NOT NULL,
		created_at_us BIGINT       NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id            INTEGER      NOT NULL PRIMARY KEY AUTO_INCREMENT_PLACEHOLDER,
		user_id       VARCHAR(36)  NOT NULL,
		token_hash    CHAR(64)     NOT NULL UNIQUE,
		expires_at_us BIGINT       NOT NULL,
		revoked_at_us BIGINT       NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trips (
		id                 VARCHAR(36)  NOT NULL PRIMARY KEY,
		origin             VARCHAR(255) NOT NULL,
		destination        VARCHAR(255) NOT NULL,
		travel_date        CHAR(10)     NOT NULL,
		transport_mode     VARCHAR(16)  NOT NULL,
		package_size       VARCHAR(16)  NOT NULL,
		price_cents        BIGINT       NOT NULL,
		description        TEXT         NOT NULL,
		owner_id           VARCHAR(36)  NOT NULL,
		owner_name         VARCHAR(255) NOT NULL,
		owner_contact      VARCHAR(255) NOT NULL,
		status             VARCHAR(16)  NOT NULL DEFAULT 'available',
		requester_id       VARCHAR(36)  NULL,
		requester_name     VARCHAR(255) NULL,
		requester_contact  VARCHAR(255) NULL,
		weight_kg          DOUBLE       NULL,
		pickup_location    VARCHAR(255) NULL,
		dropoff_location   VARCHAR(255) NULL,
		agreed_price_cents BIGINT       NULL,
		booked_at_us       BIGINT       NULL,
		created_at_us      BIGINT       NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         VARCHAR(36) NOT NULL PRIMARY KEY,
		trip_id    VARCHAR(36) NOT NULL,
		sender_id  VARCHAR(36) NOT NULL,
		body       TEXT        NOT NULL,
		sent_at_us BIGINT      NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS read_markers (
		trip_id    VARCHAR(36) NOT NULL,
		user_id    VARCHAR(36) NOT NULL,
		read_at_us BIGINT      NOT NULL,
		PRIMARY KEY (trip_id, user_id)
	)`,
}

var indexes = []struct{ name, table, cols string }{
	{"idx_trips_status_date", "trips", "status, travel_date"},
	{"idx_trips_owner", "trips", "owner_id"},
	{"idx_trips_requester", "trips", "requester_id"},
	{"idx_messages_trip_sent", "messages", "trip_id, sent_at_us, id"},
	{"idx_refresh_tokens_user", "refresh_tokens", "user_id"},
}

// Migrate creates the tables and indexes the repositories rely on.  It is
// idempotent and safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	autoInc := "AUTO_INCREMENT"
	if dialect == DialectSQLite {
		autoInc = "AUTOINCREMENT"
	}
	for _, ddl := range tables {
		ddl = strings.Replace(ddl, "AUTO_INCREMENT_PLACEHOLDER", autoInc, 1)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	for _, ix := range indexes {
		stmt := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", ix.name, ix.table, ix.cols)
		if dialect == DialectSQLite {
			stmt = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", ix.name, ix.table, ix.cols)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			var me *mysql.MySQLError
			// 1061: duplicate key name, the index already exists
			if errors.As(err, &me) && me.Number == 1061 {
				continue
			}
			return fmt.Errorf("migrate index %s: %w", ix.name, err)
		}
	}
	return nil
}
