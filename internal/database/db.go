package database

import (
	"context"
	"database/sql"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Options are the MySQL connection settings.
type Options struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	MaxOpen  int
}

// DSN renders the driver DSN.  Timestamps are stored as unix micros, so
// parseTime stays off.
func (o Options) DSN() string {
	return o.driverConfig().FormatDSN()
}

func (o Options) driverConfig() *mysql.Config {
	c := mysql.NewConfig()
	c.User = o.User
	c.Passwd = o.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(o.Host, o.Port)
	c.DBName = o.Name
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c
}

// Open connects to MySQL and pings it within five seconds.
func Open(o Options) (*sql.DB, error) {
	connector, err := mysql.NewConnector(o.driverConfig())
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)

	maxOpen := o.MaxOpen
	if maxOpen <= 0 {
		maxOpen = 25
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
