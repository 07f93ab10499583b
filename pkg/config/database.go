// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package config

import (
	"fmt"
	"regexp"
	"strings"
)

// DatabaseConfig configures the SQL run store.
//
// Example:
//
//	store:
//	  driver: postgres
//	  host: localhost
//	  database: refinery
//	  username: ${PGUSER}
//	  password: ${PGPASSWORD}
type DatabaseConfig struct {
	// Driver is postgres, mysql or sqlite.
	// Default: sqlite
	Driver string `yaml:"driver,omitempty"`

	// URL is a driver-specific DSN used as-is instead of the fields below.
	URL string `yaml:"url,omitempty"`

	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// Database is the database name, or the file path for SQLite.
	// Default: refinery.db for SQLite
	Database string `yaml:"database,omitempty"`

	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// SSLMode for PostgreSQL.
	// Default: disable
	SSLMode string `yaml:"ssl_mode,omitempty"`

	// Table holding runs.
	// Default: refinery_runs
	Table string `yaml:"table,omitempty"`

	// MaxConns bounds open connections. SQLite always uses one.
	// Default: 10
	MaxConns int `yaml:"max_conns,omitempty"`

	// MaxIdle bounds idle connections.
	// Default: 2
	MaxIdle int `yaml:"max_idle,omitempty"`
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SetDefaults applies default values.
func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.Table == "" {
		c.Table = "refinery_runs"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 2
	}

	switch c.Dialect() {
	case "postgres":
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	case "mysql":
		if c.Port == 0 {
			c.Port = 3306
		}
	case "sqlite":
		if c.Database == "" && c.URL == "" {
			c.Database = "refinery.db"
		}
	}
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "postgres", "mysql", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("invalid driver %q (valid: postgres, mysql, sqlite)", c.Driver)
	}
	if !tableName.MatchString(c.Table) {
		return fmt.Errorf("invalid table name %q", c.Table)
	}
	if c.MaxConns < 0 || c.MaxIdle < 0 {
		return fmt.Errorf("max_conns and max_idle must be non-negative")
	}
	if c.URL != "" {
		return nil
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Dialect() != "sqlite" && c.Host == "" {
		return fmt.Errorf("host is required for %s", c.Driver)
	}
	return nil
}

// DSN returns the connection string passed to sql.Open.
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	switch c.Dialect() {
	case "postgres":
		parts := []string{
			fmt.Sprintf("host=%s", c.Host),
			fmt.Sprintf("port=%d", c.Port),
			fmt.Sprintf("dbname=%s", c.Database),
		}
		if c.Username != "" {
			parts = append(parts, "user="+c.Username)
		}
		if c.Password != "" {
			parts = append(parts, "password="+c.Password)
		}
		if c.SSLMode != "" {
			parts = append(parts, "sslmode="+c.SSLMode)
		}
		return strings.Join(parts, " ")
	case "mysql":
		// [user[:password]@]tcp(host:port)/dbname
		auth := ""
		if c.Username != "" {
			auth = c.Username + ":" + c.Password + "@"
		}
		return fmt.Sprintf("%stcp(%s:%d)/%s?parseTime=true", auth, c.Host, c.Port, c.Database)
	case "sqlite":
		return c.Database
	default:
		return ""
	}
}

// DriverName returns the name registered with database/sql.
func (c *DatabaseConfig) DriverName() string {
	if c.Dialect() == "sqlite" {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect returns postgres, mysql or sqlite.
func (c *DatabaseConfig) Dialect() string {
	if c.Driver == "sqlite3" {
		return "sqlite"
	}
	return c.Driver
}
