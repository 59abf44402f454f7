package item

import (
	"fmt"
	"os"
	"path/filepath"
)

// DatabaseType selects the metadata database backend.
type DatabaseType string

const (
	// DatabaseTypeSQLite is a single-node embedded database (default).
	DatabaseTypeSQLite DatabaseType = "sqlite"

	// DatabaseTypePostgres shares item metadata between wopid replicas.
	DatabaseTypePostgres DatabaseType = "postgres"
)

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Database     string `mapstructure:"database" yaml:"database"`
	User         string `mapstructure:"user" yaml:"user"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	SSLMode      string `mapstructure:"sslmode" yaml:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// DSN returns the libpq connection string.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += " sslmode=" + c.SSLMode
	}
	return dsn
}

// DatabaseConfig selects and configures the metadata database.
type DatabaseConfig struct {
	Type     DatabaseType   `mapstructure:"type" validate:"omitempty,oneof=sqlite postgres" yaml:"type"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// Config configures the item store.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`

	// PayloadDir holds document bytes, one file per item.
	PayloadDir string `mapstructure:"payload_dir" yaml:"payload_dir"`
}

func dataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "wopid")
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Database.Type == "" {
		c.Database.Type = DatabaseTypeSQLite
	}
	if c.Database.Type == DatabaseTypeSQLite && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = filepath.Join(dataDir(), "items.db")
	}
	if c.Database.Type == DatabaseTypePostgres {
		pg := &c.Database.Postgres
		if pg.Port == 0 {
			pg.Port = 5432
		}
		if pg.SSLMode == "" {
			pg.SSLMode = "disable"
		}
		if pg.MaxOpenConns == 0 {
			pg.MaxOpenConns = 25
		}
		if pg.MaxIdleConns == 0 {
			pg.MaxIdleConns = 5
		}
	}
	if c.PayloadDir == "" {
		c.PayloadDir = filepath.Join(dataDir(), "payload")
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case DatabaseTypeSQLite:
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DatabaseTypePostgres:
		pg := c.Database.Postgres
		if pg.Host == "" || pg.Database == "" || pg.User == "" {
			return fmt.Errorf("postgres host, database and user are required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.PayloadDir == "" {
		return fmt.Errorf("payload dir is required")
	}
	return nil
}
