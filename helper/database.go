package helper

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

// DatabaseConfiguration holds the connection settings of the graph store.
type DatabaseConfiguration struct {
	Host          string
	Port          string
	Database      string
	Username      string
	Password      string
	Schema        string
	SSLMode       string
	WithTableDrop bool
}

// NewDatabaseConfiguration reads the configuration from GRAPHRAG_DB_* environment variables.
// Host, port, database, username and password are required.
func NewDatabaseConfiguration() (*DatabaseConfiguration, error) {
	config := &DatabaseConfiguration{
		Host:     os.Getenv("GRAPHRAG_DB_HOST"),
		Port:     os.Getenv("GRAPHRAG_DB_PORT"),
		Database: os.Getenv("GRAPHRAG_DB_DATABASE"),
		Username: os.Getenv("GRAPHRAG_DB_USERNAME"),
		Password: os.Getenv("GRAPHRAG_DB_PASSWORD"),
		Schema:   GetEnvString("GRAPHRAG_DB_SCHEMA", "public"),
		SSLMode:  GetEnvString("GRAPHRAG_DB_SSLMODE", "disable"),
	}

	withTableDrop, err := strconv.ParseBool(GetEnvString("GRAPHRAG_DB_WITH_TABLE_DROP", "false"))
	if err != nil {
		return nil, NewError("parse GRAPHRAG_DB_WITH_TABLE_DROP", err)
	}
	config.WithTableDrop = withTableDrop

	if len(config.Host) == 0 || len(config.Port) == 0 || len(config.Database) == 0 || len(config.Username) == 0 || len(config.Password) == 0 {
		return nil, NewError("database configuration validation", fmt.Errorf("GRAPHRAG_DB_HOST, GRAPHRAG_DB_PORT, GRAPHRAG_DB_DATABASE, GRAPHRAG_DB_USERNAME and GRAPHRAG_DB_PASSWORD must be set"))
	}

	return config, nil
}

// DatabaseConnectionString returns the lib/pq connection string for the configuration.
func (c *DatabaseConfiguration) DatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&search_path=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.SSLMode, c.Schema,
	)
}

// Database is the explicitly passed store handle shared by all DB handlers of one run.
type Database struct {
	Name     string
	Logger   *slog.Logger
	Instance *sql.DB
}

// NewDatabase opens and pings a connection pool for the given configuration.
func NewDatabase(name string, dbConfig *DatabaseConfiguration, logger *slog.Logger) (*Database, error) {
	if dbConfig == nil {
		return nil, NewError("database configuration validation", fmt.Errorf("database configuration is nil"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	instance, err := sql.Open("postgres", dbConfig.DatabaseConnectionString())
	if err != nil {
		return nil, NewError("open connection", err)
	}
	instance.SetMaxOpenConns(10)
	instance.SetMaxIdleConns(5)
	instance.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = instance.PingContext(ctx)
	if err != nil {
		instance.Close()
		return nil, NewError("ping database", err)
	}

	database := &Database{
		Name:     name,
		Logger:   logger,
		Instance: instance,
	}

	if dbConfig.WithTableDrop {
		err = database.DropTables()
		if err != nil {
			instance.Close()
			return nil, NewError("drop tables", err)
		}
	}

	logger.Info("Connected to database", slog.String("name", name), slog.String("host", dbConfig.Host), slog.String("database", dbConfig.Database))

	return database, nil
}

// NewTestDatabase opens a database for tests and aborts the test binary on failure.
func NewTestDatabase(config *DatabaseConfiguration) *Database {
	logger := slog.New(NewPrettyHandler(os.Stdout, PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{Level: slog.LevelWarn},
	}))

	database, err := NewDatabase("test_db", config, logger)
	if err != nil {
		log.Fatalf("error creating test database: %v", err)
	}
	return database
}

// DropTables drops every table owned by this module.
func (d *Database) DropTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := d.Instance.ExecContext(ctx, `DROP TABLE IF EXISTS edges, external_entities, places, chunks, documents CASCADE;`)
	if err != nil {
		return NewError("exec", err)
	}

	d.Logger.Warn("Dropped all graph tables")

	return nil
}

// Close closes the connection pool.
func (d *Database) Close() error {
	if d == nil || d.Instance == nil {
		return nil
	}
	return d.Instance.Close()
}
