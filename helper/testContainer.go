package helper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	dbName     = "database"
	dbUser     = "user"
	dbPassword = "password"
)

// MustStartPostgresContainer starts a pgvector enabled postgres container.
// It returns the terminate function and the mapped host port.
func MustStartPostgresContainer() (func(ctx context.Context, opts ...testcontainers.TerminateOption) error, string, error) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(
		ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, "", fmt.Errorf("error starting postgres container: %w", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return nil, "", fmt.Errorf("error getting mapped port: %w", err)
	}

	return pgContainer.Terminate, port.Port(), nil
}

// SetTestDatabaseConfigEnvs points the GRAPHRAG_DB_* variables at the test container.
func SetTestDatabaseConfigEnvs(t *testing.T, port string) {
	t.Setenv("GRAPHRAG_DB_HOST", "localhost")
	t.Setenv("GRAPHRAG_DB_PORT", port)
	t.Setenv("GRAPHRAG_DB_DATABASE", dbName)
	t.Setenv("GRAPHRAG_DB_USERNAME", dbUser)
	t.Setenv("GRAPHRAG_DB_PASSWORD", dbPassword)
	t.Setenv("GRAPHRAG_DB_SCHEMA", "public")
	t.Setenv("GRAPHRAG_DB_SSLMODE", "disable")
	t.Setenv("GRAPHRAG_DB_WITH_TABLE_DROP", "true")
}
