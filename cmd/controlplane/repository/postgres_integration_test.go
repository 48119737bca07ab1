//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lyzr/taskplane/common/config"
	"github.com/lyzr/taskplane/common/db"
	"github.com/lyzr/taskplane/common/logger"
)

func startPostgres(t *testing.T) *db.DB {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "taskplane",
				"POSTGRES_PASSWORD": "taskplane",
				"POSTGRES_DB":       "taskplane",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://taskplane:taskplane@%s:%s/taskplane?sslmode=disable", host, port.Port())
	database, err := db.Connect(ctx, url, config.DatabaseConfig{MaxConns: 4}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(database.Close)

	require.NoError(t, EnsureSchema(database))
	return database
}

func TestPostgresStore(t *testing.T) {
	testStore(t, NewPostgresStore(startPostgres(t)))
}
