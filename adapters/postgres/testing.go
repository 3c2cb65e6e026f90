package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type Testing interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Cleanup(func())
	Skip(args ...any)
}

// NewTestContainer starts a disposable Postgres and returns a pool on it.
func NewTestContainer(t Testing) *pgxpool.Pool {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := t.Context()
	pgC, err := testcontainers.Run(
		ctx, "postgres:16-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "chargebridge",
			"POSTGRES_PASSWORD": "chargebridge",
			"POSTGRES_DB":       "chargebridge",
		}),
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	ip, err := pgC.ContainerIP(ctx)
	require.NoError(t, err)
	t.Logf("postgres ip: %s", ip)

	pool, err := Connect(ctx, PoolConfig{
		URL: fmt.Sprintf("postgres://chargebridge:chargebridge@%s:5432/chargebridge?sslmode=disable", ip),
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}
