package infra

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// DSNEnv names an existing database to reuse instead of starting a container.
const DSNEnv = "COLLABFLOW_STRESS_PG_DSN"

const postgresImage = "postgres:16"

// ErrNoDatabase means no DSN was given, docker is unavailable and no local
// server answered.
var ErrNoDatabase = errors.New("infra: no postgres available")

// Database is where a stress run keeps its collaborations. Shared databases
// belong to someone else, so migrations run in an isolated schema there.
type Database struct {
	DSN       string
	Shared    bool
	container *postgres.PostgresContainer
}

// Provision picks a database in order: explicitDSN, DSNEnv, a fresh
// container when docker is usable, then a local server.
func Provision(ctx context.Context, explicitDSN string, docker bool) (*Database, error) {
	if explicitDSN != "" {
		return &Database{DSN: explicitDSN, Shared: true}, nil
	}
	if dsn := os.Getenv(DSNEnv); dsn != "" {
		return &Database{DSN: dsn, Shared: true}, nil
	}
	if docker {
		return startContainer(ctx)
	}
	dsn, err := InitLocalDatabase(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDatabase, err)
	}
	return &Database{DSN: dsn}, nil
}

func startContainer(ctx context.Context) (*Database, error) {
	c, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("collabflow_stress"),
		postgres.WithUsername("collabflow"),
		postgres.WithPassword("collabflow"),
	)
	if err != nil {
		return nil, fmt.Errorf("infra: start %s: %w", postgresImage, err)
	}
	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("infra: container dsn: %w", err)
	}
	return &Database{DSN: dsn, container: c}, nil
}

// Close stops the container, if this run started one.
func (d *Database) Close(ctx context.Context) error {
	if d == nil || d.container == nil {
		return nil
	}
	return d.container.Terminate(ctx)
}
