//go:build integration

package access

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/platinummonkey/accesscore/pkg/storage/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgresGraph starts a PostgreSQL container holding the fixture graph
// and returns a connection manager over it
func setupPostgresGraph(t *testing.T) *postgres.ConnectionManager {
	t.Helper()

	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker not available, skipping integration tests")
	}
	provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("accesscore_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable", "timezone=UTC")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))

	_, err = db.ExecContext(ctx, testSchema)
	require.NoError(t, err)
	seedGraph(t, db)

	logger, _ := newNullLogger()
	require.NoError(t, postgres.RunMigrations(ctx, db, logger))

	cm := postgres.NewConnectionManagerFromDB(db)
	t.Cleanup(func() { cm.Close() })
	return cm
}

func TestPostgres_AccessDecisions(t *testing.T) {
	cm := setupPostgresGraph(t)
	ctx := context.Background()

	logger, _ := newNullLogger()
	resolver := NewResolver(cm, logger, WithResolverClock(fixedClock))
	service := NewService(NewRegistry(cm, logger), resolver, WithServiceLogger(logger))

	tests := []struct {
		name   string
		et     EntityType
		id     int64
		userID int64
		want   bool
	}{
		{"public for anonymous", EntityModel, 2, 0, true},
		{"unsearchable for anonymous", EntityModel, 3, 0, true},
		{"private denied to anonymous", EntityModel, 1, 0, false},
		{"owner", EntityModel, 1, 5, true},
		{"owner through parent model", EntityModelVersion, 70, 5, true},
		{"admin of tier's parent club", EntityModel, 1, 9, true},
		{"unrelated user", EntityModel, 1, 10, false},
		{"direct grant", EntityModel, 4, 11, true},
		{"active tier member", EntityModel, 1, 12, true},
		{"expired member", EntityModel, 1, 13, false},
		{"non-expiring member of another tier", EntityModel, 5, 14, true},
		{"unknown availability", EntityModel, 7, 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decisions, err := service.HasAccess(ctx, Request{EntityType: tt.et, EntityIDs: []int64{tt.id}, UserID: tt.userID})
			require.NoError(t, err)
			require.Len(t, decisions, 1)
			assert.Equal(t, tt.want, decisions[0].HasAccess)
		})
	}

	reqs, err := resolver.EntitiesRequiringClub(ctx, EntityModel, []int64{1, 2, 5, 6}, []int64{10})
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, int64(1), reqs[0].EntityID)
	assert.Equal(t, int64(5), reqs[1].EntityID)

	closure, err := resolver.ReachableEntities(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, []EntityKey{"Model:1", "Model:5", "ModelVersion:70"}, closure)
}
