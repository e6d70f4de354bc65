package postgresql_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leadflow/leadflow/pkg/persistence"
	"github.com/leadflow/leadflow/pkg/persistence/persistencetest"
	"github.com/leadflow/leadflow/pkg/persistence/postgresql"
)

// TestCampaignRepositoryConformance runs the shared repository suite against
// a real database so the SQL cannot drift from the memory implementation.
func TestCampaignRepositoryConformance(t *testing.T) {
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	persistencetest.RunCampaignRepositoryTests(t, func(t *testing.T) persistence.Persistence {
		t.Helper()

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))

		store, err := postgresql.NewPersistence(t.Context(), logger, databaseURL)
		require.NoError(t, err)

		t.Cleanup(func() {
			_ = store.Close(context.Background())
		})

		return store
	})
}
