package memory_test

import (
	"testing"

	"github.com/leadflow/leadflow/pkg/persistence"
	"github.com/leadflow/leadflow/pkg/persistence/memory"
	"github.com/leadflow/leadflow/pkg/persistence/persistencetest"
)

func TestCampaignRepositoryConformance(t *testing.T) {
	persistencetest.RunCampaignRepositoryTests(t, func(t *testing.T) persistence.Persistence {
		t.Helper()

		return memory.NewPersistence()
	})
}
