// Package persistencetest provides a conformance suite for
// persistence.Persistence implementations. Every backend hooks the suite
// into its own test package, so scheduling behavior cannot drift between
// the memory and PostgreSQL repositories.
package persistencetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/leadflow/pkg/models"
	"github.com/leadflow/leadflow/pkg/persistence"
)

// Factory returns a persistence layer for one subtest. Implementations may
// return a shared database; the suite isolates its rows per campaign.
type Factory func(t *testing.T) persistence.Persistence

// RunCampaignRepositoryTests exercises the audience scheduling contract:
// which entries count as due, and the exclusivity of the claim.
func RunCampaignRepositoryTests(t *testing.T, factory Factory) {
	t.Run("due audience includes every non-terminal status", func(t *testing.T) {
		store := factory(t)
		now := time.Now().UTC()
		campaignID := seedCampaign(t, store)

		pending := seedEntry(t, store, campaignID, models.AudienceStatusPending, now.Add(-time.Minute))
		active := seedEntry(t, store, campaignID, models.AudienceStatusActive, now.Add(-time.Minute))
		waiting := seedEntry(t, store, campaignID, models.AudienceStatusWaiting, now.Add(-time.Minute))
		seedEntry(t, store, campaignID, models.AudienceStatusCompleted, now.Add(-time.Minute))
		seedEntry(t, store, campaignID, models.AudienceStatusFailed, now.Add(-time.Minute))

		due := dueFor(t, store, campaignID, now)
		require.Len(t, due, 3)

		ids := make([]string, 0, len(due))
		for _, entry := range due {
			ids = append(ids, entry.ID)
		}

		assert.ElementsMatch(t, []string{pending.ID, active.ID, waiting.ID}, ids)
	})

	t.Run("due audience excludes future wake times", func(t *testing.T) {
		store := factory(t)
		now := time.Now().UTC()
		campaignID := seedCampaign(t, store)

		seedEntry(t, store, campaignID, models.AudienceStatusWaiting, now.Add(time.Hour))

		assert.Empty(t, dueFor(t, store, campaignID, now))
	})

	t.Run("claim is exclusive until the next wake is scheduled", func(t *testing.T) {
		store := factory(t)
		now := time.Now().UTC()
		campaignID := seedCampaign(t, store)

		entry := seedEntry(t, store, campaignID, models.AudienceStatusPending, now.Add(-time.Minute))

		claimed, err := store.CampaignRepository().ClaimDueAudience(t.Context(), entry.ID, now)
		require.NoError(t, err)
		assert.True(t, claimed)

		claimed, err = store.CampaignRepository().ClaimDueAudience(t.Context(), entry.ID, now)
		require.NoError(t, err)
		assert.False(t, claimed, "second claim on the same entry must lose")

		// A claimed entry has no wake time, so it is not due either.
		assert.Empty(t, dueFor(t, store, campaignID, now))

		// Scheduling the next step makes it due and claimable again.
		entry.Status = models.AudienceStatusActive
		entry.CurrentStep = 2
		entry.NextRunAt = now
		require.NoError(t, store.CampaignRepository().UpdateAudienceEntry(t.Context(), entry))

		due := dueFor(t, store, campaignID, now)
		require.Len(t, due, 1)
		assert.Equal(t, 2, due[0].CurrentStep)

		claimed, err = store.CampaignRepository().ClaimDueAudience(t.Context(), entry.ID, now)
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("terminal entries cannot be claimed", func(t *testing.T) {
		store := factory(t)
		now := time.Now().UTC()
		campaignID := seedCampaign(t, store)

		entry := seedEntry(t, store, campaignID, models.AudienceStatusCompleted, now.Add(-time.Minute))

		claimed, err := store.CampaignRepository().ClaimDueAudience(t.Context(), entry.ID, now)
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("count active audience counts non-terminal entries", func(t *testing.T) {
		store := factory(t)
		now := time.Now().UTC()
		campaignID := seedCampaign(t, store)

		seedEntry(t, store, campaignID, models.AudienceStatusPending, now)
		seedEntry(t, store, campaignID, models.AudienceStatusActive, now)
		seedEntry(t, store, campaignID, models.AudienceStatusCompleted, now)
		seedEntry(t, store, campaignID, models.AudienceStatusFailed, now)

		active, err := store.CampaignRepository().CountActiveAudience(t.Context(), campaignID)
		require.NoError(t, err)
		assert.Equal(t, 2, active)
	})
}

func seedCampaign(t *testing.T, store persistence.Persistence) string {
	t.Helper()

	campaign := &models.Campaign{
		Name:         "conformance",
		TargetFilter: models.TargetFilterAll,
		Status:       models.CampaignStatusRunning,
		Steps: []*models.CampaignStep{
			{Order: 1, Kind: models.StepKindWhatsApp, Content: "hi"},
			{Order: 2, Kind: models.StepKindWhatsApp, Content: "hi again"},
		},
	}

	require.NoError(t, store.CampaignRepository().Save(t.Context(), campaign))

	return campaign.ID
}

func seedEntry(
	t *testing.T,
	store persistence.Persistence,
	campaignID string,
	status models.AudienceStatus,
	nextRunAt time.Time,
) *models.AudienceEntry {
	t.Helper()

	lead := &models.Lead{Phone: "+5511999990000"}
	require.NoError(t, store.LeadRepository().Save(t.Context(), lead))

	entry := &models.AudienceEntry{
		CampaignID:  campaignID,
		LeadID:      lead.ID,
		CurrentStep: 1,
		Status:      status,
		NextRunAt:   nextRunAt,
	}

	require.NoError(t, store.CampaignRepository().CreateAudienceEntry(t.Context(), entry))

	return entry
}

// dueFor filters DueAudience down to one campaign so the suite can run
// against a shared database.
func dueFor(t *testing.T, store persistence.Persistence, campaignID string, now time.Time) []*models.AudienceEntry {
	t.Helper()

	entries, err := store.CampaignRepository().DueAudience(t.Context(), now)
	require.NoError(t, err)

	matched := make([]*models.AudienceEntry, 0)

	for _, entry := range entries {
		if entry.CampaignID == campaignID {
			matched = append(matched, entry)
		}
	}

	return matched
}
