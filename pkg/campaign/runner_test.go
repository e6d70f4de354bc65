package campaign_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/leadflow/pkg/campaign"
	"github.com/leadflow/leadflow/pkg/channel"
	"github.com/leadflow/leadflow/pkg/models"
	"github.com/leadflow/leadflow/pkg/persistence/memory"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	failWith error
	latency  time.Duration
}

func (f *fakeAdapter) Send(_ context.Context, destination, text string) (*channel.SendResult, error) {
	if f.latency > 0 {
		time.Sleep(f.latency)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return nil, &channel.SendError{Destination: destination, Err: f.failWith}
	}

	f.sent = append(f.sent, text)

	return &channel.SendResult{MessageID: "msg-1"}, nil
}

func (f *fakeAdapter) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.sent...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dripCampaign(id string, steps ...*models.CampaignStep) *models.Campaign {
	return &models.Campaign{
		ID:           id,
		Name:         "drip " + id,
		TargetFilter: models.TargetFilterAll,
		Status:       models.CampaignStatusDraft,
		Steps:        steps,
	}
}

func whatsappStep(order int, content string) *models.CampaignStep {
	return &models.CampaignStep{Order: order, Kind: models.StepKindWhatsApp, Content: content}
}

func delayStep(order int, hours string) *models.CampaignStep {
	return &models.CampaignStep{Order: order, Kind: models.StepKindDelay, Content: hours}
}

func audienceFor(t *testing.T, store *memory.Persistence, campaignID string, now time.Time) []*models.AudienceEntry {
	t.Helper()

	entries, err := store.CampaignRepository().DueAudience(t.Context(), now.Add(100*24*time.Hour))
	require.NoError(t, err)

	matched := make([]*models.AudienceEntry, 0)

	for _, entry := range entries {
		if entry.CampaignID == campaignID {
			matched = append(matched, entry)
		}
	}

	return matched
}

func TestRunnerDripSequenceAcrossPolls(t *testing.T) {
	store := memory.NewPersistence()
	adapter := &fakeAdapter{}

	now := time.Now().UTC()
	clock := func() time.Time { return now }

	runner := campaign.NewRunner(store, adapter, nil, testLogger(),
		campaign.WithSendPause(0), campaign.WithClock(clock))

	require.NoError(t, store.CampaignRepository().Save(t.Context(), dripCampaign("camp-1",
		whatsappStep(1, "Hello {{name}}"),
		delayStep(2, "24"),
		whatsappStep(3, "Still interested?"),
	)))
	require.NoError(t, store.LeadRepository().Save(t.Context(), &models.Lead{
		ID: "lead-1", Phone: "+1", Name: "Alice",
	}))

	seeded, err := runner.Start(t.Context(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, seeded)

	// Poll 1: sends step 1 and advances to step 2, due immediately.
	processed, err := runner.RunDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, []string{"Hello Alice"}, adapter.Sent())

	// Poll 2: step 2 is a delay, advances to step 3 with a 24h wake time.
	_, err = runner.RunDue(t.Context())
	require.NoError(t, err)
	assert.Len(t, adapter.Sent(), 1)

	entries := audienceFor(t, store, "camp-1", now)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].CurrentStep)
	assert.Equal(t, models.AudienceStatusWaiting, entries[0].Status)
	assert.Equal(t, now.Add(24*time.Hour), entries[0].NextRunAt)

	// Poll 3 before the delay elapses is a no-op.
	processed, err = runner.RunDue(t.Context())
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Len(t, adapter.Sent(), 1)

	// After the delay the final message goes out and the entry completes.
	now = now.Add(25 * time.Hour)

	_, err = runner.RunDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello Alice", "Still interested?"}, adapter.Sent())

	_, err = runner.RunDue(t.Context())
	require.NoError(t, err)

	stored, err := store.CampaignRepository().GetByID(t.Context(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusDone, stored.Status)
}

func TestRunnerStartSkipsOptedOutAndEnrolledLeads(t *testing.T) {
	store := memory.NewPersistence()
	runner := campaign.NewRunner(store, &fakeAdapter{}, nil, testLogger(), campaign.WithSendPause(0))

	require.NoError(t, store.CampaignRepository().Save(t.Context(), dripCampaign("camp-1",
		whatsappStep(1, "hi"),
	)))
	require.NoError(t, store.LeadRepository().Save(t.Context(), &models.Lead{ID: "lead-1", Phone: "+1"}))
	require.NoError(t, store.LeadRepository().Save(t.Context(), &models.Lead{
		ID: "lead-2", Phone: "+2", StoppedAutomation: true,
	}))

	seeded, err := runner.Start(t.Context(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, seeded)

	// Starting again does not duplicate audience rows.
	seeded, err = runner.Start(t.Context(), "camp-1")
	require.NoError(t, err)
	assert.Zero(t, seeded)
}

func TestRunnerTargetFilterSelectsByStatus(t *testing.T) {
	store := memory.NewPersistence()
	adapter := &fakeAdapter{}
	runner := campaign.NewRunner(store, adapter, nil, testLogger(), campaign.WithSendPause(0))

	drip := dripCampaign("camp-vip", whatsappStep(1, "vip offer"))
	drip.TargetFilter = models.TargetFilterStatusPrefix + "VIP"
	require.NoError(t, store.CampaignRepository().Save(t.Context(), drip))

	require.NoError(t, store.LeadRepository().Save(t.Context(), &models.Lead{
		ID: "lead-vip", Phone: "+1", Status: "VIP",
	}))
	require.NoError(t, store.LeadRepository().Save(t.Context(), &models.Lead{
		ID: "lead-new", Phone: "+2", Status: "NEW",
	}))

	seeded, err := runner.Start(t.Context(), "camp-vip")
	require.NoError(t, err)
	assert.Equal(t, 1, seeded)

	_, err = runner.RunDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"vip offer"}, adapter.Sent())
}

func TestRunnerOptOutMidCampaignFailsEntry(t *testing.T) {
	store := memory.NewPersistence()
	adapter := &fakeAdapter{}

	now := time.Now().UTC()
	clock := func() time.Time { return now }

	runner := campaign.NewRunner(store, adapter, nil, testLogger(),
		campaign.WithSendPause(0), campaign.WithClock(clock))

	require.NoError(t, store.CampaignRepository().Save(t.Context(), dripCampaign("camp-1",
		whatsappStep(1, "first"),
		whatsappStep(2, "second"),
	)))

	lead := &models.Lead{ID: "lead-1", Phone: "+1"}
	require.NoError(t, store.LeadRepository().Save(t.Context(), lead))

	_, err := runner.Start(t.Context(), "camp-1")
	require.NoError(t, err)

	_, err = runner.RunDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, adapter.Sent())

	// The lead opts out between polls.
	lead.StoppedAutomation = true
	require.NoError(t, store.LeadRepository().Save(t.Context(), lead))

	_, err = runner.RunDue(t.Context())
	require.NoError(t, err)
	assert.Len(t, adapter.Sent(), 1)

	entries := audienceFor(t, store, "camp-1", now)
	assert.Empty(t, entries)
}

func TestRunnerConcurrentPollsSendStepOnce(t *testing.T) {
	store := memory.NewPersistence()
	adapter := &fakeAdapter{latency: 20 * time.Millisecond}

	now := time.Now().UTC()
	clock := func() time.Time { return now }

	runner := campaign.NewRunner(store, adapter, nil, testLogger(),
		campaign.WithSendPause(0), campaign.WithClock(clock))

	require.NoError(t, store.CampaignRepository().Save(t.Context(), dripCampaign("camp-1",
		whatsappStep(1, "only once"),
	)))
	require.NoError(t, store.LeadRepository().Save(t.Context(), &models.Lead{ID: "lead-1", Phone: "+1"}))

	_, err := runner.Start(t.Context(), "camp-1")
	require.NoError(t, err)

	var wg sync.WaitGroup

	for range 2 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := runner.RunDue(context.Background())
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	// The claim on the audience row lets exactly one poller own the step.
	assert.Equal(t, []string{"only once"}, adapter.Sent())
}

func TestRunnerSendFailureIsIsolatedPerLead(t *testing.T) {
	store := memory.NewPersistence()
	adapter := &fakeAdapter{failWith: errors.New("gateway down")}
	runner := campaign.NewRunner(store, adapter, nil, testLogger(), campaign.WithSendPause(0))

	require.NoError(t, store.CampaignRepository().Save(t.Context(), dripCampaign("camp-1",
		whatsappStep(1, "hi"),
	)))
	require.NoError(t, store.LeadRepository().Save(t.Context(), &models.Lead{ID: "lead-1", Phone: "+1"}))
	require.NoError(t, store.LeadRepository().Save(t.Context(), &models.Lead{ID: "lead-2", Phone: "+2"}))

	_, err := runner.Start(t.Context(), "camp-1")
	require.NoError(t, err)

	processed, err := runner.RunDue(t.Context())
	require.NoError(t, err)
	// Both rows are processed; each failure is terminal for its lead only.
	assert.Equal(t, 2, processed)

	active, err := store.CampaignRepository().CountActiveAudience(t.Context(), "camp-1")
	require.NoError(t, err)
	assert.Zero(t, active)
}

func TestRunnerStepOverflowCompletesEntry(t *testing.T) {
	store := memory.NewPersistence()
	adapter := &fakeAdapter{}
	runner := campaign.NewRunner(store, adapter, nil, testLogger(), campaign.WithSendPause(0))

	require.NoError(t, store.CampaignRepository().Save(t.Context(), &models.Campaign{
		ID:           "camp-1",
		Name:         "overflow",
		TargetFilter: models.TargetFilterAll,
		Status:       models.CampaignStatusRunning,
		Steps:        []*models.CampaignStep{whatsappStep(1, "hi")},
	}))
	require.NoError(t, store.LeadRepository().Save(t.Context(), &models.Lead{ID: "lead-1", Phone: "+1"}))

	entry := &models.AudienceEntry{
		CampaignID:  "camp-1",
		LeadID:      "lead-1",
		CurrentStep: 5,
		Status:      models.AudienceStatusActive,
		NextRunAt:   time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, store.CampaignRepository().CreateAudienceEntry(t.Context(), entry))

	_, err := runner.RunDue(t.Context())
	require.NoError(t, err)

	assert.Empty(t, adapter.Sent())

	active, err := store.CampaignRepository().CountActiveAudience(t.Context(), "camp-1")
	require.NoError(t, err)
	assert.Zero(t, active)
}
