// Package campaign runs drip campaigns: a linear step list processed per
// audience row, the non-branching sibling of the workflow engine.
package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadflow/leadflow/pkg/channel"
	"github.com/leadflow/leadflow/pkg/eventbus"
	"github.com/leadflow/leadflow/pkg/events"
	"github.com/leadflow/leadflow/pkg/models"
	"github.com/leadflow/leadflow/pkg/persistence"
	"github.com/leadflow/leadflow/pkg/template"
)

// DefaultSendPause is the pause between consecutive sends within one poll
// cycle, a rate limit against channel anti-spam heuristics.
const DefaultSendPause = time.Second

type Runner struct {
	persistence persistence.Persistence
	channel     channel.Adapter
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	sendPause   time.Duration
	now         func() time.Time
}

type Option func(*Runner)

func WithSendPause(pause time.Duration) Option {
	return func(r *Runner) { r.sendPause = pause }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func NewRunner(
	persistence persistence.Persistence,
	adapter channel.Adapter,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	opts ...Option,
) *Runner {
	runner := &Runner{
		persistence: persistence,
		channel:     adapter,
		publisher:   publisher,
		logger:      logger.With("module", "campaign_runner"),
		sendPause:   DefaultSendPause,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(runner)
	}

	return runner
}

// Start seeds the audience: one entry at step 1 for every lead matching the
// target filter that has not opted out and is not already enrolled. Returns
// the number of entries created.
func (r *Runner) Start(ctx context.Context, campaignID string) (int, error) {
	campaign, err := r.persistence.CampaignRepository().GetByID(ctx, campaignID)
	if err != nil {
		return 0, err
	}

	if campaign.Status == models.CampaignStatusDone {
		return 0, fmt.Errorf("campaign %s is already done", campaignID)
	}

	leads, err := r.persistence.LeadRepository().FindForCampaign(ctx, campaign.TargetFilter)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve campaign audience: %w", err)
	}

	now := r.now()
	seeded := 0

	for _, lead := range leads {
		enrolled, err := r.persistence.CampaignRepository().HasAudienceEntry(ctx, campaignID, lead.ID)
		if err != nil {
			return seeded, err
		}

		if enrolled {
			continue
		}

		entry := &models.AudienceEntry{
			CampaignID:  campaignID,
			LeadID:      lead.ID,
			CurrentStep: 1,
			Status:      models.AudienceStatusPending,
			NextRunAt:   now,
		}

		err = r.persistence.CampaignRepository().CreateAudienceEntry(ctx, entry)
		if err != nil {
			return seeded, err
		}

		seeded++
	}

	campaign.Status = models.CampaignStatusRunning

	err = r.persistence.CampaignRepository().Save(ctx, campaign)
	if err != nil {
		return seeded, err
	}

	r.logger.InfoContext(ctx, "Campaign started",
		"campaign_id", campaignID, "audience_size", seeded)

	r.publish(ctx, campaignID, events.CampaignStarted{
		BaseEvent:    events.NewBaseEvent(events.CampaignStartedEvent),
		CampaignID:   campaignID,
		AudienceSize: seeded,
	})

	return seeded, nil
}

// RunDue processes every audience entry whose wake time has passed. Failures
// are isolated per lead: one failed send never stops the batch. Returns the
// number of entries processed.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	now := r.now()

	entries, err := r.persistence.CampaignRepository().DueAudience(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to query due audience: %w", err)
	}

	campaigns := make(map[string]*models.Campaign)
	processed := 0

	for _, entry := range entries {
		campaign, ok := campaigns[entry.CampaignID]
		if !ok {
			campaign, err = r.persistence.CampaignRepository().GetByID(ctx, entry.CampaignID)
			if err != nil {
				r.logger.ErrorContext(ctx, "Failed to load campaign",
					"campaign_id", entry.CampaignID, "error", err)

				continue
			}

			campaigns[entry.CampaignID] = campaign
		}

		claimed, err := r.persistence.CampaignRepository().ClaimDueAudience(ctx, entry.ID, now)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to claim audience entry",
				"entry_id", entry.ID, "lead_id", entry.LeadID, "error", err)

			continue
		}

		if !claimed {
			// Another poller owns this entry.
			continue
		}

		entry.Status = models.AudienceStatusActive

		err = r.processEntry(ctx, campaign, entry)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to process audience entry",
				"entry_id", entry.ID, "lead_id", entry.LeadID, "error", err)

			continue
		}

		processed++
	}

	for _, campaign := range campaigns {
		err = r.finishIfDone(ctx, campaign)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to finish campaign",
				"campaign_id", campaign.ID, "error", err)
		}
	}

	return processed, nil
}

func (r *Runner) processEntry(ctx context.Context, campaign *models.Campaign, entry *models.AudienceEntry) error {
	lead, err := r.persistence.LeadRepository().GetByID(ctx, entry.LeadID)
	if err != nil {
		return err
	}

	if lead.StoppedAutomation {
		return r.failEntry(ctx, entry, "lead opted out of automation")
	}

	if entry.CurrentStep > len(campaign.Steps) {
		entry.Status = models.AudienceStatusCompleted

		return r.persistence.CampaignRepository().UpdateAudienceEntry(ctx, entry)
	}

	step := campaign.Steps[entry.CurrentStep-1]

	switch step.Kind {
	case models.StepKindWhatsApp:
		return r.runMessageStep(ctx, entry, step, lead)
	case models.StepKindDelay:
		entry.CurrentStep++
		entry.Status = models.AudienceStatusWaiting
		entry.NextRunAt = r.now().Add(time.Duration(step.ParseDelayHours()) * time.Hour)

		return r.persistence.CampaignRepository().UpdateAudienceEntry(ctx, entry)
	default:
		return r.failEntry(ctx, entry, fmt.Sprintf("unknown step kind %q", step.Kind))
	}
}

func (r *Runner) runMessageStep(ctx context.Context, entry *models.AudienceEntry, step *models.CampaignStep, lead *models.Lead) error {
	text := template.RenderForLead(step.Content, lead)

	_, err := r.channel.Send(ctx, lead.Phone, text)
	if err != nil {
		// No retry; the failure is terminal for this lead only.
		return r.failEntry(ctx, entry, err.Error())
	}

	err = r.persistence.LeadRepository().AddMessage(ctx, lead.ID, text, models.MessageDirectionOut)
	if err != nil {
		return fmt.Errorf("failed to record outbound message: %w", err)
	}

	entry.CurrentStep++
	entry.Status = models.AudienceStatusActive
	// The next poll cycle picks the follow-up step immediately.
	entry.NextRunAt = r.now()

	err = r.persistence.CampaignRepository().UpdateAudienceEntry(ctx, entry)
	if err != nil {
		return err
	}

	return r.pause(ctx)
}

func (r *Runner) failEntry(ctx context.Context, entry *models.AudienceEntry, reason string) error {
	entry.Status = models.AudienceStatusFailed
	entry.FailureReason = reason

	err := r.persistence.CampaignRepository().UpdateAudienceEntry(ctx, entry)
	if err != nil {
		return err
	}

	r.logger.WarnContext(ctx, "Audience entry failed",
		"entry_id", entry.ID,
		"campaign_id", entry.CampaignID,
		"lead_id", entry.LeadID,
		"reason", reason)

	return nil
}

func (r *Runner) finishIfDone(ctx context.Context, campaign *models.Campaign) error {
	if campaign.Status != models.CampaignStatusRunning {
		return nil
	}

	active, err := r.persistence.CampaignRepository().CountActiveAudience(ctx, campaign.ID)
	if err != nil {
		return err
	}

	if active > 0 {
		return nil
	}

	campaign.Status = models.CampaignStatusDone

	err = r.persistence.CampaignRepository().Save(ctx, campaign)
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Campaign finished", "campaign_id", campaign.ID)

	r.publish(ctx, campaign.ID, events.CampaignFinished{
		BaseEvent:  events.NewBaseEvent(events.CampaignFinishedEvent),
		CampaignID: campaign.ID,
	})

	return nil
}

func (r *Runner) publish(ctx context.Context, key string, event eventbus.Event) {
	if r.publisher == nil {
		return
	}

	err := r.publisher.Publish(ctx, key, event)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func (r *Runner) pause(ctx context.Context) error {
	if r.sendPause <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.sendPause):
		return nil
	}
}
