// Package scheduler turns passing time into forward progress: a cron-driven
// poller that resumes due suspended executions and advances due campaign
// audience rows.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leadflow/leadflow/pkg/campaign"
	"github.com/leadflow/leadflow/pkg/engine"
	"github.com/leadflow/leadflow/pkg/persistence"
)

// DefaultCronExpr polls every 30 seconds. Delay nodes are hour-grained so
// this is more than enough.
const DefaultCronExpr = "@every 30s"

// Poller periodically queries for due work and dispatches it. Executions
// are claimed through the engine's atomic conditional update, so running
// several poller replicas is safe.
type Poller struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	runner      *campaign.Runner
	logger      *slog.Logger
	cronExpr    string
	cron        *cron.Cron
	now         func() time.Time
}

// WithClock overrides the poller's clock. Test hook.
func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now

	return p
}

func NewPoller(
	persistence persistence.Persistence,
	eng *engine.Engine,
	runner *campaign.Runner,
	logger *slog.Logger,
	cronExpr string,
) *Poller {
	if cronExpr == "" {
		cronExpr = DefaultCronExpr
	}

	return &Poller{
		persistence: persistence,
		engine:      eng,
		runner:      runner,
		logger:      logger.With("module", "scheduler"),
		cronExpr:    cronExpr,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the poll cycle. Overlapping cycles are skipped rather than
// stacked.
func (p *Poller) Start(ctx context.Context) error {
	_, err := cron.ParseStandard(p.cronExpr)
	if err != nil {
		return fmt.Errorf("invalid poll cron expression %q: %w", p.cronExpr, err)
	}

	p.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err = p.cron.AddFunc(p.cronExpr, func() {
		p.Poll(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule poll cycle: %w", err)
	}

	p.cron.Start()

	p.logger.InfoContext(ctx, "Scheduler started", "cron", p.cronExpr)

	return nil
}

func (p *Poller) Stop(ctx context.Context) error {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}

	p.logger.InfoContext(ctx, "Scheduler stopped")

	return nil
}

// Poll runs one cycle: resume due executions, then advance due campaign
// audience rows. Exported so operators can force a cycle.
func (p *Poller) Poll(ctx context.Context) {
	resumed, err := p.ResumeDueExecutions(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to resume due executions", "error", err)
	}

	processed, err := p.runner.RunDue(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to run due campaign audience", "error", err)
	}

	if resumed > 0 || processed > 0 {
		p.logger.InfoContext(ctx, "Poll cycle finished",
			"executions_resumed", resumed, "audience_processed", processed)
	}
}

// ResumeDueExecutions resumes every waiting execution whose wake time has
// passed. The per-execution claim inside Resume keeps concurrent pollers
// from double-resuming; a lost claim is not an error.
func (p *Poller) ResumeDueExecutions(ctx context.Context) (int, error) {
	due, err := p.persistence.ExecutionRepository().DueExecutions(ctx, p.now())
	if err != nil {
		return 0, fmt.Errorf("failed to query due executions: %w", err)
	}

	resumed := 0

	for _, execution := range due {
		err := p.engine.Resume(ctx, execution.ID)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to resume execution",
				"execution_id", execution.ID, "error", err)

			continue
		}

		resumed++
	}

	return resumed, nil
}
