package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/manash/stylist/internal/cost"
	"github.com/manash/stylist/internal/session"
	"github.com/manash/stylist/pkg/models"
)

var _ session.Recorder = (*Recorder)(nil)

// Recorder writes controller attempts into one run. Failed attempts are
// recorded at zero cost.
type Recorder struct {
	store    *Store
	run      *Run
	registry *models.ModelRegistry
	calc     *cost.Calculator
}

func NewRecorder(ctx context.Context, store *Store, name, model string, registry *models.ModelRegistry, calc *cost.Calculator) (*Recorder, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Name:      name,
		Model:     model,
		StartedAt: time.Now(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	if calc == nil {
		calc = cost.NewCalculator(nil)
	}
	return &Recorder{
		store:    store,
		run:      run,
		registry: registry,
		calc:     calc,
	}, nil
}

func (r *Recorder) RunID() string {
	return r.run.ID
}

func (r *Recorder) Run() Run {
	return *r.run
}

func (r *Recorder) RecordAttempt(ctx context.Context, a session.Attempt) error {
	providerType := r.providerFor(a.Model)

	entry := &Attempt{
		ID:        uuid.New().String(),
		RunID:     r.run.ID,
		Mode:      a.Mode.String(),
		Label:     a.Label,
		Provider:  string(providerType),
		Model:     a.Model,
		Status:    StatusOK,
		Duration:  a.Duration,
		Timestamp: a.Started,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if a.Succeeded() {
		entry.MediaType = a.Image.MediaType()
		entry.Bytes = a.Image.Len()
		entry.Cost = r.calc.Calculate(providerType, a.Model, 1).Total
	} else {
		entry.Status = StatusFailed
		entry.Error = a.Err.Error()
	}

	if err := r.store.CreateAttempt(ctx, entry); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

func (r *Recorder) providerFor(model string) models.ProviderType {
	if r.registry != nil {
		if cap, ok := r.registry.Get(model); ok {
			return cap.Provider
		}
	}
	return ""
}

// Cost returns the total for this run.
func (r *Recorder) Cost(ctx context.Context) (*CostSummary, error) {
	return r.store.GetRunCost(ctx, r.run.ID)
}
