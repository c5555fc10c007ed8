package ledger

import "time"

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Run is one controller lifetime: a REPL, a server or one batch item.
type Run struct {
	ID        string
	Name      string
	Model     string
	StartedAt time.Time
}

type Attempt struct {
	ID        string
	RunID     string
	Mode      string
	Label     string
	Provider  string
	Model     string
	Status    string
	Error     string
	MediaType string
	Bytes     int
	Cost      float64
	Duration  time.Duration
	Timestamp time.Time
}

type CostSummary struct {
	TotalCost    float64
	ImageCount   int
	AttemptCount int
}

type ProviderCostSummary struct {
	Provider     string
	TotalCost    float64
	ImageCount   int
	AttemptCount int
}
