package domain

import "fmt"

// RunState is a stage of a single pipeline pass.
type RunState string

const (
	StateIdle          RunState = "idle"
	StateFetching      RunState = "fetching"
	StateDeduplicating RunState = "deduplicating"
	StateEnriching     RunState = "enriching"
	StateWriting       RunState = "writing"
	StateDone          RunState = "done"
	StateFailed        RunState = "failed"
)

// RunSummary aggregates the counters reported at the end of a run.
type RunSummary struct {
	State RunState

	FeedsFailed      int
	Fetched          int
	Deduplicated     int
	OverQuota        int
	Enriched         int
	EnrichmentFailed int
	Irrelevant       int
	Written          int
	WriteFailed      int

	// StoreUnavailable is set when known URLs could not be read and nothing was written.
	StoreUnavailable bool
}

// LogArgs flattens the summary into slog key/value pairs.
func (s RunSummary) LogArgs() []any {
	return []any{
		"state", s.State,
		"feeds_failed", s.FeedsFailed,
		"fetched", s.Fetched,
		"deduplicated", s.Deduplicated,
		"over_quota", s.OverQuota,
		"enriched", s.Enriched,
		"enrichment_failed", s.EnrichmentFailed,
		"irrelevant", s.Irrelevant,
		"written", s.Written,
		"write_failed", s.WriteFailed,
		"store_unavailable", s.StoreUnavailable,
	}
}

// String renders a short human-readable report.
func (s RunSummary) String() string {
	out := fmt.Sprintf("run %s: fetched %d, skipped %d, enriched %d (failed %d), written %d (failed %d)",
		s.State, s.Fetched, s.Deduplicated, s.Enriched, s.EnrichmentFailed, s.Written, s.WriteFailed)
	if s.FeedsFailed > 0 {
		out += fmt.Sprintf(", feeds failed %d", s.FeedsFailed)
	}
	if s.OverQuota > 0 {
		out += fmt.Sprintf(", over quota %d", s.OverQuota)
	}
	if s.Irrelevant > 0 {
		out += fmt.Sprintf(", irrelevant %d", s.Irrelevant)
	}
	if s.StoreUnavailable {
		out += ", store unavailable"
	}
	return out
}
