package model

import "time"

// Change classifies what a reconciliation did to a post.
type Change string

const (
	ChangeCreated   Change = "created"
	ChangeUpdated   Change = "updated"
	ChangeRestored  Change = "restored"
	ChangeUnchanged Change = "unchanged"
	ChangeDeleted   Change = "deleted"
)

// SyncSummary aggregates one cycle.
type SyncSummary struct {
	RunID                       string    `json:"run_id,omitempty"`
	SyncedAt                    time.Time `json:"synced_at"`
	CreatedCount                int       `json:"created_count"`
	UpdatedCount                int       `json:"updated_count"`
	UnchangedCount              int       `json:"unchanged_count"`
	RestoredCount               int       `json:"restored_count"`
	DeletedCount                int       `json:"deleted_count"`
	CreatedShortcodes           []string  `json:"created_shortcodes"`
	UpdatedShortcodes           []string  `json:"updated_shortcodes"`
	RestoredShortcodes          []string  `json:"restored_shortcodes"`
	DeletedShortcodes           []string  `json:"deleted_shortcodes"`
	UnchangedShortcodes         []string  `json:"unchanged_shortcodes"`
	AnalysisCandidateShortcodes []string  `json:"analysis_candidate_shortcodes"`
}

// NewSyncSummary returns a summary with non-nil lists so it encodes as [].
func NewSyncSummary(runID string, syncedAt time.Time) *SyncSummary {
	return &SyncSummary{
		RunID:                       runID,
		SyncedAt:                    syncedAt,
		CreatedShortcodes:           []string{},
		UpdatedShortcodes:           []string{},
		RestoredShortcodes:          []string{},
		DeletedShortcodes:           []string{},
		UnchangedShortcodes:         []string{},
		AnalysisCandidateShortcodes: []string{},
	}
}

// Record adds one reconciled post.
func (s *SyncSummary) Record(shortcode string, change Change, analysisRequired bool) {
	switch change {
	case ChangeCreated:
		s.CreatedShortcodes = append(s.CreatedShortcodes, shortcode)
	case ChangeUpdated:
		s.UpdatedShortcodes = append(s.UpdatedShortcodes, shortcode)
	case ChangeRestored:
		s.RestoredShortcodes = append(s.RestoredShortcodes, shortcode)
	case ChangeDeleted:
		s.DeletedShortcodes = append(s.DeletedShortcodes, shortcode)
	default:
		s.UnchangedShortcodes = append(s.UnchangedShortcodes, shortcode)
	}
	if analysisRequired {
		s.AnalysisCandidateShortcodes = append(s.AnalysisCandidateShortcodes, shortcode)
	}
}

// Finalize de-duplicates every list and derives the counts from them.
func (s *SyncSummary) Finalize() {
	s.CreatedShortcodes = Dedupe(s.CreatedShortcodes)
	s.UpdatedShortcodes = Dedupe(s.UpdatedShortcodes)
	s.RestoredShortcodes = Dedupe(s.RestoredShortcodes)
	s.DeletedShortcodes = Dedupe(s.DeletedShortcodes)
	s.UnchangedShortcodes = Dedupe(s.UnchangedShortcodes)
	s.AnalysisCandidateShortcodes = Dedupe(s.AnalysisCandidateShortcodes)
	s.CreatedCount = len(s.CreatedShortcodes)
	s.UpdatedCount = len(s.UpdatedShortcodes)
	s.RestoredCount = len(s.RestoredShortcodes)
	s.DeletedCount = len(s.DeletedShortcodes)
	s.UnchangedCount = len(s.UnchangedShortcodes)
}

// Dedupe keeps the first occurrence of every value, preserving order.
func Dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
