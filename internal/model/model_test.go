package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetDecodesFlexibleFields(t *testing.T) {
	raw := `{
	  "profile": {"last_post_at": "2024-05-01T10:00:00+02:00", "followers_count": 7, "is_business_account": 1},
	  "posts": [
	    {"shortcode": "A", "taken_at": 1714557600, "media_url": " ", "image_url": "https://cdn.example.com/a.jpg"},
	    {"shortcode": "B", "taken_at": "", "media_url": "https://cdn.example.com/b.mp4", "comments": [{"text": "x", "created_at": null}]}
	  ]
	}`
	var ds SyncDataset
	require.NoError(t, json.Unmarshal([]byte(raw), &ds))

	require.NotNil(t, ds.Profile.LastPostAt)
	assert.True(t, ds.Profile.LastPostAt.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.UTC, ds.Profile.LastPostAt.TimePtr().Location())
	assert.True(t, bool(*ds.Profile.IsBusinessAccount))

	assert.Equal(t, int64(1714557600), ds.Posts[0].TakenAt.Unix())
	assert.Equal(t, "https://cdn.example.com/a.jpg", ds.Posts[0].SourceMediaURL())
	assert.Nil(t, ds.Posts[1].TakenAt.TimePtr())
	assert.Equal(t, "https://cdn.example.com/b.mp4", ds.Posts[1].SourceMediaURL())
	assert.Nil(t, ds.Posts[1].Comments[0].CreatedAt.TimePtr())
}

func TestDatasetRejectsBadValues(t *testing.T) {
	var ds SyncDataset
	assert.Error(t, json.Unmarshal([]byte(`{"posts": [{"taken_at": "yesterday"}]}`), &ds))
	assert.Error(t, json.Unmarshal([]byte(`{"profile": {"is_business_account": "maybe"}}`), &ds))
}

func TestFlexBoolTokens(t *testing.T) {
	for in, want := range map[string]bool{`true`: true, `"yes"`: true, `"ON"`: true, `0`: false, `"off"`: false, `false`: false} {
		var b FlexBool
		require.NoError(t, json.Unmarshal([]byte(in), &b), in)
		assert.Equal(t, want, bool(b), in)
	}
}

func TestSummaryFinalizeDeduplicates(t *testing.T) {
	s := NewSyncSummary("r1", time.Unix(0, 0))
	s.Record("A", ChangeCreated, true)
	s.Record("A", ChangeCreated, true)
	s.Record("B", ChangeUnchanged, false)
	s.Record("C", ChangeDeleted, false)
	s.Record("D", ChangeRestored, true)
	s.Record("E", ChangeUpdated, false)
	s.Finalize()

	assert.Equal(t, []string{"A"}, s.CreatedShortcodes)
	assert.Equal(t, 1, s.CreatedCount)
	assert.Equal(t, []string{"A", "D"}, s.AnalysisCandidateShortcodes)
	assert.Equal(t, 1, s.UnchangedCount)
	assert.Equal(t, 1, s.DeletedCount)
	assert.Equal(t, 1, s.RestoredCount)
	assert.Equal(t, 1, s.UpdatedCount)

	b, err := json.Marshal(NewSyncSummary("", time.Unix(0, 0)))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"deleted_shortcodes":[]`)
}

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, Dedupe([]string{"b", "a", "b", "c", "a"}))
	assert.Empty(t, Dedupe(nil))
}

func TestStripDeletion(t *testing.T) {
	now := time.Now()
	p := Post{Metadata: PostMetadata{DeletedFromSource: true, DeletedDetectedAt: &now, DeletedReason: "missing_from_latest_capture", MediaID: "m"}}
	assert.True(t, p.Deleted())
	p.Metadata.StripDeletion()
	assert.False(t, p.Deleted())
	assert.Nil(t, p.Metadata.DeletedDetectedAt)
	assert.Empty(t, p.Metadata.DeletedReason)
	assert.Equal(t, "m", p.Metadata.MediaID)
}
