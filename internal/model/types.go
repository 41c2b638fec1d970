package model

import "time"

// AnalysisStatus values the engine reads or writes. Other terminal values are
// set by the external analyzer and left alone.
const (
	AnalysisPending  = "pending"
	AnalysisAnalyzed = "analyzed"
)

// Account is the local identity on whose behalf media is retrieved.
type Account struct {
	Username  string
	UserAgent string
}

// Profile is the mirrored external profile.
type Profile struct {
	ID                int64      `json:"id"`
	Username          string     `json:"username"`
	DisplayName       string     `json:"display_name"`
	ProfilePicURL     string     `json:"profile_pic_url"`
	PlatformUserID    string     `json:"platform_user_id"`
	Bio               string     `json:"bio"`
	LastPostAt        *time.Time `json:"last_post_at,omitempty"`
	FollowersCount    int        `json:"followers_count"`
	IsBusinessAccount bool       `json:"is_business_account"`
	CategoryName      string     `json:"category_name"`
	// Relationship state, maintained outside the sync engine.
	Following    bool       `json:"following"`
	FollowedBy   bool       `json:"followed_by"`
	Tags         []string   `json:"tags,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// PostMetadata is the fixed-shape metadata record stored with a post.
type PostMetadata struct {
	MediaType             string     `json:"media_type,omitempty"`
	MediaID               string     `json:"media_id,omitempty"`
	Source                string     `json:"source,omitempty"`
	ReportedCommentsCount *int       `json:"reported_comments_count,omitempty"`
	DeletedFromSource     bool       `json:"deleted_from_source,omitempty"`
	DeletedDetectedAt     *time.Time `json:"deleted_detected_at,omitempty"`
	DeletedReason         string     `json:"deleted_reason,omitempty"`
	RestoredAt            *time.Time `json:"restored_at,omitempty"`
}

// StripDeletion clears every deletion marker.
func (m *PostMetadata) StripDeletion() {
	m.DeletedFromSource = false
	m.DeletedDetectedAt = nil
	m.DeletedReason = ""
}

// Post is one mirrored post, unique within its profile by shortcode.
type Post struct {
	ID               int64        `json:"id"`
	ProfileID        int64        `json:"profile_id"`
	Shortcode        string       `json:"shortcode"`
	TakenAt          *time.Time   `json:"taken_at,omitempty"`
	Caption          string       `json:"caption"`
	Permalink        string       `json:"permalink"`
	SourceMediaURL   string       `json:"source_media_url"`
	LikesCount       int          `json:"likes_count"`
	CommentsCount    int          `json:"comments_count"`
	MediaFingerprint string       `json:"media_fingerprint,omitempty"`
	AnalysisStatus   string       `json:"analysis_status"`
	AnalyzedAt       *time.Time   `json:"analyzed_at,omitempty"`
	LastSyncedAt     *time.Time   `json:"last_synced_at,omitempty"`
	Metadata         PostMetadata `json:"metadata"`
}

// Deleted reports whether the post carries the soft-deletion marker.
func (p *Post) Deleted() bool { return p.Metadata.DeletedFromSource }

// Comment belongs to a post; the whole set is replaced on reconciliation.
type Comment struct {
	ID             int64      `json:"id,omitempty"`
	PostID         int64      `json:"post_id,omitempty"`
	AuthorUsername string     `json:"author_username,omitempty"`
	Body           string     `json:"body"`
	CommentedAt    *time.Time `json:"commented_at,omitempty"`
	Source         string     `json:"source,omitempty"`
}

// MediaBlob is the attached media for a post.
type MediaBlob struct {
	Filename    string
	ContentType string
	SourceURL   string
	Data        []byte
}

// TrustDecision gates media retrieval for an (account, profile, url) triple.
type TrustDecision struct {
	Blocked    bool   `json:"blocked"`
	ReasonCode string `json:"reason_code,omitempty"`
	Marker     string `json:"marker,omitempty"`
	Confidence string `json:"confidence,omitempty"`
	Source     string `json:"source,omitempty"`
}

// SyncRun records one orchestrator invocation.
type SyncRun struct {
	RunID      string       `json:"run_id"`
	Username   string       `json:"username"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Summary    *SyncSummary `json:"summary,omitempty"`
	Error      string       `json:"error,omitempty"`
}
