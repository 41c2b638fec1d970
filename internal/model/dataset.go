package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mirrorsync/internal/util"
)

// SyncDataset is one fetched snapshot of a profile.
type SyncDataset struct {
	Profile ProfileDetails `json:"profile"`
	Posts   []PostRecord   `json:"posts"`
}

// ProfileDetails carries profile-level fields. Zero values mean "not provided".
type ProfileDetails struct {
	DisplayName       string    `json:"display_name,omitempty"`
	ProfilePicURL     string    `json:"profile_pic_url,omitempty"`
	PlatformUserID    string    `json:"platform_user_id,omitempty"`
	Bio               string    `json:"bio,omitempty"`
	LastPostAt        *FlexTime `json:"last_post_at,omitempty"`
	FollowersCount    *int      `json:"followers_count,omitempty"`
	IsBusinessAccount *FlexBool `json:"is_business_account,omitempty"`
	CategoryName      string    `json:"category_name,omitempty"`
}

// PostRecord is a raw post as delivered by the fetch collaborator.
type PostRecord struct {
	Shortcode     string          `json:"shortcode"`
	TakenAt       *FlexTime       `json:"taken_at,omitempty"`
	Caption       string          `json:"caption"`
	Permalink     string          `json:"permalink"`
	MediaURL      string          `json:"media_url"`
	ImageURL      string          `json:"image_url,omitempty"`
	LikesCount    int             `json:"likes_count"`
	CommentsCount int             `json:"comments_count"`
	MediaType     string          `json:"media_type"`
	MediaID       string          `json:"media_id"`
	Comments      []CommentRecord `json:"comments"`
}

// SourceMediaURL prefers media_url and falls back to image_url.
func (r PostRecord) SourceMediaURL() string {
	if u := strings.TrimSpace(r.MediaURL); u != "" {
		return u
	}
	return strings.TrimSpace(r.ImageURL)
}

// CommentRecord is a raw comment inside a PostRecord.
type CommentRecord struct {
	Text           string    `json:"text"`
	AuthorUsername string    `json:"author_username,omitempty"`
	CreatedAt      *FlexTime `json:"created_at,omitempty"`
}

// FlexTime accepts RFC 3339 strings or unix seconds.
type FlexTime struct{ time.Time }

// NewFlexTime wraps t.
func NewFlexTime(t time.Time) *FlexTime { return &FlexTime{Time: t} }

// TimePtr returns nil for a nil or zero FlexTime.
func (f *FlexTime) TimePtr() *time.Time {
	if f == nil || f.IsZero() {
		return nil
	}
	t := f.UTC()
	return &t
}

func (f *FlexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			f.Time = time.Unix(n, 0).UTC()
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		f.Time = t.UTC()
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", string(b), err)
	}
	f.Time = time.Unix(int64(n), 0).UTC()
	return nil
}

func (f FlexTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.UTC().Format(time.RFC3339Nano))
}

// FlexBool accepts JSON booleans, numbers and the tokens util.ParseBool knows.
type FlexBool bool

// NewFlexBool wraps b.
func NewFlexBool(b bool) *FlexBool { v := FlexBool(b); return &v }

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	}
	v, err := util.ParseBool(raw)
	if err != nil {
		return err
	}
	*f = FlexBool(v)
	return nil
}
