// Package trust decides whether media of a profile may be retrieved on
// behalf of the local account.
package trust

import (
	"context"
	"fmt"

	"mirrorsync/internal/config"
	"mirrorsync/internal/logging"
	"mirrorsync/internal/metrics"
	"mirrorsync/internal/model"
	"mirrorsync/internal/util"
)

// Relationship gate markers.
const (
	MarkerProfileMissing = "profile_missing"
	MarkerNotConnected   = "not_followed_or_connected"

	ReasonNotConnected = "profile_not_connected"
	SourceRelationship = "relationship"
)

// Blocklist is the external media-source blocklist. A decision with
// Blocked=false means the source is acceptable.
type Blocklist interface {
	Check(ctx context.Context, mediaURL string) (model.TrustDecision, error)
}

// Policy evaluates the relationship gate and then the source gate.
type Policy struct {
	RequireConnection bool
	trustedTags       map[string]struct{}
	blocklist         Blocklist
}

// NewPolicy builds a policy from configuration. blocklist may be nil.
func NewPolicy(cfg config.TrustConfig, blocklist Blocklist) *Policy {
	tags := make(map[string]struct{}, len(cfg.TrustedTags))
	for _, t := range cfg.TrustedTags {
		tags[util.NormalizeUsername(t)] = struct{}{}
	}
	return &Policy{RequireConnection: cfg.RequireConnection, trustedTags: tags, blocklist: blocklist}
}

// Evaluate never fails: an internal error or panic yields an allowing
// decision, logged as trust_fail_open and counted.
func (p *Policy) Evaluate(ctx context.Context, account model.Account, profile *model.Profile, mediaURL string) (d model.TrustDecision) {
	defer func() {
		if r := recover(); r != nil {
			d = p.failOpen(fmt.Errorf("panic: %v", r), account, profile, mediaURL)
		}
	}()
	d, err := p.evaluate(ctx, account, profile, mediaURL)
	if err != nil {
		return p.failOpen(err, account, profile, mediaURL)
	}
	src := d.Source
	if src == "" {
		src = "none"
	}
	metrics.IncTrustDecision(src, d.Blocked)
	return d
}

func (p *Policy) evaluate(ctx context.Context, account model.Account, profile *model.Profile, mediaURL string) (model.TrustDecision, error) {
	if marker := p.relationshipMarker(account, profile); marker != "" {
		return model.TrustDecision{
			Blocked:    true,
			ReasonCode: ReasonNotConnected,
			Marker:     marker,
			Confidence: "high",
			Source:     SourceRelationship,
		}, nil
	}
	if p.blocklist == nil {
		return model.TrustDecision{}, nil
	}
	d, err := p.blocklist.Check(ctx, mediaURL)
	if err != nil {
		return model.TrustDecision{}, fmt.Errorf("blocklist: %w", err)
	}
	if d.Blocked {
		return d, nil
	}
	return model.TrustDecision{}, nil
}

// relationshipMarker returns "" when the relationship gate passes.
func (p *Policy) relationshipMarker(account model.Account, profile *model.Profile) string {
	if profile == nil {
		return MarkerProfileMissing
	}
	if self := util.NormalizeUsername(account.Username); self != "" && self == util.NormalizeUsername(profile.Username) {
		return ""
	}
	if profile.Following || profile.FollowedBy {
		return ""
	}
	for _, t := range profile.Tags {
		if _, ok := p.trustedTags[util.NormalizeUsername(t)]; ok {
			return ""
		}
	}
	if !p.RequireConnection {
		return ""
	}
	return MarkerNotConnected
}

func (p *Policy) failOpen(err error, account model.Account, profile *model.Profile, mediaURL string) model.TrustDecision {
	metrics.TrustFailOpen.Inc()
	fields := map[string]any{"error": err.Error(), "account": account.Username, "media_url": mediaURL}
	if profile != nil {
		fields["profile"] = profile.Username
	}
	logging.Warn("trust_fail_open", fields)
	return model.TrustDecision{Blocked: false}
}
