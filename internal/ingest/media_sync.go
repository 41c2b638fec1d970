package ingest

import (
	"context"
	"fmt"

	"mirrorsync/internal/logging"
	"mirrorsync/internal/media"
	"mirrorsync/internal/metrics"
	"mirrorsync/internal/model"
	"mirrorsync/internal/urlnorm"
)

// MediaFetcher downloads one media URL. *media.Retriever implements it.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) (*media.Result, error)
}

// TrustEvaluator gates media retrieval. *trust.Policy implements it.
type TrustEvaluator interface {
	Evaluate(ctx context.Context, account model.Account, profile *model.Profile, mediaURL string) model.TrustDecision
}

// syncMedia attaches fresh media to post when its source changed. The fetch
// is skipped when the incoming media identifier equals the stored one, or the
// URL fingerprint equals the stored fingerprint, and media is present. URL,
// trust and download failures are logged and reported as no change;
// repository errors are returned. On success post.MediaFingerprint is
// updated in memory and the caller persists it.
func (r *Reconciler) syncMedia(ctx context.Context, profile *model.Profile, post *model.Post, incomingMediaID, storedMediaID string) (bool, error) {
	if post.SourceMediaURL == "" {
		return false, nil
	}
	hasMedia, err := r.Repo.HasMedia(ctx, post.ID)
	if err != nil {
		return false, fmt.Errorf("media state %s: %w", post.Shortcode, err)
	}
	if hasMedia && incomingMediaID != "" && incomingMediaID == storedMediaID {
		metrics.IncMediaFetch("unchanged")
		return false, nil
	}

	mediaURL, ok := urlnorm.Normalize(post.SourceMediaURL)
	if !ok {
		skipMedia(post, "invalid_url", nil)
		return false, nil
	}
	fingerprint := urlnorm.Fingerprint(mediaURL)
	if hasMedia && fingerprint == post.MediaFingerprint {
		metrics.IncMediaFetch("unchanged")
		return false, nil
	}

	if d := r.Trust.Evaluate(ctx, r.Account, profile, mediaURL); d.Blocked {
		skipMedia(post, "trust_blocked", map[string]any{"reason_code": d.ReasonCode, "marker": d.Marker, "source": d.Source})
		return false, nil
	}
	res, err := r.Media.Fetch(ctx, mediaURL)
	if err != nil {
		skipMedia(post, "download_failed", map[string]any{"error": err.Error()})
		return false, nil
	}

	blob := model.MediaBlob{Filename: res.Filename, ContentType: res.ContentType, SourceURL: mediaURL, Data: res.Data}
	if err := r.Repo.AttachMedia(ctx, post.ID, blob); err != nil {
		return false, fmt.Errorf("attach media %s: %w", post.Shortcode, err)
	}
	post.MediaFingerprint = fingerprint
	metrics.IncMediaFetch("attached")
	metrics.MediaBytes.Add(float64(len(res.Data)))
	logging.Debug("media_attached", map[string]any{"shortcode": post.Shortcode, "filename": res.Filename, "bytes": len(res.Data)})
	return true, nil
}

func skipMedia(post *model.Post, reason string, fields map[string]any) {
	metrics.IncMediaFetch(reason)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["shortcode"] = post.Shortcode
	fields["reason"] = reason
	logging.Warn("media_sync_skipped", fields)
}
