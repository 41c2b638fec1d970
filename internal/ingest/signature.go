package ingest

import (
	"strconv"
	"time"

	"mirrorsync/internal/model"
)

// changeSignature is compared before and after a reconciliation to tell
// updated posts from unchanged ones.
type changeSignature struct {
	Shortcode        string
	TakenAt          string
	Caption          string
	Permalink        string
	SourceMediaURL   string
	LikesCount       int
	CommentsCount    int
	MediaFingerprint string
	MediaID          string
	MediaType        string
	Deleted          bool
}

// analysisSignature holds the fields whose change requires re-analysis.
type analysisSignature struct {
	TakenAt          string
	Caption          string
	SourceMediaURL   string
	MediaFingerprint string
	MediaID          string
	MediaType        string
}

func changeSignatureOf(p *model.Post) changeSignature {
	return changeSignature{
		Shortcode:        p.Shortcode,
		TakenAt:          secondsKey(p.TakenAt),
		Caption:          p.Caption,
		Permalink:        p.Permalink,
		SourceMediaURL:   p.SourceMediaURL,
		LikesCount:       p.LikesCount,
		CommentsCount:    p.CommentsCount,
		MediaFingerprint: p.MediaFingerprint,
		MediaID:          p.Metadata.MediaID,
		MediaType:        p.Metadata.MediaType,
		Deleted:          p.Deleted(),
	}
}

func analysisSignatureOf(p *model.Post) analysisSignature {
	return analysisSignature{
		TakenAt:          secondsKey(p.TakenAt),
		Caption:          p.Caption,
		SourceMediaURL:   p.SourceMediaURL,
		MediaFingerprint: p.MediaFingerprint,
		MediaID:          p.Metadata.MediaID,
		MediaType:        p.Metadata.MediaType,
	}
}

// secondsKey compares timestamps at second precision so storage rounding
// does not show up as a change.
func secondsKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}
