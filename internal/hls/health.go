package hls

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/metrics"
)

const defaultCheckConcurrency = 8

// StreamHealth is the per-stream result served by the health API.
type StreamHealth struct {
	ID                     string  `json:"id"`
	Live                   bool    `json:"live"`
	ManifestExists         bool    `json:"manifestExists"`
	LastModifiedEpochMs    int64   `json:"lastModifiedEpochMs"`
	ManifestAgeSeconds     int64   `json:"manifestAgeSeconds"`
	State                  State   `json:"state"`
	Reason                 Reason  `json:"reason"`
	SegmentCount           int     `json:"segmentCount"`
	TargetDurationSeconds  float64 `json:"targetDurationSeconds"`
	EndList                bool    `json:"endList"`
	LatestSegmentExists    bool    `json:"latestSegmentExists"`
	LatestSegmentSizeBytes int64   `json:"latestSegmentSizeBytes"`
}

type MonitorConfig struct {
	Dir                  string
	LiveThresholdSeconds int
	MinLiveSegments      int
	// Concurrency bounds CheckAll. Zero means a small default.
	Concurrency int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Monitor evaluates stream health against an HLS output directory. It holds
// no per-stream state; every call re-reads the filesystem.
type Monitor struct {
	dir         string
	thresholds  Thresholds
	concurrency int

	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

func NewMonitor(cfg MonitorConfig) *Monitor {
	m := &Monitor{
		dir: cfg.Dir,
		thresholds: Thresholds{
			StaleAfterSeconds: int64(cfg.LiveThresholdSeconds),
			MinLiveSegments:   cfg.MinLiveSegments,
		},
		concurrency: cfg.Concurrency,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
		now:         cfg.Now,
	}
	if m.concurrency <= 0 {
		m.concurrency = defaultCheckConcurrency
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func (m *Monitor) Dir() string { return m.dir }

func (m *Monitor) Thresholds() Thresholds { return m.thresholds }

// Check reads and classifies one stream.
func (m *Monitor) Check(ctx context.Context, streamID string) StreamHealth {
	h := StreamHealth{ID: streamID, ManifestAgeSeconds: -1, LatestSegmentSizeBytes: -1}

	snap, err := ReadManifest(m.dir, streamID)
	switch {
	case errors.Is(err, ErrInvalidStreamID):
		m.log.WarnContext(ctx, "stream health check for invalid stream id", "stream_id", streamID)
		h.State, h.Reason = StateError, ReasonManifestUnreadable
		m.metrics.ObserveHealth(string(h.State), string(h.Reason))
		return h
	case errors.Is(err, ErrManifestNotFound):
		return m.finish(ctx, h, Observation{})
	}

	h.ManifestExists = true
	if !snap.ModTime.IsZero() {
		h.LastModifiedEpochMs = snap.ModTime.UnixMilli()
		h.ManifestAgeSeconds = ageSeconds(m.now(), snap.ModTime)
	}
	if err != nil {
		m.log.WarnContext(ctx, "stream manifest unreadable", "stream_id", streamID, "path", snap.Path, "err", err)
		return m.finish(ctx, h, Observation{ManifestExists: true, ReadError: err})
	}

	h.SegmentCount = snap.SegmentCount
	h.TargetDurationSeconds = snap.TargetDurationSeconds
	h.EndList = snap.EndOfStream
	h.LatestSegmentExists = snap.LatestSegmentExists
	h.LatestSegmentSizeBytes = snap.LatestSegmentSizeBytes

	return m.finish(ctx, h, Observation{
		ManifestExists: true,
		Snapshot:       snap,
		AgeSeconds:     h.ManifestAgeSeconds,
	})
}

func (m *Monitor) finish(ctx context.Context, h StreamHealth, obs Observation) StreamHealth {
	v := Classify(obs, m.thresholds)
	h.State, h.Reason, h.Live = v.State, v.Reason, v.Live()
	m.metrics.ObserveHealth(string(v.State), string(v.Reason))
	m.log.DebugContext(ctx, "stream health checked",
		"stream_id", h.ID,
		"state", string(v.State),
		"reason", string(v.Reason),
		"manifest_age_seconds", h.ManifestAgeSeconds,
	)
	return h
}

// CheckAll checks every stream concurrently and returns results in the order
// of ids. It fails only when ctx is done before all checks started.
func (m *Monitor) CheckAll(ctx context.Context, ids []string) ([]StreamHealth, error) {
	out := make([]StreamHealth, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, id := range ids {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = m.Check(gctx, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func ageSeconds(now, modTime time.Time) int64 {
	d := now.Sub(modTime)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
