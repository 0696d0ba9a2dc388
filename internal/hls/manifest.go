package hls

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/config"
)

const (
	ManifestExt = ".m3u8"

	tagTargetDuration = "#EXT-X-TARGETDURATION:"
	tagEndList        = "#EXT-X-ENDLIST"

	maxManifestLineBytes = 64 * 1024
)

var (
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidStreamID  = errors.New("invalid stream id")
)

// ManifestSnapshot is what one read of a stream's manifest shows.
type ManifestSnapshot struct {
	Path    string
	ModTime time.Time

	SegmentCount          int
	TargetDurationSeconds float64
	EndOfStream           bool

	// LatestSegment is the last segment reference in the manifest, verbatim.
	LatestSegment string
	// LatestSegmentLocal is false for absolute network locators, whose
	// existence and size are never probed.
	LatestSegmentLocal     bool
	LatestSegmentExists    bool
	LatestSegmentSizeBytes int64
}

// ManifestPath returns <baseDir>/<streamID>.m3u8.
func ManifestPath(baseDir, streamID string) (string, error) {
	if !config.IsValidStreamID(streamID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidStreamID, streamID)
	}
	return filepath.Join(baseDir, streamID+ManifestExt), nil
}

// ReadManifest reads and parses the manifest for streamID under baseDir and
// probes the latest local segment.
//
// A missing manifest, or anything at its path that is not a regular file,
// yields ErrManifestNotFound. Any other error means the
// manifest exists but could not be read; the returned snapshot still carries
// Path and, when known, ModTime.
func ReadManifest(baseDir, streamID string) (ManifestSnapshot, error) {
	path, err := ManifestPath(baseDir, streamID)
	if err != nil {
		return ManifestSnapshot{}, err
	}
	snap := ManifestSnapshot{Path: path, LatestSegmentSizeBytes: -1}

	// Stat before opening so a FIFO at the manifest path cannot block the open.
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snap, ErrManifestNotFound
		}
		return snap, fmt.Errorf("stat manifest: %w", err)
	}
	if !info.Mode().IsRegular() {
		return snap, ErrManifestNotFound
	}
	snap.ModTime = info.ModTime()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snap, ErrManifestNotFound
		}
		return snap, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	parsed, err := ParseManifest(f)
	if err != nil {
		return snap, fmt.Errorf("read manifest: %w", err)
	}
	parsed.Path = snap.Path
	parsed.ModTime = snap.ModTime
	probeLatestSegment(&parsed, filepath.Dir(path))
	return parsed, nil
}

// ParseManifest scans a playlist. It fills the segment count, target
// duration, end marker and latest segment reference; it does not touch the
// filesystem.
func ParseManifest(r io.Reader) (ManifestSnapshot, error) {
	snap := ManifestSnapshot{LatestSegmentSizeBytes: -1}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxManifestLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, tagTargetDuration):
			snap.TargetDurationSeconds = parseTargetDuration(line[len(tagTargetDuration):])
		case line == tagEndList:
			snap.EndOfStream = true
		case strings.HasPrefix(line, "#"):
		default:
			snap.SegmentCount++
			snap.LatestSegment = line
		}
	}
	if err := sc.Err(); err != nil {
		return ManifestSnapshot{}, err
	}
	return snap, nil
}

func parseTargetDuration(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func probeLatestSegment(snap *ManifestSnapshot, manifestDir string) {
	snap.LatestSegmentLocal = false
	snap.LatestSegmentExists = false
	snap.LatestSegmentSizeBytes = -1
	if snap.LatestSegment == "" {
		return
	}

	path, local := localSegmentPath(snap.LatestSegment, manifestDir)
	if !local {
		return
	}
	snap.LatestSegmentLocal = true

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	snap.LatestSegmentExists = true
	snap.LatestSegmentSizeBytes = info.Size()
}

// localSegmentPath resolves a segment reference against the manifest's
// directory. It reports false for absolute network locators such as
// https://cdn.example.com/seg.ts.
func localSegmentPath(ref, manifestDir string) (string, bool) {
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
		return "", false
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if ref == "" {
		return "", false
	}
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref), true
	}
	return filepath.Join(manifestDir, filepath.FromSlash(ref)), true
}
