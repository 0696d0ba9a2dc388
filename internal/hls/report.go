package hls

import (
	"os"
	"path/filepath"
	"strings"
)

// StorageStatus describes the HLS output directory as the relay process sees
// it.
type StorageStatus struct {
	Path          string `json:"path"`
	Exists        bool   `json:"exists"`
	Readable      bool   `json:"readable"`
	Writable      bool   `json:"writable"`
	ManifestCount int64  `json:"manifestCount"`
	SegmentCount  int64  `json:"segmentCount"`
}

// Storage inspects the monitor's directory. Files are only counted when the
// path is a readable directory.
func (m *Monitor) Storage() StorageStatus {
	return inspectStorage(m.dir)
}

func inspectStorage(dir string) StorageStatus {
	path, err := filepath.Abs(dir)
	if err != nil {
		path = filepath.Clean(dir)
	}
	st := StorageStatus{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		return st
	}
	st.Exists = true
	st.Readable = canRead(path)
	st.Writable = canWrite(path)
	if !info.IsDir() || !st.Readable {
		return st
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return st
	}
	for _, e := range entries {
		name := strings.ToLower(e.Name())
		switch {
		case strings.HasSuffix(name, ManifestExt):
			st.ManifestCount++
		case strings.HasSuffix(name, ".ts"), strings.HasSuffix(name, ".m4s"):
			st.SegmentCount++
		}
	}
	return st
}

// Summary counts results per state and per reason.
type Summary struct {
	Total    int            `json:"total"`
	Live     int            `json:"live"`
	Starting int            `json:"starting"`
	Stale    int            `json:"stale"`
	Offline  int            `json:"offline"`
	Error    int            `json:"error"`
	Reasons  map[Reason]int `json:"reasons"`
}

func Summarize(results []StreamHealth) Summary {
	s := Summary{Total: len(results), Reasons: make(map[Reason]int)}
	for _, h := range results {
		switch h.State {
		case StateLive:
			s.Live++
		case StateStarting:
			s.Starting++
		case StateStale:
			s.Stale++
		case StateOffline:
			s.Offline++
		case StateError:
			s.Error++
		}
		s.Reasons[h.Reason]++
	}
	return s
}

const (
	RecommendHLSDirMissing      = "HLS directory is missing. Create it and verify the HLS_PATH configuration."
	RecommendHLSDirNotReadable  = "HLS directory is not readable. Check filesystem permissions."
	RecommendHLSDirNotWritable  = "HLS directory is not writable. Converter cannot publish segments."
	RecommendEmptyCatalog       = "No streams are configured. Verify the STREAM_CATALOG setting."
	RecommendAllHealthy         = "All configured streams are healthy."
	RecommendManifestStale      = "Manifest is stale. Check camera connectivity and restart converter if needed."
	RecommendSegmentsBroken     = "Segment files are broken or missing. Restart converter and inspect ffmpeg logs."
	RecommendManifestUnreadable = "Relay cannot read manifests. Check HLS_PATH and directory ownership."
	RecommendCheckInProgress    = "Stream check in progress. Wait a few seconds and refresh health."

	defaultConverterStreamID = "mystream"
)

// RecommendManifestMissing is the converter hint for streamID.
func RecommendManifestMissing(streamID string) string {
	return "Manifest missing. Start converter: MJPEG_URL=http://<device-ip>:81/stream STREAM_ID=" + streamID + " ./scripts/mjpeg_to_hls.sh"
}

// Recommendations renders operator hints for the current state. Hints appear
// at most once, in a fixed order.
func Recommendations(streamIDs []string, summary Summary, storage StorageStatus) []string {
	var out []string
	add := func(s string) {
		for _, existing := range out {
			if existing == s {
				return
			}
		}
		out = append(out, s)
	}

	if !storage.Exists {
		add(RecommendHLSDirMissing)
	}
	if !storage.Readable {
		add(RecommendHLSDirNotReadable)
	}
	if !storage.Writable {
		add(RecommendHLSDirNotWritable)
	}
	if len(streamIDs) == 0 {
		add(RecommendEmptyCatalog)
	}

	if summary.Total > 0 && summary.Live == summary.Total {
		add(RecommendAllHealthy)
		return out
	}

	if summary.Reasons[ReasonManifestMissing] > 0 {
		id := defaultConverterStreamID
		if len(streamIDs) > 0 {
			id = streamIDs[0]
		}
		add(RecommendManifestMissing(id))
	}
	if summary.Reasons[ReasonManifestStale] > 0 {
		add(RecommendManifestStale)
	}
	if summary.Reasons[ReasonSegmentMissing] > 0 || summary.Reasons[ReasonSegmentEmpty] > 0 {
		add(RecommendSegmentsBroken)
	}
	if summary.Reasons[ReasonManifestUnreadable] > 0 {
		add(RecommendManifestUnreadable)
	}

	if len(out) == 0 {
		add(RecommendCheckInProgress)
	}
	return out
}
