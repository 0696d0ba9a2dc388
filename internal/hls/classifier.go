package hls

// State is the liveness bucket a stream is classified into.
type State string

const (
	StateLive     State = "LIVE"
	StateStarting State = "STARTING"
	StateStale    State = "STALE"
	StateOffline  State = "OFFLINE"
	StateError    State = "ERROR"
)

// States lists every State in reporting order.
var States = []State{StateLive, StateStarting, StateStale, StateOffline, StateError}

// Reason is the diagnostic code attached to a classification.
type Reason string

const (
	ReasonOK                   Reason = "OK"
	ReasonManifestMissing      Reason = "MANIFEST_MISSING"
	ReasonManifestUnreadable   Reason = "MANIFEST_UNREADABLE"
	ReasonManifestNoSegments   Reason = "MANIFEST_NO_SEGMENTS"
	ReasonEndListPresent       Reason = "ENDLIST_PRESENT"
	ReasonInsufficientSegments Reason = "INSUFFICIENT_SEGMENTS"
	ReasonManifestStale        Reason = "MANIFEST_STALE"
	ReasonSegmentMissing       Reason = "SEGMENT_MISSING"
	ReasonSegmentEmpty         Reason = "SEGMENT_EMPTY"
)

type Thresholds struct {
	// StaleAfterSeconds is the manifest age above which a stream is STALE.
	StaleAfterSeconds int64
	MinLiveSegments   int
}

// Observation is the input to Classify.
type Observation struct {
	ManifestExists bool
	// ReadError is set when the manifest exists but could not be read.
	ReadError  error
	Snapshot   ManifestSnapshot
	AgeSeconds int64
}

type Verdict struct {
	State  State
	Reason Reason
}

func (v Verdict) Live() bool { return v.State == StateLive }

// Classify maps an observation to a verdict. Rules are evaluated in order and
// the first match wins.
func Classify(obs Observation, th Thresholds) Verdict {
	snap := obs.Snapshot
	switch {
	case !obs.ManifestExists:
		return Verdict{StateOffline, ReasonManifestMissing}
	case obs.ReadError != nil:
		return Verdict{StateError, ReasonManifestUnreadable}
	case snap.SegmentCount == 0:
		return Verdict{StateStarting, ReasonManifestNoSegments}
	case snap.EndOfStream:
		return Verdict{StateOffline, ReasonEndListPresent}
	case snap.SegmentCount < th.MinLiveSegments:
		return Verdict{StateStarting, ReasonInsufficientSegments}
	case obs.AgeSeconds > th.StaleAfterSeconds:
		return Verdict{StateStale, ReasonManifestStale}
	case snap.LatestSegmentLocal && !snap.LatestSegmentExists:
		return Verdict{StateStale, ReasonSegmentMissing}
	case snap.LatestSegmentLocal && snap.LatestSegmentSizeBytes == 0:
		return Verdict{StateStale, ReasonSegmentEmpty}
	default:
		return Verdict{StateLive, ReasonOK}
	}
}
