package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/hls"
)

type streamsResponse struct {
	Streams []config.Stream `json:"streams"`
}

type streamsHealthResponse struct {
	Streams              []hls.StreamHealth `json:"streams"`
	LiveThresholdSeconds int                `json:"liveThresholdSeconds"`
	RecommendedPollMs    int                `json:"recommendedPollMs"`
	GeneratedAtEpochMs   int64              `json:"generatedAtEpochMs"`
}

type systemHealthResponse struct {
	GeneratedAtEpochMs int64              `json:"generatedAtEpochMs"`
	HLSStorage         hls.StorageStatus  `json:"hlsStorage"`
	Streams            hls.Summary        `json:"streams"`
	StreamDetails      []hls.StreamHealth `json:"streamDetails"`
	Recommendations    []string           `json:"recommendations"`
}

type signalingStreamsResponse struct {
	// Streams maps stream id to the bound gateway session id.
	Streams  map[string]string `json:"streams"`
	Sessions int               `json:"sessions"`
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	streams := s.cfg.Streams
	if streams == nil {
		streams = []config.Stream{}
	}
	WriteJSON(w, http.StatusOK, streamsResponse{Streams: streams})
}

func (s *Server) handleStreamsHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "stream health not configured")
		return
	}
	results, err := s.deps.Monitor.CheckAll(r.Context(), config.StreamIDs(s.cfg.Streams))
	if err != nil {
		s.log.Debug("stream health check aborted", "err", err)
		writeError(w, http.StatusServiceUnavailable, "stream health check aborted")
		return
	}
	WriteJSON(w, http.StatusOK, streamsHealthResponse{
		Streams:              results,
		LiveThresholdSeconds: s.cfg.LiveThresholdSeconds,
		RecommendedPollMs:    s.cfg.RecommendedPollMs,
		GeneratedAtEpochMs:   s.now().UnixMilli(),
	})
}

func (s *Server) handleStreamHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "stream health not configured")
		return
	}
	streamID := chi.URLParam(r, "streamId")
	if !s.inCatalog(streamID) {
		writeError(w, http.StatusNotFound, "unknown stream")
		return
	}
	WriteJSON(w, http.StatusOK, s.deps.Monitor.Check(r.Context(), streamID))
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "stream health not configured")
		return
	}
	ids := config.StreamIDs(s.cfg.Streams)
	results, err := s.deps.Monitor.CheckAll(r.Context(), ids)
	if err != nil {
		s.log.Debug("system health check aborted", "err", err)
		writeError(w, http.StatusServiceUnavailable, "stream health check aborted")
		return
	}
	storage := s.deps.Monitor.Storage()
	summary := hls.Summarize(results)
	WriteJSON(w, http.StatusOK, systemHealthResponse{
		GeneratedAtEpochMs: s.now().UnixMilli(),
		HLSStorage:         storage,
		Streams:            summary,
		StreamDetails:      results,
		Recommendations:    hls.Recommendations(ids, summary, storage),
	})
}

func (s *Server) handleSignalingStreams(w http.ResponseWriter, r *http.Request) {
	if s.deps.Router == nil {
		writeError(w, http.StatusServiceUnavailable, "signaling not configured")
		return
	}
	WriteJSON(w, http.StatusOK, signalingStreamsResponse{
		Streams:  s.deps.Router.StreamBindings(),
		Sessions: s.deps.Router.Sessions(),
	})
}

func (s *Server) inCatalog(streamID string) bool {
	for _, st := range s.cfg.Streams {
		if st.ID == streamID {
			return true
		}
	}
	return false
}
