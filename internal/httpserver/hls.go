package httpserver

import (
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/hls"
)

const (
	hlsPrefix           = "/hls/"
	playlistContentType = "application/vnd.apple.mpegurl"
)

// segmentNumberSuffix matches the "_<n>" a segmenter appends to the stream id.
var segmentNumberSuffix = regexp.MustCompile(`_\d+$`)

var segmentContentTypes = map[string]string{
	".ts":  "video/mp2t",
	".m4s": "video/iso.segment",
	".mp4": "video/mp4",
	".aac": "audio/aac",
	".vtt": "text/vtt",
}

// hlsAccessMiddleware authenticates /hls/ requests the way the signaling
// endpoint does and restricts them to catalog streams.
func (s *Server) hlsAccessMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v := s.deps.Verifier; v != nil {
				cred, err := auth.CredentialFromRequest(s.cfg.AuthMode, r)
				if err == nil {
					err = v.Verify(cred)
				}
				if err != nil {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
			}

			streamID := hlsStreamID(r.URL.Path)
			if streamID == "" || s.hlsAllowed(r.URL.Path, streamID) {
				next.ServeHTTP(w, r)
				return
			}
			s.log.Warn("denied hls access", "path", r.URL.Path, "stream_id", streamID, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusForbidden, "stream access denied")
		})
	}
}

func (s *Server) hlsAllowed(urlPath, streamID string) bool {
	if s.inCatalog(streamID) {
		return true
	}
	if _, ok := segmentContentTypes[strings.ToLower(path.Ext(urlPath))]; !ok {
		return false
	}
	base := segmentNumberSuffix.ReplaceAllString(streamID, "")
	return base != streamID && s.inCatalog(base)
}

// hlsStreamID derives the stream id from the file name: the last path element
// without its extension.
func hlsStreamID(urlPath string) string {
	rel, ok := strings.CutPrefix(urlPath, hlsPrefix)
	if !ok || strings.TrimSpace(rel) == "" {
		return ""
	}
	name := rel
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name
}

func (s *Server) handleHLSFile(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	ext := strings.ToLower(path.Ext(r.URL.Path))
	switch {
	case ext == hls.ManifestExt:
		w.Header().Set("Content-Type", playlistContentType)
		w.Header().Set("Cache-Control", "no-cache")
	case segmentContentTypes[ext] != "":
		w.Header().Set("Content-Type", segmentContentTypes[ext])
	}

	fs := http.StripPrefix(strings.TrimSuffix(hlsPrefix, "/"), http.FileServer(http.Dir(s.cfg.HLSPath)))
	fs.ServeHTTP(w, r)
}
