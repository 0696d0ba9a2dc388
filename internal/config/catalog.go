package config

import (
	"fmt"
	"strings"
)

// Stream is one catalog entry: a stable stream id and its display name.
type Stream struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var defaultStreams = []Stream{{ID: "mystream", Name: "Main Entrance"}}

// ParseStreamCatalog parses "id:name;id2:name2". A missing or blank name
// falls back to the id. A repeated id keeps its first position and takes the
// last name. An empty catalog yields the default stream.
func ParseStreamCatalog(raw string) ([]Stream, error) {
	var out []Stream
	index := make(map[string]int)
	for _, entry := range strings.Split(raw, ";") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		id, name, _ := strings.Cut(entry, ":")
		id = strings.TrimSpace(id)
		name = strings.TrimSpace(name)
		if id == "" {
			continue
		}
		if !IsValidStreamID(id) {
			return nil, fmt.Errorf("invalid stream id %q (allowed: letters, digits, '-', '_')", id)
		}
		if name == "" {
			name = id
		}
		if i, ok := index[id]; ok {
			out[i].Name = name
			continue
		}
		index[id] = len(out)
		out = append(out, Stream{ID: id, Name: name})
	}
	if len(out) == 0 {
		return append([]Stream(nil), defaultStreams...), nil
	}
	return out, nil
}

// IsValidStreamID reports whether id is safe to use as a manifest file stem.
func IsValidStreamID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// StreamIDs returns the ids of streams in catalog order.
func StreamIDs(streams []Stream) []string {
	ids := make([]string, 0, len(streams))
	for _, s := range streams {
		ids = append(ids, s.ID)
	}
	return ids
}
