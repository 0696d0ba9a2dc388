package hls

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func TestParseManifest(t *testing.T) {
	t.Parallel()

	snap, err := ParseManifest(strings.NewReader(strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"  #EXT-X-TARGETDURATION:4  ",
		"#EXTINF:4.0,",
		"seg0.ts",
		"",
		"#EXTINF:4.0,",
		"  seg1.ts  ",
	}, "\n")))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if snap.SegmentCount != 2 {
		t.Fatalf("SegmentCount=%d, want 2", snap.SegmentCount)
	}
	if snap.TargetDurationSeconds != 4 {
		t.Fatalf("TargetDurationSeconds=%v, want 4", snap.TargetDurationSeconds)
	}
	if snap.LatestSegment != "seg1.ts" {
		t.Fatalf("LatestSegment=%q, want seg1.ts", snap.LatestSegment)
	}
	if snap.EndOfStream {
		t.Fatalf("EndOfStream=true, want false")
	}
}

func TestParseManifest_TargetDuration(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]float64{
		"6":     6,
		"2.5":   2.5,
		"-3":    0,
		"NaN":   0,
		"+Inf":  0,
		"fast":  0,
		"":      0,
		" 10 ":  10,
		"1e308": 1e308,
	} {
		snap, err := ParseManifest(strings.NewReader("#EXT-X-TARGETDURATION:" + raw + "\n"))
		if err != nil {
			t.Fatalf("ParseManifest(%q): %v", raw, err)
		}
		if snap.TargetDurationSeconds != want {
			t.Fatalf("TargetDurationSeconds(%q)=%v, want %v", raw, snap.TargetDurationSeconds, want)
		}
	}
}

func TestParseManifest_EndList(t *testing.T) {
	t.Parallel()

	snap, err := ParseManifest(strings.NewReader("#EXTM3U\n#EXT-X-ENDLIST\n"))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if !snap.EndOfStream || snap.SegmentCount != 0 {
		t.Fatalf("snap=%+v, want end of stream with no segments", snap)
	}
}

func TestReadManifest_Missing(t *testing.T) {
	t.Parallel()

	_, err := ReadManifest(t.TempDir(), "cam")
	if !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("err=%v, want ErrManifestNotFound", err)
	}
}

func TestReadManifest_RejectsTraversal(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"../cam", "a/b", "", "cam.m3u8"} {
		if _, err := ReadManifest(t.TempDir(), id); !errors.Is(err, ErrInvalidStreamID) {
			t.Fatalf("ReadManifest(%q) err=%v, want ErrInvalidStreamID", id, err)
		}
	}
}

func TestReadManifest_ProbesLocalSegment(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cam.m3u8"), "#EXTM3U\n#EXTINF:2,\ncam_0.ts\n#EXTINF:2,\ncam_1.ts?v=3#frag\n")
	writeFile(t, filepath.Join(dir, "cam_1.ts"), "0123456789")

	snap, err := ReadManifest(dir, "cam")
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if snap.Path != filepath.Join(dir, "cam.m3u8") {
		t.Fatalf("Path=%q", snap.Path)
	}
	if snap.ModTime.IsZero() {
		t.Fatalf("ModTime is zero")
	}
	if !snap.LatestSegmentLocal || !snap.LatestSegmentExists {
		t.Fatalf("latest segment local=%v exists=%v, want true/true", snap.LatestSegmentLocal, snap.LatestSegmentExists)
	}
	if snap.LatestSegmentSizeBytes != 10 {
		t.Fatalf("LatestSegmentSizeBytes=%d, want 10", snap.LatestSegmentSizeBytes)
	}
}

func TestReadManifest_SegmentInSubdirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "cam"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "cam.m3u8"), "#EXTINF:2,\ncam/seg.ts\n")
	writeFile(t, filepath.Join(dir, "cam", "seg.ts"), "")

	snap, err := ReadManifest(dir, "cam")
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if !snap.LatestSegmentExists || snap.LatestSegmentSizeBytes != 0 {
		t.Fatalf("exists=%v size=%d, want true/0", snap.LatestSegmentExists, snap.LatestSegmentSizeBytes)
	}
}

func TestReadManifest_MissingSegment(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cam.m3u8"), "#EXTINF:2,\ngone.ts\n")

	snap, err := ReadManifest(dir, "cam")
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if !snap.LatestSegmentLocal || snap.LatestSegmentExists || snap.LatestSegmentSizeBytes != -1 {
		t.Fatalf("snap=%+v, want local missing segment with size -1", snap)
	}
}

func TestReadManifest_RemoteSegmentIsNotProbed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cam.m3u8"), "#EXTINF:2,\nhttps://cdn.example.com/cam/seg.ts\n")

	snap, err := ReadManifest(dir, "cam")
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if snap.LatestSegmentLocal || snap.LatestSegmentExists || snap.LatestSegmentSizeBytes != -1 {
		t.Fatalf("snap=%+v, want non-local segment with size -1", snap)
	}
}

func TestReadManifest_DirectoryCountsAsMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "cam.m3u8"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	_, err := ReadManifest(dir, "cam")
	if !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("err=%v, want ErrManifestNotFound", err)
	}
}

func TestReadManifest_OverlongLineIsUnreadable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cam.m3u8"), "#EXTM3U\n"+strings.Repeat("a", maxManifestLineBytes+1)+"\n")
	snap, err := ReadManifest(dir, "cam")
	if err == nil || errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("err=%v, want read error", err)
	}
	if snap.ModTime.IsZero() {
		t.Fatalf("ModTime not set on unreadable manifest")
	}
}
