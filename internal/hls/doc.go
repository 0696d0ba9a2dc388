// Package hls reports whether camera streams published as HLS playlists are
// actually live.
//
// The relay never decodes media. A stream's health is inferred from its
// manifest on disk (<dir>/<streamID>.m3u8): how recently it changed, how many
// segments it lists, whether it has ended, and whether the newest segment
// exists with a non-zero size.
package hls
