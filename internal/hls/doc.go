// Package hls segments a hub live source into MPEG-TS media segments
// plus a sliding-window M3U8 playlist (spec §4.E). It subscribes to
// internal/hub as an ordinary Consumer and writes segments atomically
// (temp file + rename) so a concurrent GET never observes a partial
// file.
package hls
