// Package dash segments a hub live source into fMP4 init/media
// segments plus a dynamic MPD manifest (spec §4.F). It subscribes to
// internal/hub as an ordinary Consumer, writes media via
// internal/wire/fmp4, and renders the manifest with encoding/xml.
package dash
