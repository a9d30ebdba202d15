// Package hub implements the live source hub (spec §4.D): per-stream
// publish/subscribe fan-out with a keyframe-aware GOP cache, sequence
// header replay, at-most-one-publisher enforcement, and absolute
// timestamp correction (ATC). It generalizes the teacher's
// internal/rtmp/server.Registry into the full LiveSource/Consumer model,
// and is the component every protocol front-end (RTMP play/publish,
// HLS, DASH, HTTP-FLV, Forward/Edge) is built against instead of wiring
// directly into one another.
package hub
