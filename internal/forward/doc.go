// Package forward implements the outbound RTMP paths (spec §4.H): the
// Forwarder pushes a local publish to a set of configured downstream
// peers, and the Edge puller pulls from an upstream origin the first
// time a stream is played locally with no publisher. Both adapt the
// teacher's internal/rtmp/relay.Destination/RTMPClient contract and
// internal/rtmp/client.Client, adding the bounded exponential backoff
// the teacher's relay package left as unimplemented reconnect fields.
package forward
