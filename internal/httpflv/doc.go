// Package httpflv serves a hub live source over plain HTTP as an FLV
// or MPEG-TS byte stream (spec §4.G). It is built entirely on
// net/http: the teacher has no HTTP front-end of its own, so this
// follows the plain net/http idiom the rest of the ecosystem examples
// use for nothing-fancy transport code rather than pulling in a router
// framework for its two routes (.flv and .ts).
package httpflv
