// Package gvsub contains the in-process broadcast primitive
// used to move events between the node's goroutines.
//
// The [Feed] type handles the single-writer, many-reader case:
// discovery sightings, connection changes, and delivered messages
// are all feeds that multiple consumers walk at their own pace.
package gvsub
