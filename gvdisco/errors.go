package gvdisco

import (
	"errors"
	"fmt"
)

// ErrEmptyBeaconID is returned by the beacon codec
// when a beacon has no peer ID.
var ErrEmptyBeaconID = errors.New("beacon has empty peer ID")

// ErrNoBeaconAddrs is returned by the beacon codec
// when a beacon carries no listen addresses.
var ErrNoBeaconAddrs = errors.New("beacon has no addresses")

// BeaconSizeError is returned by the beacon codec
// when an encoded beacon would exceed, or a received datagram exceeds,
// [MaxBeaconSize].
type BeaconSizeError struct {
	Size int
}

func (e BeaconSizeError) Error() string {
	return fmt.Sprintf(
		"beacon size %d exceeds limit %d",
		e.Size, MaxBeaconSize,
	)
}
