package gvdisco

import (
	"encoding/json"
	"fmt"

	"github.com/grapevine-net/grapevine/gvpeer"
)

// MaxBeaconSize is the largest encoded beacon the codec will produce or accept.
// Beacons have to fit comfortably in a single datagram on any sane local network,
// so the cap is far below the typical 1500-byte MTU.
const MaxBeaconSize = 1200

// Beacon is the presence announcement a node multicasts to the discovery group.
type Beacon struct {
	// ID is the announcing node's peer ID.
	ID gvpeer.ID `json:"id"`

	// Addrs are the addresses the announcing node accepts connections on.
	Addrs []string `json:"addrs"`

	// Name is the human-readable node name, if the node has one.
	Name string `json:"name,omitempty"`
}

// Sighting is one received beacon from another node,
// reported to the channel in [Config.Sightings].
type Sighting struct {
	ID    gvpeer.ID
	Addrs []string
	Name  string
}

// EncodeBeacon serializes b for transmission.
// It returns an error if the beacon is invalid
// or would not fit in [MaxBeaconSize] bytes.
func EncodeBeacon(b Beacon) ([]byte, error) {
	if b.ID == "" {
		return nil, ErrEmptyBeaconID
	}
	if len(b.Addrs) == 0 {
		return nil, ErrNoBeaconAddrs
	}

	out, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal beacon: %w", err)
	}

	if len(out) > MaxBeaconSize {
		return nil, BeaconSizeError{Size: len(out)}
	}

	return out, nil
}

// DecodeBeacon parses a received datagram into a Beacon.
// Anything that is not a well-formed beacon from a live node is rejected:
// oversized datagrams, invalid JSON,
// and beacons missing an ID or addresses.
func DecodeBeacon(data []byte) (Beacon, error) {
	if len(data) > MaxBeaconSize {
		return Beacon{}, BeaconSizeError{Size: len(data)}
	}

	var b Beacon
	if err := json.Unmarshal(data, &b); err != nil {
		return Beacon{}, fmt.Errorf("failed to unmarshal beacon: %w", err)
	}

	if b.ID == "" {
		return Beacon{}, ErrEmptyBeaconID
	}
	if len(b.Addrs) == 0 {
		return Beacon{}, ErrNoBeaconAddrs
	}

	return b, nil
}
