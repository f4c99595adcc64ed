package gvwire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/grapevine-net/grapevine/gvpeer"
)

// Size limits enforced on both the encode and decode paths.
const (
	// MaxOriginLen bounds the origin ID.
	// Hex SHA-256 IDs are 64 bytes; the extra room
	// allows other ID schemes without renegotiating the wire format.
	MaxOriginLen = 128

	// MaxTopicLen bounds the topic name.
	MaxTopicLen = 128

	// MaxPayloadSize bounds the application payload of a single envelope.
	MaxPayloadSize = 64 * 1024

	// MaxFrameSize is the largest encoded envelope a reader will accept.
	// It covers a maximal payload plus the header fields and CBOR overhead.
	MaxFrameSize = MaxPayloadSize + 512
)

var (
	ErrEmptyOrigin     = errors.New("envelope origin is empty")
	ErrOriginTooLong   = errors.New("envelope origin exceeds length limit")
	ErrEmptyTopic      = errors.New("envelope topic is empty")
	ErrTopicTooLong    = errors.New("envelope topic exceeds length limit")
	ErrPayloadTooLarge = errors.New("envelope payload exceeds size limit")
	ErrFrameTooLarge   = errors.New("encoded frame exceeds size limit")
)

// Envelope is the unit of gossip:
// an opaque payload stamped with its origin, per-origin sequence number,
// and the topic it belongs to.
//
// The (Origin, Seq) pair identifies an envelope uniquely across the network,
// and routers use it to discard duplicates arriving over different paths.
type Envelope struct {
	Origin gvpeer.ID `cbor:"1,keyasint"`

	// Seq starts at 1 for each origin and increases by one per publish.
	Seq uint64 `cbor:"2,keyasint"`

	Topic string `cbor:"3,keyasint"`

	Payload []byte `cbor:"4,keyasint,omitempty"`
}

// Validate reports whether the envelope respects the wire limits.
func (e Envelope) Validate() error {
	switch {
	case e.Origin == "":
		return ErrEmptyOrigin
	case len(e.Origin) > MaxOriginLen:
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrOriginTooLong, len(e.Origin), MaxOriginLen)
	case e.Topic == "":
		return ErrEmptyTopic
	case len(e.Topic) > MaxTopicLen:
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrTopicTooLong, len(e.Topic), MaxTopicLen)
	case len(e.Payload) > MaxPayloadSize:
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrPayloadTooLarge, len(e.Payload), MaxPayloadSize)
	}

	if e.Seq == 0 {
		return errors.New("envelope sequence must be positive")
	}

	return nil
}

// Marshal encodes the envelope, validating it first
// so that an oversized message fails at the publisher
// rather than being dropped by every receiver.
func Marshal(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to marshal invalid envelope: %w", err)
	}

	b, err := cbor.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a frame received from the network.
// Frames over MaxFrameSize are rejected before decoding,
// and decoded envelopes are validated against the same limits
// the encode path enforces.
func Unmarshal(data []byte) (Envelope, error) {
	if len(data) > MaxFrameSize {
		return Envelope{}, fmt.Errorf(
			"%w: %d bytes (limit %d)", ErrFrameTooLarge, len(data), MaxFrameSize,
		)
	}

	var e Envelope
	if err := cbor.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	if err := e.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("received invalid envelope: %w", err)
	}

	return e, nil
}
