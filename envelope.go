package hecart

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// EnvelopeVersion is bumped whenever the envelope schema changes.
const EnvelopeVersion = 1

// Kind tags what an envelope payload holds.
type Kind uint8

const (
	KindContext Kind = iota + 1
	KindPublicKey
	KindSecretKey
	KindSealedSecretKey
	KindEvalMultKey
	KindCiphertext
)

var kindNames = [...]string{"invalid", "context", "public-key", "secret-key", "sealed-secret-key", "eval-mult-key", "ciphertext"}

func (k Kind) String() string {
	if int(k) >= len(kindNames) {
		return kindNames[0]
	}
	return kindNames[k]
}

// Envelope is the unit exchanged between the client and server roles.
type Envelope struct {
	Version   uint16    `cbor:"1,keyasint"`
	Kind      Kind      `cbor:"2,keyasint"`
	ContextID ContextID `cbor:"3,keyasint"`
	KeyID     KeyID     `cbor:"4,keyasint"`
	Namespace string    `cbor:"5,keyasint"`
	Name      string    `cbor:"6,keyasint"`
	Depth     int       `cbor:"7,keyasint,omitempty"`
	Payload   []byte    `cbor:"8,keyasint"`
	// Line ties the price and quantity halves of one cart-line write together.
	Line uuid.UUID `cbor:"9,keyasint"`
}

// envelope drops the methods so cbor does not recurse into them.
type envelope Envelope

// MarshalBinary stamps EnvelopeVersion when Version is unset.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	raw := envelope(*e)
	if raw.Version == 0 {
		raw.Version = EnvelopeVersion
	}
	return cbor.Marshal(&raw)
}

func (e *Envelope) UnmarshalBinary(data []byte) error {
	var raw envelope
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: envelope: %v", ErrDeserialization, err)
	}
	if raw.Version != EnvelopeVersion {
		return fmt.Errorf("%w: envelope version %d", ErrDeserialization, raw.Version)
	}
	*e = Envelope(raw)
	return nil
}

// decodeEnvelope reads data and checks it carries the expected kind.
func decodeEnvelope(data []byte, kind Kind) (*Envelope, error) {
	env := new(Envelope)
	if err := env.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if env.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrDeserialization, kind, env.Kind)
	}
	return env, nil
}
