package hecart

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"github.com/ldsec/lattigo/bfv"
	"github.com/zeebo/blake3"
)

// Params are the scheme parameters every party operating on the same
// ciphertexts must agree on.
type Params struct {
	// Preset indexes bfv.DefaultParams and fixes ring degree and ciphertext moduli.
	Preset uint64 `cbor:"1,keyasint" yaml:"preset"`
	// PlaintextModulus bounds every cleartext value and intermediate product.
	PlaintextModulus uint64 `cbor:"2,keyasint" yaml:"plaintext_modulus"`
	// Depth is the number of homomorphic multiplications a ciphertext may undergo.
	Depth int `cbor:"3,keyasint" yaml:"depth"`
}

// DefaultParams covers price×quantity followed by the discount factor.
func DefaultParams() Params {
	return Params{
		Preset:           uint64(bfv.PN13QP218),
		PlaintextModulus: 1032193,
		Depth:            2,
	}
}

func (p Params) Validate() error {
	if p.Preset >= uint64(len(bfv.DefaultParams)) {
		return fmt.Errorf("%w: unknown preset %d", ErrInvalidParams, p.Preset)
	}
	if p.Depth < 1 {
		return fmt.Errorf("%w: depth %d", ErrInvalidParams, p.Depth)
	}
	t := p.PlaintextModulus
	if t < 3 || !new(big.Int).SetUint64(t).ProbablyPrime(20) {
		return fmt.Errorf("%w: plaintext modulus %d is not prime", ErrInvalidParams, t)
	}
	// batching needs t = 1 mod 2N
	twoN := uint64(1) << (bfv.DefaultParams[p.Preset].LogN + 1)
	if (t-1)%twoN != 0 {
		return fmt.Errorf("%w: plaintext modulus %d is not 1 mod %d", ErrInvalidParams, t, twoN)
	}
	return nil
}

// ContextID fingerprints a parameter set.
type ContextID [32]byte

func (id ContextID) String() string {
	return hex.EncodeToString(id[:8])
}

// KeyID fingerprints a public key.
type KeyID [32]byte

func (id KeyID) String() string {
	return hex.EncodeToString(id[:8])
}

func fingerprint(domain string, data []byte) (out [32]byte) {
	h := blake3.New()
	h.Write([]byte(domain))
	h.Write(data)
	copy(out[:], h.Sum(nil))
	return
}

var canonical, _ = cbor.CanonicalEncOptions().EncMode()

// Context binds validated parameters to the lattigo parameter set built from them.
type Context struct {
	params Params
	bfv    *bfv.Parameters
	id     ContextID
}

func NewContext(p Params) (*Context, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	desc, err := canonical.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	// copy the preset, DefaultParams is shared
	bp := *bfv.DefaultParams[p.Preset]
	bp.T = p.PlaintextModulus
	return &Context{
		params: p,
		bfv:    &bp,
		id:     fingerprint("hecart/context", desc),
	}, nil
}

func (c *Context) Params() Params {
	return c.params
}

func (c *Context) ID() ContextID {
	return c.id
}

// Equal reports parameter equality.
func (c *Context) Equal(other *Context) bool {
	return other != nil && c.id == other.id
}
