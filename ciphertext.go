package hecart

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/ldsec/lattigo/bfv"
)

// Ciphertext wraps a BFV ciphertext with the number of multiplications
// it has gone through, which the library does not track.
type Ciphertext struct {
	ct    *bfv.Ciphertext
	depth int
	ctxID ContextID
	keyID KeyID
	// line is set on stored cart-line halves only
	line uuid.UUID
}

func (c *Ciphertext) Depth() int {
	return c.depth
}

func (c *Ciphertext) ContextID() ContextID {
	return c.ctxID
}

func (c *Ciphertext) KeyID() KeyID {
	return c.keyID
}

func maxDepth(a, b *Ciphertext) int {
	if a.depth > b.depth {
		return a.depth
	}
	return b.depth
}

func unmarshalCiphertext(data []byte) (ct *bfv.Ciphertext, err error) {
	defer recoverAs(ErrDeserialization, &err)
	ct = new(bfv.Ciphertext)
	if err = ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrDeserialization, err)
	}
	return ct, nil
}

// Evaluator encrypts and computes on ciphertexts with public material only.
type Evaluator struct {
	ctx   *Context
	pk    *bfv.PublicKey
	rlk   *bfv.EvaluationKey
	keyID KeyID
}

func NewEvaluator(ctx *Context, km *KeyMaterial) *Evaluator {
	return &Evaluator{ctx: ctx, pk: km.Public, rlk: km.EvalMult, keyID: km.ID()}
}

func (e *Evaluator) Context() *Context {
	return e.ctx
}

// Encrypt places v in the first slot of a fresh ciphertext.
func (e *Evaluator) Encrypt(v uint64) (*Ciphertext, error) {
	if v >= e.ctx.params.PlaintextModulus {
		return nil, fmt.Errorf("%w: %d >= %d", ErrModulusOverflow, v, e.ctx.params.PlaintextModulus)
	}
	encoder := bfv.NewEncoder(e.ctx.bfv)
	pt := bfv.NewPlaintext(e.ctx.bfv)
	encoder.EncodeUint([]uint64{v}, pt)
	encryptor := bfv.NewEncryptorFromPk(e.ctx.bfv, e.pk)
	return &Ciphertext{
		ct:    encryptor.EncryptNew(pt),
		ctxID: e.ctx.id,
		keyID: e.keyID,
	}, nil
}

func (e *Evaluator) check(a, b *Ciphertext) error {
	if a == nil || b == nil {
		return fmt.Errorf("%w: nil ciphertext", ErrContextMismatch)
	}
	for _, c := range []*Ciphertext{a, b} {
		if c.ctxID != e.ctx.id || c.keyID != e.keyID {
			return fmt.Errorf("%w: context %s key %s", ErrContextMismatch, c.ctxID, c.keyID)
		}
	}
	return nil
}

func (e *Evaluator) Add(a, b *Ciphertext) (*Ciphertext, error) {
	if err := e.check(a, b); err != nil {
		return nil, err
	}
	evaluator := bfv.NewEvaluator(e.ctx.bfv)
	sum := evaluator.AddNew(a.ct, b.ct)
	return &Ciphertext{ct: sum, depth: maxDepth(a, b), ctxID: e.ctx.id, keyID: e.keyID}, nil
}

// Multiply refuses to go past the configured depth instead of letting the
// library return a ciphertext that no longer decrypts.
func (e *Evaluator) Multiply(a, b *Ciphertext) (*Ciphertext, error) {
	if e.rlk == nil {
		return nil, ErrMissingEvalKey
	}
	if err := e.check(a, b); err != nil {
		return nil, err
	}
	depth := maxDepth(a, b) + 1
	if depth > e.ctx.params.Depth {
		return nil, fmt.Errorf("%w: would reach %d, bound is %d", ErrDepthExceeded, depth, e.ctx.params.Depth)
	}
	evaluator := bfv.NewEvaluator(e.ctx.bfv)
	prod := evaluator.RelinearizeNew(evaluator.MulNew(a.ct, b.ct), e.rlk)
	return &Ciphertext{ct: prod, depth: depth, ctxID: e.ctx.id, keyID: e.keyID}, nil
}
