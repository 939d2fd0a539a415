package hecart

import (
	"fmt"

	"github.com/ldsec/lattigo/bfv"
	"github.com/shopspring/decimal"
)

// SettlementClient is the only holder of the secret key.
type SettlementClient struct {
	ctx   *Context
	sk    *bfv.SecretKey
	keyID KeyID
}

func NewSettlementClient(ctx *Context, km *KeyMaterial) (*SettlementClient, error) {
	if km.Secret == nil {
		return nil, ErrMissingSecretKey
	}
	return &SettlementClient{ctx: ctx, sk: km.Secret, keyID: km.ID()}, nil
}

// Decrypt returns the first slot of ct.
func (s *SettlementClient) Decrypt(ct *Ciphertext) (v uint64, err error) {
	switch {
	case ct == nil || ct.ct == nil:
		return 0, fmt.Errorf("%w: nil ciphertext", ErrDecryption)
	case ct.ctxID != s.ctx.id:
		return 0, fmt.Errorf("%w: context %s, expected %s", ErrDecryption, ct.ctxID, s.ctx.id)
	case ct.keyID != s.keyID:
		return 0, fmt.Errorf("%w: key %s, expected %s", ErrDecryption, ct.keyID, s.keyID)
	case ct.depth > s.ctx.params.Depth:
		return 0, fmt.Errorf("%w: %w", ErrDecryption, ErrDepthExceeded)
	}
	defer recoverAs(ErrDecryption, &err)
	decryptor := bfv.NewDecryptor(s.ctx.bfv, s.sk)
	pt := bfv.NewPlaintext(s.ctx.bfv)
	decryptor.Decrypt(ct.ct, pt)
	encoder := bfv.NewEncoder(s.ctx.bfv)
	return encoder.DecodeUint(pt)[0], nil
}

// Settle decrypts a discounted total and removes the discount scaling.
func (s *SettlementClient) Settle(total *Ciphertext) (decimal.Decimal, error) {
	v, err := s.Decrypt(total)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromInt(int64(v)).Div(scale), nil
}
