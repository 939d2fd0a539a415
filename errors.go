package hecart

import (
	"errors"
	"fmt"
)

var (
	ErrMissingStorage      = errors.New("hecart: storage missing")
	ErrDeserialization     = errors.New("hecart: deserialization failure")
	ErrSelectionOutOfRange = errors.New("hecart: coupon selection out of range")
	ErrUnknownClient       = errors.New("hecart: unknown client")
	ErrUnknownProduct      = errors.New("hecart: unknown product")
	ErrDecryption          = errors.New("hecart: decryption failed")
	ErrDepthExceeded       = errors.New("hecart: multiplicative depth exceeded")
	ErrNotFound            = errors.New("hecart: not found")
	ErrMissingEvalKey      = errors.New("hecart: evaluation-multiplication key not loaded")
	ErrMissingSecretKey    = errors.New("hecart: secret key not loaded")
	ErrContextMismatch     = errors.New("hecart: ciphertexts belong to different contexts or keys")
	ErrInvalidParams       = errors.New("hecart: invalid scheme parameters")
	ErrModulusOverflow     = errors.New("hecart: value exceeds plaintext modulus")
	ErrInvalidLine         = errors.New("hecart: invalid cart line")
	ErrInvalidCoupon       = errors.New("hecart: invalid coupon")
	ErrOrderSettled        = errors.New("hecart: order already settled")
	ErrDuplicate           = errors.New("hecart: duplicate registration")
	ErrNotInitialized      = errors.New("hecart: crypto state not initialized")
	ErrInconsistentLine    = errors.New("hecart: cart line halves or ledger disagree")
)

// LoadError reports which persisted artifact made Load fail.
type LoadError struct {
	Artifact string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("hecart: load %s: %v", e.Artifact, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// recoverAs converts a panic raised inside the lattigo library into target.
func recoverAs(target error, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", target, r)
	}
}
