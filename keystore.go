package hecart

import (
	"crypto/rand"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// argon2id cost, see RFC 9106 section 4 second recommendation
const (
	sealTime    = 3
	sealMemory  = 64 * 1024
	sealThreads = 4
	saltSize    = 16
)

type sealedBox struct {
	Salt  []byte `cbor:"1,keyasint"`
	Nonce []byte `cbor:"2,keyasint"`
	Box   []byte `cbor:"3,keyasint"`
}

func sealKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, sealTime, sealMemory, sealThreads, chacha20poly1305.KeySize)
}

// seal encrypts plaintext under a passphrase; ad is authenticated but not encrypted.
func seal(passphrase, plaintext, ad []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return sealWith(sealKey(passphrase, salt), salt, plaintext, ad)
}

func unseal(passphrase, data, ad []byte) ([]byte, error) {
	box, err := decodeBox(data)
	if err != nil {
		return nil, err
	}
	return openWith(sealKey(passphrase, box.Salt), box, ad)
}

// sealWith encrypts under a ready key. salt is stored as is and may be nil.
func sealWith(key, salt, plaintext, ad []byte) ([]byte, error) {
	box := sealedBox{Salt: salt, Nonce: make([]byte, chacha20poly1305.NonceSizeX)}
	if _, err := rand.Read(box.Nonce); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	box.Box = aead.Seal(nil, box.Nonce, plaintext, ad)
	return cbor.Marshal(box)
}

func decodeBox(data []byte) (*sealedBox, error) {
	box := new(sealedBox)
	if err := cbor.Unmarshal(data, box); err != nil {
		return nil, fmt.Errorf("%w: sealed box: %v", ErrDeserialization, err)
	}
	if len(box.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: sealed box nonce", ErrDeserialization)
	}
	return box, nil
}

func openWith(key []byte, box *sealedBox, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, box.Nonce, box.Box, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong key or tampered box", ErrDeserialization)
	}
	return plaintext, nil
}
