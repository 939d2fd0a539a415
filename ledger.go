package hecart

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
)

// ledgerEntry is the plaintext of one cart line as its client wrote it.
type ledgerEntry struct {
	Line     uuid.UUID `cbor:"1,keyasint"`
	Price    uint64    `cbor:"2,keyasint"`
	Quantity uint64    `cbor:"3,keyasint"`
}

// ledger keeps every cart line of a client sealed in the store, so that any
// later session can bound the whole cart and not only what it added itself.
// The sealing key is derived from the secret key.
type ledger struct {
	store Store
	key   []byte
	keyID KeyID
}

func newLedger(store Store, km *KeyMaterial) (*ledger, error) {
	if km.Secret == nil {
		return nil, ErrMissingSecretKey
	}
	skData, err := km.Secret.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal secret key: %w", err)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	blake3.DeriveKey("hecart cart ledger v1", skData, key)
	return &ledger{store: store, key: key, keyID: km.ID()}, nil
}

// ad binds an entry to its key set and location.
func (l *ledger) ad(client, name string) []byte {
	ad := append([]byte(nil), l.keyID[:]...)
	return append(ad, LedgerNamespace(client)+"/"+name...)
}

func ledgerName(product uint64) string {
	return strconv.FormatUint(product, 10)
}

func (l *ledger) put(client string, product uint64, e ledgerEntry) error {
	data, err := cbor.Marshal(e)
	if err != nil {
		return err
	}
	name := ledgerName(product)
	box, err := sealWith(l.key, nil, data, l.ad(client, name))
	if err != nil {
		return fmt.Errorf("seal ledger entry: %w", err)
	}
	return l.store.Put(LedgerNamespace(client), name, box)
}

func (l *ledger) delete(client string, product uint64) error {
	return l.store.Delete(LedgerNamespace(client), ledgerName(product))
}

// entries reads the whole ledger of client by product id.
func (l *ledger) entries(client string) (map[uint64]ledgerEntry, error) {
	ns := LedgerNamespace(client)
	names, err := l.store.List(ns)
	if err != nil {
		return nil, err
	}
	entries := make(map[uint64]ledgerEntry, len(names))
	for _, name := range names {
		product, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: ledger entry %q", ErrDeserialization, name)
		}
		data, err := l.store.Get(ns, name)
		if errors.Is(err, ErrNotFound) {
			// cleared concurrently
			continue
		} else if err != nil {
			return nil, err
		}
		box, err := decodeBox(data)
		if err != nil {
			return nil, err
		}
		plain, err := openWith(l.key, box, l.ad(client, name))
		if err != nil {
			return nil, fmt.Errorf("ledger entry %s: %w", name, err)
		}
		var e ledgerEntry
		if err := cbor.Unmarshal(plain, &e); err != nil {
			return nil, fmt.Errorf("%w: ledger entry %s: %v", ErrDeserialization, name, err)
		}
		entries[product] = e
	}
	return entries, nil
}
