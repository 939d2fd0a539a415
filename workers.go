package hecart

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent reads from the store.
const DefaultWorkers = 4

// encLine holds the two ciphertexts of one cart line; a nil half means the
// client never wrote it.
type encLine struct {
	product  uint64
	price    *Ciphertext
	quantity *Ciphertext
}

func (l encLine) present() bool {
	return l.price != nil && l.quantity != nil
}

func getOptional(store *CiphertextStore, namespace, name string) (*Ciphertext, error) {
	ct, err := store.GetCiphertext(namespace, name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return ct, err
}

// fetchLines reads the line ciphertexts of client for each product. Results
// keep the order of products.
func fetchLines(ctx context.Context, store *CiphertextStore, client string, products []uint64, workers int) ([]encLine, error) {
	if workers < 1 {
		workers = DefaultWorkers
	}
	lines := make([]encLine, len(products))
	ns := LineNamespace(client)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range products {
		i, id := i, id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			line := encLine{product: id}
			var err error
			if line.price, err = getOptional(store, ns, LineName(id, FieldPrice)); err != nil {
				return err
			}
			if line.quantity, err = getOptional(store, ns, LineName(id, FieldQuantity)); err != nil {
				return err
			}
			// halves of two racing writes
			if line.present() && line.price.line != line.quantity.line {
				return fmt.Errorf("%w: product %d", ErrInconsistentLine, id)
			}
			lines[i] = line
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lines, nil
}
