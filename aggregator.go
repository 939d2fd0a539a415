package hecart

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Aggregator is the server-side role summing price×quantity over the
// encrypted cart lines it finds in the store.
type Aggregator struct {
	eval    *Evaluator
	store   *CiphertextStore
	logger  *zap.Logger
	Workers int
}

func NewAggregator(eval *Evaluator, store *CiphertextStore, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{eval: eval, store: store, logger: logger, Workers: DefaultWorkers}
}

// Aggregate returns the encrypted cart total of client over products and
// the number of lines found. A product whose price or quantity ciphertext
// is missing is not in the cart.
func (a *Aggregator) Aggregate(ctx context.Context, client string, products []uint64) (*Ciphertext, int, error) {
	total, err := a.eval.Encrypt(0)
	if err != nil {
		return nil, 0, err
	}
	lines, err := fetchLines(ctx, a.store, client, products, a.Workers)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch cart lines: %w", err)
	}

	found := 0
	for _, line := range lines {
		if !line.present() {
			continue
		}
		lineTotal, err := a.eval.Multiply(line.price, line.quantity)
		if err != nil {
			return nil, 0, fmt.Errorf("product %d: %w", line.product, err)
		}
		if total, err = a.eval.Add(total, lineTotal); err != nil {
			return nil, 0, fmt.Errorf("product %d: %w", line.product, err)
		}
		found++
	}
	a.logger.Debug("aggregated cart",
		zap.String("namespace", LineNamespace(client)),
		zap.Int("lines", found),
		zap.Int("depth", total.Depth()),
	)
	return total, found, nil
}
