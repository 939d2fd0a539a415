package hecart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchLines(t *testing.T) {
	ctx, km := testKeys(t)
	eval := NewEvaluator(ctx, km)
	cs := NewCiphertextStore(NewMemStore(), ctx, km)
	putLine(t, eval, cs, "5", 2, 200, 1)
	putLine(t, eval, cs, "5", 4, 0, 3)

	products := []uint64{4, 3, 2, 1}
	for _, workers := range []int{0, 1, 2, 16} {
		lines, err := fetchLines(context.Background(), cs, "5", products, workers)
		require.NoError(t, err)
		require.Len(t, lines, len(products))
		for i, line := range lines {
			assert.Equal(t, products[i], line.product)
		}

		assert.False(t, lines[0].present())
		assert.Nil(t, lines[0].price)
		assert.NotNil(t, lines[0].quantity)
		assert.False(t, lines[1].present())
		assert.True(t, lines[2].present())
		assert.Equal(t, uint64(200), decrypt(t, ctx, km, lines[2].price))
		assert.False(t, lines[3].present())
	}
}

func TestFetchLinesNoProducts(t *testing.T) {
	ctx, km := testKeys(t)
	lines, err := fetchLines(context.Background(), NewCiphertextStore(NewMemStore(), ctx, km), "5", nil, 2)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestGetOptional(t *testing.T) {
	ctx, km := testKeys(t)
	cs := NewCiphertextStore(NewFileStore(t.TempDir()), ctx, km)

	// an absent state directory is not an empty cart
	missing := NewCiphertextStore(NewFileStore(t.TempDir()+"/absent"), ctx, km)
	_, err := getOptional(missing, "cart/1", "1.price")
	assert.ErrorIs(t, err, ErrMissingStorage)

	require.NoError(t, cs.Put("cart/1", "other", []byte{0}))
	ct, err := getOptional(cs, "cart/1", "1.price")
	require.NoError(t, err)
	assert.Nil(t, ct)
}

func TestFetchLinesTornLine(t *testing.T) {
	ctx, km := testKeys(t)
	eval := NewEvaluator(ctx, km)
	cs := NewCiphertextStore(NewMemStore(), ctx, km)

	// price of one write, quantity of another
	price, qty := encrypt(t, eval, 100), encrypt(t, eval, 2)
	price.line, qty.line = uuid.New(), uuid.New()
	require.NoError(t, cs.PutCiphertext(LineNamespace("5"), LineName(1, FieldPrice), price))
	require.NoError(t, cs.PutCiphertext(LineNamespace("5"), LineName(1, FieldQuantity), qty))

	_, err := fetchLines(context.Background(), cs, "5", []uint64{1}, 2)
	assert.ErrorIs(t, err, ErrInconsistentLine)

	_, _, err = NewAggregator(eval, cs, nil).Aggregate(context.Background(), "5", []uint64{1})
	assert.ErrorIs(t, err, ErrInconsistentLine)

	qty.line = price.line
	require.NoError(t, cs.PutCiphertext(LineNamespace("5"), LineName(1, FieldQuantity), qty))
	lines, err := fetchLines(context.Background(), cs, "5", []uint64{1}, 2)
	require.NoError(t, err)
	assert.True(t, lines[0].present())
}
