package hecart

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestShop(t *testing.T, store Store, opts ...Option) *Shop {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewShop(store, testCatalog(t), testRegistry(t), opts...)
}

// initializedShop reuses the shared key set instead of generating one.
func initializedShop(t *testing.T) *Shop {
	t.Helper()
	ctx, km := testKeys(t)
	store := NewMemStore()
	require.NoError(t, Persist(ctx, km, store))
	shop := newTestShop(t, store)
	require.NoError(t, shop.LoadState())
	return shop
}

func login(t *testing.T, shop *Shop, client uint64) *Session {
	t.Helper()
	sess, err := shop.Login(client)
	require.NoError(t, err)
	return sess
}

func lines(t *testing.T, sess *Session) []CartLine {
	t.Helper()
	l, err := sess.Lines()
	require.NoError(t, err)
	return l
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestComputeTotal(t *testing.T) {
	shop := initializedShop(t)
	sess := login(t, shop, 1)
	require.NoError(t, sess.AddProduct(1, 2))
	require.NoError(t, sess.AddProduct(2, 1))

	total, err := sess.ComputeTotal(context.Background(), 1)
	require.NoError(t, err)
	assertAmount(t, "1980", total)
}

func TestCheckout(t *testing.T) {
	shop := initializedShop(t)
	sess := login(t, shop, 2)
	require.NoError(t, sess.AddLine(3, 1500, 2))
	require.NoError(t, sess.AddProduct(1, 1))
	assert.Equal(t, []CartLine{{1, 1000, 1}, {3, 1500, 2}}, lines(t, sess))

	order, err := sess.Checkout(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, order.Lines)
	assert.Equal(t, "Great", order.Coupon.Name)
	assert.Equal(t, uint64(2), order.Client.ID)
	assert.Equal(t, 2, order.Total.Depth())
	assert.True(t, order.Settled())
	assertAmount(t, "2000", order.Amount)

	sc, err := NewSettlementClient(sess.ctx, sess.km)
	require.NoError(t, err)
	_, err = order.Settle(sc)
	assert.ErrorIs(t, err, ErrOrderSettled)

	// lines survive checkout
	again, err := sess.ComputeTotal(context.Background(), 1)
	require.NoError(t, err)
	assertAmount(t, "3600", again)
}

func TestCheckoutCouponRange(t *testing.T) {
	shop := initializedShop(t)
	sess := login(t, shop, 1)
	require.NoError(t, sess.AddProduct(1, 1))
	for _, index := range []int{0, 2} {
		_, err := sess.ComputeTotal(context.Background(), index)
		assert.ErrorIs(t, err, ErrSelectionOutOfRange)
	}
}

func TestEmptyCart(t *testing.T) {
	shop := initializedShop(t)
	total, err := login(t, shop, 1).ComputeTotal(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestAddLineErrors(t *testing.T) {
	shop := initializedShop(t)
	sess := login(t, shop, 1)

	assert.ErrorIs(t, sess.AddProduct(99, 1), ErrUnknownProduct)
	assert.ErrorIs(t, sess.AddLine(99, 10, 1), ErrUnknownProduct)
	assert.ErrorIs(t, sess.AddProduct(1, 0), ErrInvalidLine)

	tm := shop.ctx.Params().PlaintextModulus
	assert.ErrorIs(t, sess.AddLine(1, tm, 1), ErrModulusOverflow)
	assert.ErrorIs(t, sess.AddLine(1, 1, tm), ErrModulusOverflow)
	// 1000 * 200 * ScaleFactor wraps the modulus
	assert.ErrorIs(t, sess.AddProduct(1, 200), ErrModulusOverflow)

	require.NoError(t, sess.AddProduct(1, 50))
	// together with the line above the cart would wrap
	assert.ErrorIs(t, sess.AddProduct(3, 50), ErrModulusOverflow)
	assert.Len(t, lines(t, sess), 1)

	// replacing a line is checked against the new quantity only
	require.NoError(t, sess.AddProduct(1, 10))
	assert.Equal(t, []CartLine{{1, 1000, 10}}, lines(t, sess))
}

func TestNotInitialized(t *testing.T) {
	shop := newTestShop(t, NewMemStore())
	_, err := shop.Login(1)
	assert.ErrorIs(t, err, ErrNotInitialized)

	err = shop.LoadState()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnknownClient(t *testing.T) {
	_, err := initializedShop(t).Login(42)
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestClearCart(t *testing.T) {
	shop := initializedShop(t)
	sess := login(t, shop, 1)
	require.NoError(t, sess.AddProduct(1, 2))
	require.NoError(t, sess.ClearCart())
	assert.Empty(t, lines(t, sess))

	for _, ns := range []string{LineNamespace("1"), LedgerNamespace("1")} {
		names, err := shop.store.List(ns)
		require.NoError(t, err)
		assert.Empty(t, names, ns)
	}

	total, err := sess.ComputeTotal(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestConcurrentClients(t *testing.T) {
	shop := initializedShop(t)
	carts := map[uint64][][2]uint64{
		1: {{1, 2}, {2, 1}},
		2: {{3, 3}},
	}
	want := map[uint64]string{1: "1980", 2: "4050"}

	var wg sync.WaitGroup
	for id, lines := range carts {
		id, lines := id, lines
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := shop.Login(id)
			if !assert.NoError(t, err) {
				return
			}
			for _, l := range lines {
				if !assert.NoError(t, sess.AddProduct(l[0], l[1])) {
					return
				}
			}
			total, err := sess.ComputeTotal(context.Background(), 1)
			if assert.NoError(t, err) {
				assert.True(t, decimal.RequireFromString(want[id]).Equal(total), "client %d: %s", id, total)
			}
		}()
	}
	wg.Wait()
}

// Separate command invocations share nothing but the state directory.
func TestStateAcrossShops(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shoppingMallData")
	opts := WithStateOptions(WithPassphrase([]byte("mall")))

	first := newTestShop(t, NewFileStore(dir), opts)
	require.NoError(t, first.Initialize(DefaultParams()))
	sess := login(t, first, 1)
	require.NoError(t, sess.AddProduct(1, 2))
	require.NoError(t, sess.AddProduct(2, 1))

	locked := newTestShop(t, NewFileStore(dir))
	assert.ErrorIs(t, locked.LoadState(), ErrMissingSecretKey)

	second := newTestShop(t, NewFileStore(dir), opts)
	require.NoError(t, second.LoadState())
	total, err := login(t, second, 1).ComputeTotal(context.Background(), 1)
	require.NoError(t, err)
	assertAmount(t, "1980", total)

	// a fresh key set orphans the old lines
	require.NoError(t, first.Initialize(DefaultParams()))
	_, err = login(t, first, 1).ComputeTotal(context.Background(), 1)
	assert.ErrorIs(t, err, ErrDeserialization)
}

func TestServerRole(t *testing.T) {
	ctx, km := testKeys(t)
	store := NewMemStore()
	eval := NewEvaluator(ctx, km)
	cs := NewCiphertextStore(store, ctx, km)
	putLine(t, eval, cs, "9", 1, 300, 3)
	require.NoError(t, EncryptDiscount(eval, cs, "9", Coupon{Name: "half", Rate: decimal.RequireFromString("0.5")}))

	server := NewServer(ctx, km, store, nil)
	lines, err := server.Total(context.Background(), "9", []uint64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 1, lines)

	total, err := cs.GetCiphertext(OrderNamespace("9"), totalName)
	require.NoError(t, err)
	assert.Equal(t, uint64(4500), decrypt(t, ctx, km, total))
}

// Every CLI invocation is a new session; the bound covers lines of all of them.
func TestCartAcrossSessions(t *testing.T) {
	shop := initializedShop(t)
	first := login(t, shop, 1)
	require.NoError(t, first.AddProduct(1, 60))

	second := login(t, shop, 1)
	assert.Equal(t, []CartLine{{1, 1000, 60}}, lines(t, second))
	// 60000 + 60000 scaled by ten wraps the modulus
	assert.ErrorIs(t, second.AddProduct(3, 40), ErrModulusOverflow)

	require.NoError(t, second.AddProduct(2, 5))
	total, err := login(t, shop, 1).ComputeTotal(context.Background(), 1)
	require.NoError(t, err)
	assertAmount(t, "54900", total)
}

// A racing writer can push the cart past the bound after AddLine checked
// it; checkout refuses to compute such a cart.
func TestCheckoutRechecksBound(t *testing.T) {
	shop := initializedShop(t)
	a := login(t, shop, 1)
	b := login(t, shop, 1)
	require.NoError(t, a.writeLine(CartLine{ProductID: 1, UnitPrice: 1000, Quantity: 60}))
	require.NoError(t, b.writeLine(CartLine{ProductID: 3, UnitPrice: 1500, Quantity: 40}))

	_, err := a.Checkout(context.Background(), 1)
	assert.ErrorIs(t, err, ErrModulusOverflow)
}

func TestCheckoutRejectsUnknownLines(t *testing.T) {
	shop := initializedShop(t)
	sess := login(t, shop, 1)
	require.NoError(t, sess.AddProduct(1, 2))

	// halves written without a ledger entry
	putLine(t, sess.eval, sess.store, "1", 2, 200, 1)
	_, err := sess.Checkout(context.Background(), 1)
	assert.ErrorIs(t, err, ErrInconsistentLine)

	// ledger entry of an older write of the same product
	require.NoError(t, sess.ClearCart())
	require.NoError(t, sess.AddProduct(1, 2))
	entries, err := sess.ledger.entries("1")
	require.NoError(t, err)
	require.NoError(t, sess.AddProduct(1, 3))
	require.NoError(t, sess.ledger.put("1", 1, entries[1]))
	_, err = sess.Checkout(context.Background(), 1)
	assert.ErrorIs(t, err, ErrInconsistentLine)
}

func TestLineHalvesShareID(t *testing.T) {
	shop := initializedShop(t)
	sess := login(t, shop, 1)
	require.NoError(t, sess.AddLine(3, 1400, 2))

	price, err := sess.store.GetCiphertext(LineNamespace("1"), LineName(3, FieldPrice))
	require.NoError(t, err)
	qty, err := sess.store.GetCiphertext(LineNamespace("1"), LineName(3, FieldQuantity))
	require.NoError(t, err)
	assert.Equal(t, price.line, qty.line)

	entries, err := sess.ledger.entries("1")
	require.NoError(t, err)
	assert.Equal(t, ledgerEntry{Line: price.line, Price: 1400, Quantity: 2}, entries[3])

	// a second write of the same product gets a new id
	require.NoError(t, sess.AddLine(3, 1400, 3))
	again, err := sess.store.GetCiphertext(LineNamespace("1"), LineName(3, FieldPrice))
	require.NoError(t, err)
	assert.NotEqual(t, price.line, again.line)
}

func TestLoginNeedsSecret(t *testing.T) {
	ctx, km := testKeys(t)
	store := NewMemStore()
	require.NoError(t, Persist(ctx, km.PublicOnly(), store, WithoutSecret()))
	shop := newTestShop(t, store, WithStateOptions(WithoutSecret()))
	require.NoError(t, shop.LoadState())
	_, err := shop.Login(1)
	assert.ErrorIs(t, err, ErrMissingSecretKey)
}

func TestLogFieldsUnique(t *testing.T) {
	ctx, km := testKeys(t)
	store := NewMemStore()
	require.NoError(t, Persist(ctx, km, store))
	core, logs := observer.New(zap.DebugLevel)
	shop := NewShop(store, testCatalog(t), testRegistry(t), WithLogger(zap.New(core)))
	require.NoError(t, shop.LoadState())

	sess := login(t, shop, 1)
	require.NoError(t, sess.AddProduct(1, 2))
	_, err := sess.ComputeTotal(context.Background(), 1)
	require.NoError(t, err)

	require.NotZero(t, logs.Len())
	for _, entry := range logs.All() {
		seen := make(map[string]bool)
		for _, f := range entry.Context {
			assert.False(t, seen[f.Key], "%q logs %q twice", entry.Message, f.Key)
			seen[f.Key] = true
		}
	}
}
