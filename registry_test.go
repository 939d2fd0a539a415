package hecart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(
		Product{ID: 3, Name: "Tomato", Price: 1500},
		Product{ID: 1, Name: "Onion", Price: 1000},
		Product{ID: 2, Name: "Eggs", Price: 200},
	)
	require.NoError(t, err)
	return c
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(Client{
		ID: 1, Name: "Tom", Address: "Seoul",
		Coupons: []Coupon{{Name: "Welcome", Rate: decimal.RequireFromString("0.1")}},
	}))
	require.NoError(t, r.Register(Client{
		ID: 2, Name: "James", Address: "Busan",
		Coupons: []Coupon{
			{Name: "Welcome", Rate: decimal.RequireFromString("0.1")},
			{Name: "Great", Rate: decimal.RequireFromString("0.5")},
		},
	}))
	return r
}

func TestCatalog(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, []uint64{1, 2, 3}, c.IDs())

	p, err := c.Lookup(2)
	require.NoError(t, err)
	assert.Equal(t, "Eggs", p.Name)
	assert.Equal(t, uint64(200), p.Price)

	_, err = c.Lookup(9)
	assert.ErrorIs(t, err, ErrUnknownProduct)

	assert.ErrorIs(t, c.Add(Product{ID: 1, Name: "Again"}), ErrDuplicate)

	products := c.Products()
	require.Len(t, products, 3)
	assert.Equal(t, "Onion", products[0].Name)
	assert.Equal(t, "Tomato", products[2].Name)

	_, err = NewCatalog(Product{ID: 1}, Product{ID: 1})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRegistry(t *testing.T) {
	r := testRegistry(t)

	c, err := r.Lookup(2)
	require.NoError(t, err)
	assert.Equal(t, "James", c.Name)
	assert.Equal(t, "2", c.Key())
	require.Len(t, c.Coupons, 2)

	// lookups hand out copies
	c.Coupons[0].Name = "changed"
	again, err := r.Lookup(2)
	require.NoError(t, err)
	assert.Equal(t, "Welcome", again.Coupons[0].Name)

	_, err = r.Lookup(42)
	assert.ErrorIs(t, err, ErrUnknownClient)

	assert.ErrorIs(t, r.Register(Client{ID: 1}), ErrDuplicate)
	assert.ErrorIs(t, r.Register(Client{ID: 5, Coupons: []Coupon{{Rate: decimal.NewFromInt(2)}}}), ErrInvalidCoupon)

	require.NoError(t, r.AddCoupon(1, Coupon{Name: "Spring", Rate: decimal.RequireFromString("0.2")}))
	c, err = r.Lookup(1)
	require.NoError(t, err)
	assert.Len(t, c.Coupons, 2)
	assert.ErrorIs(t, r.AddCoupon(42, Coupon{}), ErrUnknownClient)
	assert.ErrorIs(t, r.AddCoupon(1, Coupon{Rate: decimal.NewFromInt(-1)}), ErrInvalidCoupon)
}
