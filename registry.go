package hecart

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
)

type Product struct {
	ID    uint64
	Name  string
	Price uint64
}

// Catalog owns the products on sale.
type Catalog struct {
	mu       sync.RWMutex
	products map[uint64]Product
}

func NewCatalog(products ...Product) (*Catalog, error) {
	c := &Catalog{products: make(map[uint64]Product)}
	for _, p := range products {
		if err := c.Add(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) Add(p Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.products[p.ID]; ok {
		return fmt.Errorf("%w: product %d", ErrDuplicate, p.ID)
	}
	c.products[p.ID] = p
	return nil
}

func (c *Catalog) Lookup(id uint64) (Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %d", ErrUnknownProduct, id)
	}
	return p, nil
}

// IDs lists product ids in ascending order.
func (c *Catalog) IDs() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]uint64, 0, len(c.products))
	for id := range c.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Catalog) Products() []Product {
	ids := c.IDs()
	c.mu.RLock()
	defer c.mu.RUnlock()
	products := make([]Product, len(ids))
	for i, id := range ids {
		products[i] = c.products[id]
	}
	return products
}

type Client struct {
	ID      uint64
	Name    string
	Address string
	Coupons []Coupon
}

// Key names the client's namespace in the store. Ids are unique where names
// need not be.
func (c Client) Key() string {
	return strconv.FormatUint(c.ID, 10)
}

func (c Client) clone() Client {
	c.Coupons = append([]Coupon(nil), c.Coupons...)
	return c
}

// Registry owns client records; lookups hand out copies.
type Registry struct {
	mu      sync.RWMutex
	clients map[uint64]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[uint64]*Client)}
}

func (r *Registry) Register(c Client) error {
	for _, cp := range c.Coupons {
		if err := cp.Validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.ID]; ok {
		return fmt.Errorf("%w: client %d", ErrDuplicate, c.ID)
	}
	cc := c.clone()
	r.clients[c.ID] = &cc
	return nil
}

func (r *Registry) Lookup(id uint64) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return Client{}, fmt.Errorf("%w: %d", ErrUnknownClient, id)
	}
	return c.clone(), nil
}

// AddCoupon hands a coupon to a registered client.
func (r *Registry) AddCoupon(id uint64, coupon Coupon) error {
	if err := coupon.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownClient, id)
	}
	c.Coupons = append(c.Coupons, coupon)
	return nil
}
