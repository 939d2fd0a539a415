package hecart

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config describes a deployment: where state lives, the scheme parameters
// and the products and clients it serves.
type Config struct {
	StateDir string          `yaml:"state_dir"`
	Params   *Params         `yaml:"params"`
	Products []ProductConfig `yaml:"products"`
	Clients  []ClientConfig  `yaml:"clients"`
}

type ProductConfig struct {
	ID    uint64 `yaml:"id"`
	Name  string `yaml:"name"`
	Price uint64 `yaml:"price"`
}

type ClientConfig struct {
	ID      uint64         `yaml:"id"`
	Name    string         `yaml:"name"`
	Address string         `yaml:"address"`
	Coupons []CouponConfig `yaml:"coupons"`
}

type CouponConfig struct {
	Name string `yaml:"name"`
	// Rate is kept as text so it parses exactly.
	Rate string `yaml:"rate"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "shoppingMallData"
	}
	return &cfg, nil
}

// SchemeParams falls back to DefaultParams.
func (c *Config) SchemeParams() Params {
	if c.Params == nil {
		return DefaultParams()
	}
	return *c.Params
}

func (c *Config) Catalog() (*Catalog, error) {
	products := make([]Product, len(c.Products))
	for i, p := range c.Products {
		products[i] = Product{ID: p.ID, Name: p.Name, Price: p.Price}
	}
	return NewCatalog(products...)
}

func (c *Config) Registry() (*Registry, error) {
	r := NewRegistry()
	for _, cc := range c.Clients {
		client := Client{ID: cc.ID, Name: cc.Name, Address: cc.Address}
		for _, cp := range cc.Coupons {
			rate, err := decimal.NewFromString(cp.Rate)
			if err != nil {
				return nil, fmt.Errorf("%w: %q rate %q", ErrInvalidCoupon, cp.Name, cp.Rate)
			}
			client.Coupons = append(client.Coupons, Coupon{Name: cp.Name, Rate: rate})
		}
		if err := r.Register(client); err != nil {
			return nil, err
		}
	}
	return r, nil
}
