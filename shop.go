package hecart

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Server is the aggregation party. It only ever holds public material.
type Server struct {
	store    *CiphertextStore
	agg      *Aggregator
	discount *DiscountApplier
	logger   *zap.Logger
}

func NewServer(ctx *Context, km *KeyMaterial, store Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	pub := km.PublicOnly()
	eval := NewEvaluator(ctx, pub)
	cs := NewCiphertextStore(store, ctx, pub)
	return &Server{
		store:    cs,
		agg:      NewAggregator(eval, cs, logger),
		discount: NewDiscountApplier(eval, cs, logger),
		logger:   logger,
	}
}

// Total aggregates the cart of client, applies the discount the client
// left and stores the encrypted result as the total artifact.
func (s *Server) Total(ctx context.Context, client string, products []uint64) (int, error) {
	total, lines, err := s.agg.Aggregate(ctx, client, products)
	if err != nil {
		return 0, err
	}
	if total, err = s.discount.Apply(client, total); err != nil {
		return 0, err
	}
	if err := s.store.PutCiphertext(OrderNamespace(client), totalName, total); err != nil {
		return 0, fmt.Errorf("store total: %w", err)
	}
	return lines, nil
}

// Shop wires the roles together for a single deployment.
type Shop struct {
	store     Store
	catalog   *Catalog
	clients   *Registry
	logger    *zap.Logger
	stateOpts []StateOption

	mu  sync.RWMutex
	ctx *Context
	km  *KeyMaterial
}

type Option func(*Shop)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Shop) {
		s.logger = logger
	}
}

// WithStateOptions is passed on to Persist and Load.
func WithStateOptions(opts ...StateOption) Option {
	return func(s *Shop) {
		s.stateOpts = append(s.stateOpts, opts...)
	}
}

func NewShop(store Store, catalog *Catalog, clients *Registry, opts ...Option) *Shop {
	s := &Shop{store: store, catalog: catalog, clients: clients, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize generates fresh crypto state and persists it.
func (s *Shop) Initialize(params Params) error {
	ctx, km, err := Initialize(params)
	if err != nil {
		return err
	}
	if err := Persist(ctx, km, s.store, s.stateOpts...); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	s.mu.Lock()
	s.ctx, s.km = ctx, km
	s.mu.Unlock()
	s.logger.Info("initialized crypto state",
		zap.Stringer("context", ctx.ID()),
		zap.Stringer("key", km.ID()),
	)
	return nil
}

func (s *Shop) LoadState() error {
	ctx, km, err := Load(s.store, s.stateOpts...)
	if err != nil {
		s.logger.Error("failed to load state", zap.Error(err))
		return err
	}
	s.mu.Lock()
	s.ctx, s.km = ctx, km
	s.mu.Unlock()
	s.logger.Info("loaded crypto state",
		zap.Stringer("context", ctx.ID()),
		zap.Stringer("key", km.ID()),
	)
	return nil
}

func (s *Shop) state() (*Context, *KeyMaterial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctx == nil || s.km == nil {
		return nil, nil, ErrNotInitialized
	}
	return s.ctx, s.km, nil
}

func (s *Shop) Catalog() *Catalog {
	return s.catalog
}

// Login opens a session for a registered client. A session is the client
// role and needs the secret key.
func (s *Shop) Login(clientID uint64) (*Session, error) {
	ctx, km, err := s.state()
	if err != nil {
		return nil, err
	}
	client, err := s.clients.Lookup(clientID)
	if err != nil {
		return nil, err
	}
	ledger, err := newLedger(s.store, km)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	sess := &Session{
		ID:     id,
		shop:   s,
		client: client,
		ctx:    ctx,
		km:     km,
		eval:   NewEvaluator(ctx, km),
		store:  NewCiphertextStore(s.store, ctx, km),
		ledger: ledger,
		logger: s.logger.With(zap.Stringer("session", id), zap.Uint64("client", client.ID)),
	}
	sess.logger.Info("client logged in", zap.String("name", client.Name))
	return sess, nil
}

// CartLine only exists in plaintext on the client side.
type CartLine struct {
	ProductID uint64
	UnitPrice uint64
	Quantity  uint64
}

// Session is the client role acting for one logged-in client.
type Session struct {
	ID     uuid.UUID
	shop   *Shop
	client Client
	ctx    *Context
	km     *KeyMaterial
	eval   *Evaluator
	store  *CiphertextStore
	ledger *ledger
	logger *zap.Logger
}

func (s *Session) Client() Client {
	return s.client.clone()
}

func (s *Session) Coupons() []Coupon {
	return append([]Coupon(nil), s.client.Coupons...)
}

func (s *Session) cartLines() (map[uint64]CartLine, error) {
	entries, err := s.ledger.entries(s.client.Key())
	if err != nil {
		return nil, err
	}
	lines := make(map[uint64]CartLine, len(entries))
	for id, e := range entries {
		lines[id] = CartLine{ProductID: id, UnitPrice: e.Price, Quantity: e.Quantity}
	}
	return lines, nil
}

// Lines lists the client's cart by product id, including lines written by
// earlier sessions.
func (s *Session) Lines() ([]CartLine, error) {
	byID, err := s.cartLines()
	if err != nil {
		return nil, err
	}
	lines := make([]CartLine, 0, len(byID))
	for _, l := range byID {
		lines = append(lines, l)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

// bound is the largest scaled total the lines would produce.
func bound(lines map[uint64]CartLine) uint64 {
	var sum uint64
	for _, l := range lines {
		sum += l.UnitPrice * l.Quantity
	}
	return sum * ScaleFactor
}

func (s *Session) checkBound(lines map[uint64]CartLine) error {
	if b, t := bound(lines), s.ctx.params.PlaintextModulus; b >= t {
		return fmt.Errorf("%w: scaled cart total %d >= %d", ErrModulusOverflow, b, t)
	}
	return nil
}

// AddLine encrypts price and quantity and writes them to the store. Adding
// a product again replaces its line.
func (s *Session) AddLine(productID, unitPrice, quantity uint64) error {
	if _, err := s.shop.catalog.Lookup(productID); err != nil {
		return err
	}
	if quantity == 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidLine)
	}
	t := s.ctx.params.PlaintextModulus
	if unitPrice >= t || quantity >= t {
		return fmt.Errorf("%w: price %d quantity %d", ErrModulusOverflow, unitPrice, quantity)
	}

	// the server cannot notice a wrapped total, so refuse it here
	lines, err := s.cartLines()
	if err != nil {
		return err
	}
	line := CartLine{ProductID: productID, UnitPrice: unitPrice, Quantity: quantity}
	lines[productID] = line
	if err := s.checkBound(lines); err != nil {
		return err
	}
	if err := s.writeLine(line); err != nil {
		return err
	}
	s.logger.Info("added to cart", zap.Uint64("product", productID), zap.Uint64("quantity", quantity))
	return nil
}

// writeLine stores both halves and the ledger entry under one line id.
func (s *Session) writeLine(line CartLine) error {
	id := uuid.New()
	price, err := s.eval.Encrypt(line.UnitPrice)
	if err != nil {
		return err
	}
	qty, err := s.eval.Encrypt(line.Quantity)
	if err != nil {
		return err
	}
	price.line, qty.line = id, id

	key := s.client.Key()
	ns := LineNamespace(key)
	if err := s.store.PutCiphertext(ns, LineName(line.ProductID, FieldPrice), price); err != nil {
		return err
	}
	if err := s.store.PutCiphertext(ns, LineName(line.ProductID, FieldQuantity), qty); err != nil {
		return err
	}
	return s.ledger.put(key, line.ProductID, ledgerEntry{Line: id, Price: line.UnitPrice, Quantity: line.Quantity})
}

// AddProduct adds a line at the catalog price.
func (s *Session) AddProduct(productID, quantity uint64) error {
	p, err := s.shop.catalog.Lookup(productID)
	if err != nil {
		return err
	}
	return s.AddLine(productID, p.Price, quantity)
}

// ClearCart removes every line of the client from the store, including
// lines written by earlier sessions.
func (s *Session) ClearCart() error {
	key := s.client.Key()
	ns := LineNamespace(key)
	for _, id := range s.shop.catalog.IDs() {
		for _, f := range []Field{FieldPrice, FieldQuantity} {
			if err := s.store.Delete(ns, LineName(id, f)); err != nil {
				return err
			}
		}
	}
	names, err := s.store.List(LedgerNamespace(key))
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.store.Delete(LedgerNamespace(key), name); err != nil {
			return err
		}
	}
	return nil
}

// verifyCart checks that every complete line the server will sum is one the
// ledger accounts for, and that their sum stays below the modulus. Lines of
// racing writers or of other processes that bypassed the ledger fail here.
func (s *Session) verifyCart(ctx context.Context) error {
	entries, err := s.ledger.entries(s.client.Key())
	if err != nil {
		return err
	}
	lines, err := fetchLines(ctx, s.store, s.client.Key(), s.shop.catalog.IDs(), DefaultWorkers)
	if err != nil {
		return err
	}
	covered := make(map[uint64]CartLine, len(lines))
	for _, l := range lines {
		if !l.present() {
			continue
		}
		e, ok := entries[l.product]
		if !ok || e.Line != l.price.line {
			return fmt.Errorf("%w: product %d not in ledger", ErrInconsistentLine, l.product)
		}
		covered[l.product] = CartLine{ProductID: l.product, UnitPrice: e.Price, Quantity: e.Quantity}
	}
	return s.checkBound(covered)
}

// Order lives for one checkout attempt.
type Order struct {
	ID     uuid.UUID
	Client Client
	Coupon Coupon
	Lines  int
	Total  *Ciphertext
	Amount decimal.Decimal

	settled bool
}

// Settle decrypts the order total. It may run once, whatever its outcome.
func (o *Order) Settle(sc *SettlementClient) (decimal.Decimal, error) {
	if o.settled {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrOrderSettled, o.ID)
	}
	o.settled = true
	amount, err := sc.Settle(o.Total)
	if err != nil {
		return decimal.Decimal{}, err
	}
	o.Amount = amount
	return amount, nil
}

func (o *Order) Settled() bool {
	return o.settled
}

// Checkout runs a full settlement with the coupon at couponIndex (1-based).
func (s *Session) Checkout(ctx context.Context, couponIndex int) (*Order, error) {
	coupon, err := SelectCoupon(s.client.Coupons, couponIndex)
	if err != nil {
		return nil, err
	}
	settlement, err := NewSettlementClient(s.ctx, s.km)
	if err != nil {
		return nil, err
	}
	order := &Order{ID: uuid.New(), Client: s.client.clone(), Coupon: coupon}
	log := s.logger.With(zap.Stringer("order", order.ID))

	if err := s.verifyCart(ctx); err != nil {
		log.Error("cart verification failed", zap.Error(err))
		return nil, err
	}

	key := s.client.Key()
	if err := EncryptDiscount(s.eval, s.store, key, coupon); err != nil {
		return nil, fmt.Errorf("encrypt discount: %w", err)
	}

	server := NewServer(s.ctx, s.km, s.store.Store, log)
	if order.Lines, err = server.Total(ctx, key, s.shop.catalog.IDs()); err != nil {
		log.Error("server computation failed", zap.Error(err))
		return nil, err
	}

	if order.Total, err = s.store.GetCiphertext(OrderNamespace(key), totalName); err != nil {
		return nil, fmt.Errorf("fetch total: %w", err)
	}
	if _, err := order.Settle(settlement); err != nil {
		log.Error("settlement failed", zap.Error(err))
		return nil, err
	}
	log.Info("order settled", zap.Int("lines", order.Lines))
	return order, nil
}

// ComputeTotal is Checkout reduced to the settled amount.
func (s *Session) ComputeTotal(ctx context.Context, couponIndex int) (decimal.Decimal, error) {
	order, err := s.Checkout(ctx, couponIndex)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return order.Amount, nil
}
