package main

import (
	"context"
	"fmt"
	"os"

	"github.com/markkurossi/tabulate"
	"github.com/ontanj/hecart"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	stateDir   string
	passphrase string
	verbose    bool

	clientID  uint64
	productID uint64
	quantity  uint64
	price     uint64
	coupon    int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hecart",
	Short: "Settle shopping carts on encrypted prices and quantities",
	Long: `hecart computes an order total without the computing party seeing
prices, quantities or the coupon rate. Cart lines are encrypted under BFV and
exchanged through a state directory; only the client can decrypt the total.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "hecart.yaml", "deployment config file")
	pf.StringVar(&stateDir, "state", "", "state directory (overrides config)")
	pf.StringVar(&passphrase, "passphrase", os.Getenv("HECART_PASSPHRASE"), "seal the secret key with this passphrase")
	pf.BoolVarP(&verbose, "verbose", "v", false, "development logging")

	for _, cmd := range []*cobra.Command{couponsCmd, cartCmd, addCmd, checkoutCmd, clearCmd} {
		cmd.Flags().Uint64Var(&clientID, "client", 0, "client id")
		cmd.MarkFlagRequired("client")
	}
	addCmd.Flags().Uint64Var(&productID, "product", 0, "product id")
	addCmd.Flags().Uint64Var(&quantity, "qty", 1, "quantity")
	addCmd.Flags().Uint64Var(&price, "price", 0, "unit price (default catalog price)")
	addCmd.MarkFlagRequired("product")
	checkoutCmd.Flags().IntVar(&coupon, "coupon", 1, "coupon number as listed by coupons")

	rootCmd.AddCommand(initCmd, productsCmd, couponsCmd, cartCmd, addCmd, checkoutCmd, clearCmd)
}

type env struct {
	cfg     *hecart.Config
	clients *hecart.Registry
	shop    *hecart.Shop
	logger  *zap.Logger
}

func setup() (*env, error) {
	logger, err := hecart.NewLogger(verbose)
	if err != nil {
		return nil, err
	}
	cfg, err := hecart.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	clients, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	opts := []hecart.Option{hecart.WithLogger(logger)}
	if passphrase != "" {
		opts = append(opts, hecart.WithStateOptions(hecart.WithPassphrase([]byte(passphrase))))
	}
	shop := hecart.NewShop(hecart.NewFileStore(cfg.StateDir), catalog, clients, opts...)
	return &env{cfg: cfg, clients: clients, shop: shop, logger: logger}, nil
}

// session loads state and logs the client in.
func session() (*env, *hecart.Session, error) {
	e, err := setup()
	if err != nil {
		return nil, nil, err
	}
	if err := e.shop.LoadState(); err != nil {
		return nil, nil, err
	}
	sess, err := e.shop.Login(clientID)
	if err != nil {
		return nil, nil, err
	}
	return e, sess, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate crypto context and keys into the state directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.logger.Sync()
		if err := e.shop.Initialize(e.cfg.SchemeParams()); err != nil {
			return err
		}
		fmt.Printf("CryptoContext and keys saved to %s\n", e.cfg.StateDir)
		return nil
	},
}

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List available products",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		tab := tabulate.New(tabulate.UnicodeLight)
		tab.Header("ID").SetAlign(tabulate.MR)
		tab.Header("Name").SetAlign(tabulate.ML)
		tab.Header("Price").SetAlign(tabulate.MR)
		for _, p := range e.shop.Catalog().Products() {
			row := tab.Row()
			row.Column(fmt.Sprintf("%d", p.ID))
			row.Column(p.Name)
			row.Column(fmt.Sprintf("%d", p.Price))
		}
		tab.Print(os.Stdout)
		return nil
	},
}

var couponsCmd = &cobra.Command{
	Use:   "coupons",
	Short: "List the coupons of a client",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		c, err := e.clients.Lookup(clientID)
		if err != nil {
			return err
		}
		tab := tabulate.New(tabulate.UnicodeLight)
		tab.Header("#").SetAlign(tabulate.MR)
		tab.Header("Coupon").SetAlign(tabulate.ML)
		tab.Header("Discount").SetAlign(tabulate.MR)
		for i, cp := range c.Coupons {
			row := tab.Row()
			row.Column(fmt.Sprintf("%d", i+1))
			row.Column(cp.Name)
			row.Column(cp.Rate.Shift(2).String() + "%")
		}
		fmt.Printf("Coupons of %s:\n", c.Name)
		tab.Print(os.Stdout)
		return nil
	},
}

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "List the client's cart lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, sess, err := session()
		if err != nil {
			return err
		}
		defer e.logger.Sync()
		lines, err := sess.Lines()
		if err != nil {
			return err
		}
		tab := tabulate.New(tabulate.UnicodeLight)
		tab.Header("Product").SetAlign(tabulate.ML)
		tab.Header("Price").SetAlign(tabulate.MR)
		tab.Header("Qty").SetAlign(tabulate.MR)
		for _, l := range lines {
			name := fmt.Sprintf("%d", l.ProductID)
			if p, err := e.shop.Catalog().Lookup(l.ProductID); err == nil {
				name = p.Name
			}
			row := tab.Row()
			row.Column(name)
			row.Column(fmt.Sprintf("%d", l.UnitPrice))
			row.Column(fmt.Sprintf("%d", l.Quantity))
		}
		tab.Print(os.Stdout)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Encrypt a cart line and write it to the state directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, sess, err := session()
		if err != nil {
			return err
		}
		defer e.logger.Sync()
		if cmd.Flags().Changed("price") {
			err = sess.AddLine(productID, price, quantity)
		} else {
			err = sess.AddProduct(productID, quantity)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Added product %d x%d to cart for client %d\n", productID, quantity, clientID)
		return nil
	},
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Compute and decrypt the discounted cart total",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, sess, err := session()
		if err != nil {
			return err
		}
		defer e.logger.Sync()
		order, err := sess.Checkout(context.Background(), coupon)
		if err != nil {
			return err
		}
		fmt.Printf("Order %s: %d line(s), coupon %q\n", order.ID, order.Lines, order.Coupon.Name)
		fmt.Printf("Final Total after Discount: %s\n", order.Amount.StringFixed(1))
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the client's cart lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, sess, err := session()
		if err != nil {
			return err
		}
		defer e.logger.Sync()
		return sess.ClearCart()
	},
}
