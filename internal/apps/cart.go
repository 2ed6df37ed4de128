package apps

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/roach88/knot/internal/engine"
	"github.com/roach88/knot/internal/ir"
)

// Line is one cart entry. Price is in cents.
type Line struct {
	SKU   string `json:"sku"`
	Qty   int    `json:"qty"`
	Price int    `json:"price"`
}

// Cart states.
type (
	CartState interface{ ir.Tagged }

	Shopping struct {
		Lines []Line `json:"lines"`
	}
	CheckingOut struct {
		Lines []Line `json:"lines"`
		Total int    `json:"total"`
	}
	Paid struct {
		OrderID string `json:"order_id"`
		Total   int    `json:"total"`
	}
	Declined struct {
		Lines  []Line `json:"lines"`
		Reason string `json:"reason"`
	}
)

func (Shopping) Tag() ir.Tag    { return "shopping" }
func (CheckingOut) Tag() ir.Tag { return "checking_out" }
func (Paid) Tag() ir.Tag        { return "paid" }
func (Declined) Tag() ir.Tag    { return "declined" }

// Cart changes.
type (
	CartChange interface{ ir.Tagged }

	AddItem struct {
		SKU   string `json:"sku"`
		Qty   int    `json:"qty"`
		Price int    `json:"price"`
	}
	RemoveItem struct {
		SKU string `json:"sku"`
	}
	Checkout        struct{}
	PaymentApproved struct {
		OrderID string `json:"order_id"`
	}
	PaymentDeclined struct {
		Reason string `json:"reason"`
	}
	ResumeShopping struct{}
)

func (AddItem) Tag() ir.Tag         { return "add_item" }
func (RemoveItem) Tag() ir.Tag      { return "remove_item" }
func (Checkout) Tag() ir.Tag        { return "checkout" }
func (PaymentApproved) Tag() ir.Tag { return "payment_approved" }
func (PaymentDeclined) Tag() ir.Tag { return "payment_declined" }
func (ResumeShopping) Tag() ir.Tag  { return "resume_shopping" }

// Cart actions.
type (
	CartAction interface{ ir.Tagged }

	Charge struct {
		Total int `json:"total"`
	}
)

func (Charge) Tag() ir.Tag { return "charge" }

type cartEffect = ir.Effect[CartState, CartAction]

// PaymentGateway charges an amount in cents and returns an order ID.
type PaymentGateway interface {
	Charge(ctx context.Context, total int) (string, error)
}

// DemoGateway approves charges up to Limit cents and numbers orders
// sequentially. A zero Limit approves everything.
type DemoGateway struct {
	Limit int
	seq   atomic.Int64
}

func (g *DemoGateway) Charge(ctx context.Context, total int) (string, error) {
	if g.Limit > 0 && total > g.Limit {
		return "", fmt.Errorf("amount %d exceeds limit %d", total, g.Limit)
	}
	return fmt.Sprintf("order-%d", g.seq.Add(1)), nil
}

// CartConfig parameterizes the cart application.
type CartConfig struct {
	Gateway PaymentGateway
	Logger  *slog.Logger // Receives a debug line per change from any prime
}

// NewItemsPrime owns the cart contents: add_item and remove_item, valid
// only while shopping.
func NewItemsPrime() *engine.Prime[CartState, CartChange, CartAction] {
	p := engine.NewPrime[CartState, CartChange, CartAction]("items")

	p.On("add_item", func(s CartState, c CartChange) (cartEffect, error) {
		shop, ok := s.(Shopping)
		if !ok {
			return cartEffect{}, engine.Unexpected(s, c)
		}
		add := c.(AddItem)
		if add.Qty <= 0 {
			add.Qty = 1
		}
		return cartEffect{State: Shopping{Lines: addLine(shop.Lines, add)}}, nil
	})

	p.On("remove_item", func(s CartState, c CartChange) (cartEffect, error) {
		shop, ok := s.(Shopping)
		if !ok {
			return cartEffect{}, engine.Unexpected(s, c)
		}
		sku := c.(RemoveItem).SKU
		lines := slices.DeleteFunc(slices.Clone(shop.Lines), func(l Line) bool { return l.SKU == sku })
		return cartEffect{State: Shopping{Lines: lines}}, nil
	})

	return p
}

// NewCheckoutPrime owns payment: checkout requests a charge, the gateway
// result settles it, and a declined payment returns to shopping.
func NewCheckoutPrime(gateway PaymentGateway) *engine.Prime[CartState, CartChange, CartAction] {
	p := engine.NewPrime[CartState, CartChange, CartAction]("checkout")

	p.On("checkout", func(s CartState, c CartChange) (cartEffect, error) {
		shop, ok := s.(Shopping)
		if !ok {
			return cartEffect{}, engine.Unexpected(s, c)
		}
		if len(shop.Lines) == 0 {
			return cartEffect{State: shop}, nil
		}
		total := totalOf(shop.Lines)
		return cartEffect{
			State:  CheckingOut{Lines: shop.Lines, Total: total},
			Action: Charge{Total: total},
		}, nil
	})

	p.On("payment_approved", func(s CartState, c CartChange) (cartEffect, error) {
		co, ok := s.(CheckingOut)
		if !ok {
			return cartEffect{}, engine.Unexpected(s, c)
		}
		return cartEffect{State: Paid{OrderID: c.(PaymentApproved).OrderID, Total: co.Total}}, nil
	})

	p.On("payment_declined", func(s CartState, c CartChange) (cartEffect, error) {
		co, ok := s.(CheckingOut)
		if !ok {
			return cartEffect{}, engine.Unexpected(s, c)
		}
		return cartEffect{State: Declined{Lines: co.Lines, Reason: c.(PaymentDeclined).Reason}}, nil
	})

	p.On("resume_shopping", func(s CartState, c CartChange) (cartEffect, error) {
		d, ok := s.(Declined)
		if !ok {
			return cartEffect{}, engine.Unexpected(s, c)
		}
		return cartEffect{State: Shopping{Lines: d.Lines}}, nil
	})

	p.Perform("charge", engine.Merge, func(ctx context.Context, a CartAction, emit func(CartChange)) error {
		orderID, err := gateway.Charge(ctx, a.(Charge).Total)
		if err != nil {
			emit(PaymentDeclined{Reason: err.Error()})
			return nil
		}
		emit(PaymentApproved{OrderID: orderID})
		return nil
	})

	p.OnEnter("declined", engine.Merge, func(ctx context.Context, s CartState, emit func(CartChange)) error {
		emit(ResumeShopping{})
		return nil
	})

	return p
}

// NewCartComposite declares the cart composite and registers both primes.
// The caller activates it with Compose.
func NewCartComposite(cfg CartConfig, opts ...engine.Option) (*engine.Composite[CartState, CartChange, CartAction], error) {
	if cfg.Gateway == nil {
		cfg.Gateway = &DemoGateway{}
	}

	def := engine.NewDefinition[CartState, CartChange, CartAction](Shopping{})
	if cfg.Logger != nil {
		def.WatchChange(ir.AnyTag, func(c CartChange) {
			cfg.Logger.Debug("cart change", "change", c.Tag())
		})
	}

	opts = append([]engine.Option{engine.WithName("cart")}, opts...)
	c := engine.NewComposite(def, opts...)
	if err := c.Register(NewItemsPrime(), NewCheckoutPrime(cfg.Gateway)); err != nil {
		return nil, err
	}
	return c, nil
}

func cartDecoders() map[ir.Tag]Decoder[CartChange] {
	return map[ir.Tag]Decoder[CartChange]{
		"add_item":         As[AddItem, CartChange](),
		"remove_item":      As[RemoveItem, CartChange](),
		"checkout":         As[Checkout, CartChange](),
		"payment_approved": As[PaymentApproved, CartChange](),
		"payment_declined": As[PaymentDeclined, CartChange](),
		"resume_shopping":  As[ResumeShopping, CartChange](),
	}
}

// NewCart starts an activated cart session.
func NewCart(cfg CartConfig, opts ...engine.Option) (Session, error) {
	c, err := NewCartComposite(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Compose(); err != nil {
		return nil, err
	}
	return newSession[CartState, CartChange, CartAction]("cart", c, cartDecoders()), nil
}

// addLine merges add into lines, keeping lines sorted by SKU.
func addLine(lines []Line, add AddItem) []Line {
	out := slices.Clone(lines)
	i, found := slices.BinarySearchFunc(out, add.SKU, func(l Line, sku string) int {
		return strings.Compare(l.SKU, sku)
	})
	if found {
		out[i].Qty += add.Qty
		out[i].Price = add.Price
		return out
	}
	return slices.Insert(out, i, Line{SKU: add.SKU, Qty: add.Qty, Price: add.Price})
}

func totalOf(lines []Line) int {
	total := 0
	for _, l := range lines {
		total += l.Qty * l.Price
	}
	return total
}
