// Package allocator keeps the sum of every draft voucher's quantities for a
// product within the product's true stock. All functions are pure: they take
// the catalog snapshot and the ordered draft list (index 0 is the main
// draft) and never mutate either.
package allocator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"smartpos/internal/domain"
)

// ErrEmptyBatch is returned when no draft carries a line item.
var ErrEmptyBatch = errors.New("batch has no items")

type Product struct {
	ID        int64
	Name      string
	UnitPrice decimal.Decimal
	Stock     int
}

// Catalog is a snapshot of true stock keyed by product ID.
type Catalog map[int64]Product

func NewCatalog(products ...Product) Catalog {
	c := make(Catalog, len(products))
	for _, p := range products {
		c[p.ID] = p
	}
	return c
}

// FromStock builds a catalog entry from a server stock listing, pricing it
// at the sale price when one is active.
func FromStock(item domain.StockItem) Product {
	price := item.Price
	if item.SalePrice != nil {
		price = *item.SalePrice
	}
	return Product{ID: item.ID, Name: item.Name, UnitPrice: price, Stock: item.Quantity}
}

// Stock returns the true stock of productID. Products missing from the
// snapshot have none.
func (c Catalog) Stock(productID int64) int {
	p, ok := c[productID]
	if !ok || p.Stock < 0 {
		return 0
	}
	return p.Stock
}

func (c Catalog) name(productID int64) string {
	if p, ok := c[productID]; ok && p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("#%d", productID)
}

type Line struct {
	ProductID int64
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Draft struct {
	Lines           []Line
	CustomerID      *int64
	DeliveryAddress string
}

func (d Draft) IsEmpty() bool {
	for _, line := range d.Lines {
		if line.Quantity > 0 {
			return false
		}
	}
	return true
}

// HasAssociation reports whether the draft names a customer or a delivery
// address.
func (d Draft) HasAssociation() bool {
	return d.CustomerID != nil || strings.TrimSpace(d.DeliveryAddress) != ""
}

// Quantity is the draft's total quantity of productID.
func (d Draft) Quantity(productID int64) int {
	total := 0
	for _, line := range d.Lines {
		if line.ProductID == productID {
			total += line.Quantity
		}
	}
	return total
}

func (d Draft) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range d.Lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

// Clone returns a deep copy safe to hand to another goroutine.
func (d Draft) Clone() Draft {
	out := d
	out.Lines = append([]Line(nil), d.Lines...)
	if d.CustomerID != nil {
		id := *d.CustomerID
		out.CustomerID = &id
	}
	return out
}

// consumed sums productID over every draft except skip. Pass skip < 0 to
// include them all.
func consumed(drafts []Draft, productID int64, skip int) int {
	total := 0
	for i, d := range drafts {
		if i == skip {
			continue
		}
		total += d.Quantity(productID)
	}
	return total
}

// RemainingStock is true stock minus the quantity of productID across all
// drafts. It is not clamped: a negative value means the drafts oversell.
func RemainingStock(catalog Catalog, drafts []Draft, productID int64) int {
	return catalog.Stock(productID) - consumed(drafts, productID, -1)
}

// Allocation computes RemainingStock for every product in the catalog or in
// any draft.
func Allocation(catalog Catalog, drafts []Draft) map[int64]int {
	out := make(map[int64]int, len(catalog))
	for id := range catalog {
		out[id] = RemainingStock(catalog, drafts, id)
	}
	for _, d := range drafts {
		for _, line := range d.Lines {
			if _, ok := out[line.ProductID]; !ok {
				out[line.ProductID] = RemainingStock(catalog, drafts, line.ProductID)
			}
		}
	}
	return out
}

// Limit is the most of productID the active draft may hold given what the
// other drafts already consume. An active index outside drafts stands for a
// draft that is not yet part of the list.
func Limit(catalog Catalog, drafts []Draft, productID int64, active int) int {
	limit := catalog.Stock(productID) - consumed(drafts, productID, active)
	if limit < 0 {
		return 0
	}
	return limit
}

func ownQuantity(drafts []Draft, productID int64, active int) int {
	if active < 0 || active >= len(drafts) {
		return 0
	}
	return drafts[active].Quantity(productID)
}

// CanIncreaseLine reports whether the active draft's quantity of productID
// may grow by delta without the drafts together exceeding true stock.
func CanIncreaseLine(catalog Catalog, drafts []Draft, productID int64, active int, delta int) bool {
	others := consumed(drafts, productID, active)
	own := ownQuantity(drafts, productID, active)
	return catalog.Stock(productID)-others-own-delta >= 0
}

// Clamp is the outcome of fitting a requested quantity into the stock left
// for a draft. Quantity 0 means the line should be removed.
type Clamp struct {
	Quantity int
	Limit    int
	Clamped  bool
}

// ClampQuantity fits requested into [0, Limit]. Clamped is set when the
// request had to be lowered so callers can warn the operator.
func ClampQuantity(catalog Catalog, drafts []Draft, productID int64, active int, requested int) Clamp {
	limit := Limit(catalog, drafts, productID, active)
	switch {
	case requested < 0:
		return Clamp{Quantity: 0, Limit: limit}
	case requested > limit:
		return Clamp{Quantity: limit, Limit: limit, Clamped: true}
	default:
		return Clamp{Quantity: requested, Limit: limit}
	}
}

type Shortage struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

func (s Shortage) String() string {
	return fmt.Sprintf("'%s' requires %d, available %d", s.Name, s.Required, s.Available)
}

// ShortageError carries every product that the drafts oversell.
type ShortageError struct {
	Shortages []Shortage
}

func (e *ShortageError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, s.String())
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// ValidateAllDrafts aggregates each product's quantity across all drafts and
// returns one shortage per product whose total exceeds true stock, ordered by
// product ID. An empty result means the batch may be submitted.
func ValidateAllDrafts(catalog Catalog, drafts []Draft) []Shortage {
	required := make(map[int64]int)
	for _, d := range drafts {
		for _, line := range d.Lines {
			if line.Quantity > 0 {
				required[line.ProductID] += line.Quantity
			}
		}
	}

	var shortages []Shortage
	for id, qty := range required {
		available := catalog.Stock(id)
		if qty > available {
			shortages = append(shortages, Shortage{
				ProductID: id,
				Name:      catalog.name(id),
				Required:  qty,
				Available: available,
			})
		}
	}
	sort.Slice(shortages, func(i, j int) bool {
		return shortages[i].ProductID < shortages[j].ProductID
	})
	return shortages
}

// Validate is ValidateAllDrafts as an error.
func Validate(catalog Catalog, drafts []Draft) error {
	if shortages := ValidateAllDrafts(catalog, drafts); len(shortages) > 0 {
		return &ShortageError{Shortages: shortages}
	}
	return nil
}

// Discount terms shared by every voucher of a batch.
type Discount struct {
	Percentage decimal.Decimal
	Amount     decimal.Decimal
}

// AssembleBatchRequest maps each non-empty draft, in order, to a voucher
// payload carrying the shared discount. Empty drafts are dropped; if none is
// left ErrEmptyBatch is returned and the caller must not submit.
func AssembleBatchRequest(drafts []Draft, discount Discount) ([]domain.VoucherRequest, error) {
	out := make([]domain.VoucherRequest, 0, len(drafts))
	for _, d := range drafts {
		if d.IsEmpty() {
			continue
		}
		items := make([]domain.VoucherItemRequest, 0, len(d.Lines))
		for _, line := range d.Lines {
			if line.Quantity < 1 {
				continue
			}
			items = append(items, domain.VoucherItemRequest{ProductID: line.ProductID, Quantity: line.Quantity})
		}
		req := domain.VoucherRequest{
			Items:              items,
			DeliveryAddress:    strings.TrimSpace(d.DeliveryAddress),
			DiscountPercentage: discount.Percentage,
			DiscountAmount:     discount.Amount,
		}
		if d.CustomerID != nil {
			id := *d.CustomerID
			req.CustomerID = &id
		}
		out = append(out, req)
	}
	if len(out) == 0 {
		return nil, ErrEmptyBatch
	}
	return out, nil
}
