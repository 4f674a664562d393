// Package workbench holds one operator's sale session: the main draft, any
// additional drafts, the shared discount and the catalog snapshot the
// allocator checks them against.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"smartpos/internal/allocator"
	"smartpos/internal/domain"
	"smartpos/internal/store"
)

var (
	ErrSubmitInFlight     = errors.New("a batch submission is already in progress")
	ErrMissingAssociation = errors.New("additional voucher needs a customer or a delivery address")
	ErrNoSuchDraft        = errors.New("no such draft")
	ErrCatalogStale       = errors.New("a batch was submitted while stock was loading; load it again")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
)

// Main is the index of the draft that always exists.
const Main = 0

type CatalogSource interface {
	ListStock(ctx context.Context, q domain.StockQuery) (domain.Page[domain.StockItem], error)
}

type SubmissionSink interface {
	CreateVouchers(ctx context.Context, vouchers []domain.VoucherRequest) ([]domain.Voucher, error)
}

type ReceiptExporter interface {
	Export(ctx context.Context, v domain.Voucher) (string, error)
}

type Workbench struct {
	mu         sync.Mutex
	catalog    allocator.Catalog
	drafts     []allocator.Draft
	discount   allocator.Discount
	submitting bool
	// submitted counts accepted batches; a load that spans one is stale.
	submitted uint64

	source   CatalogSource
	sink     SubmissionSink
	exporter ReceiptExporter
	logger   zerolog.Logger
}

type Option func(*Workbench)

func WithLogger(l zerolog.Logger) Option {
	return func(w *Workbench) { w.logger = l }
}

func WithExporter(e ReceiptExporter) Option {
	return func(w *Workbench) { w.exporter = e }
}

func New(source CatalogSource, sink SubmissionSink, opts ...Option) *Workbench {
	w := &Workbench{
		catalog: allocator.NewCatalog(),
		drafts:  []allocator.Draft{{}},
		source:  source,
		sink:    sink,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Adjustment reports what an edit did to one line.
type Adjustment struct {
	Draft     int
	ProductID int64
	Name      string
	Requested int
	Quantity  int
	Limit     int
	Clamped   bool
	// Unknown is set when the product is not in the loaded catalog.
	Unknown bool
}

// Removed reports whether the edit left no line for the product.
func (a Adjustment) Removed() bool { return a.Quantity == 0 }

// Warning is the operator-facing note for a clamped edit, or "".
func (a Adjustment) Warning() string {
	if !a.Clamped {
		return ""
	}
	if a.Unknown {
		return fmt.Sprintf("'%s' is not in the loaded catalog; line dropped", a.Name)
	}
	if a.Limit == 0 {
		return fmt.Sprintf("'%s' has no stock left for this voucher", a.Name)
	}
	return fmt.Sprintf("only %d of '%s' left for this voucher; quantity set to %d", a.Limit, a.Name, a.Quantity)
}

// LoadPage fetches a stock page and folds it into the catalog snapshot.
// Products seen on earlier pages keep their last known stock. Loading is
// refused while a batch is being submitted, and a page fetched across an
// accepted batch is discarded with ErrCatalogStale.
func (w *Workbench) LoadPage(ctx context.Context, q domain.StockQuery) (domain.Page[domain.StockItem], error) {
	w.mu.Lock()
	if w.submitting {
		w.mu.Unlock()
		return domain.Page[domain.StockItem]{}, ErrSubmitInFlight
	}
	generation := w.submitted
	w.mu.Unlock()

	page, err := w.source.ListStock(ctx, q)
	if err != nil {
		return domain.Page[domain.StockItem]{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitting {
		return domain.Page[domain.StockItem]{}, ErrSubmitInFlight
	}
	if w.submitted != generation {
		return domain.Page[domain.StockItem]{}, ErrCatalogStale
	}
	for _, item := range page.Items {
		w.catalog[item.ID] = allocator.FromStock(item)
	}
	return page, nil
}

// RefreshDraftProducts reloads true stock for every product held by any
// draft.
func (w *Workbench) RefreshDraftProducts(ctx context.Context) error {
	w.mu.Lock()
	seen := map[int64]bool{}
	var ids []int64
	for _, d := range w.drafts {
		for _, line := range d.Lines {
			if !seen[line.ProductID] {
				seen[line.ProductID] = true
				ids = append(ids, line.ProductID)
			}
		}
	}
	w.mu.Unlock()
	return w.LoadProducts(ctx, ids)
}

// LoadProducts loads the given products, asking for at most one full page
// of ids per request.
func (w *Workbench) LoadProducts(ctx context.Context, ids []int64) error {
	for chunk := range slices.Chunk(ids, store.MaxPageSize) {
		if _, err := w.LoadPage(ctx, domain.StockQuery{IDs: chunk, Limit: len(chunk)}); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workbench) Catalog() allocator.Catalog {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(allocator.Catalog, len(w.catalog))
	for id, p := range w.catalog {
		out[id] = p
	}
	return out
}

// Drafts returns copies of every draft, main first.
func (w *Workbench) Drafts() []allocator.Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return cloneDrafts(w.drafts)
}

func (w *Workbench) Discount() allocator.Discount {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.discount
}

func (w *Workbench) Submitting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitting
}

func (w *Workbench) RemainingStock(productID int64) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return allocator.RemainingStock(w.catalog, w.drafts, productID)
}

// Allocation is the remaining sellable quantity per product, computed fresh
// on every call.
func (w *Workbench) Allocation() map[int64]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return allocator.Allocation(w.catalog, w.drafts)
}

func (w *Workbench) Shortages() []allocator.Shortage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return allocator.ValidateAllDrafts(w.catalog, w.drafts)
}

// AddItem raises the draft's quantity of productID by qty, clamped to what
// the other drafts leave. A product missing from the catalog has no stock,
// so it is dropped with a warning like any other line that cannot fit.
func (w *Workbench) AddItem(draft int, productID int64, qty int) (Adjustment, error) {
	if qty < 1 {
		return Adjustment{}, ErrInvalidQuantity
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editable(draft); err != nil {
		return Adjustment{}, err
	}
	return w.setLine(draft, productID, w.drafts[draft].Quantity(productID)+qty), nil
}

// SetQuantity sets the line to qty, clamped. Zero or less removes the line.
func (w *Workbench) SetQuantity(draft int, productID int64, qty int) (Adjustment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editable(draft); err != nil {
		return Adjustment{}, err
	}
	return w.setLine(draft, productID, qty), nil
}

func (w *Workbench) RemoveItem(draft int, productID int64) error {
	_, err := w.SetQuantity(draft, productID, 0)
	return err
}

func (w *Workbench) SetCustomer(draft int, customerID *int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editable(draft); err != nil {
		return err
	}
	next := w.drafts[draft].Clone()
	next.CustomerID = nil
	if customerID != nil {
		id := *customerID
		next.CustomerID = &id
	}
	if draft != Main && !next.HasAssociation() {
		return ErrMissingAssociation
	}
	w.drafts[draft] = next
	return nil
}

func (w *Workbench) SetDeliveryAddress(draft int, address string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editable(draft); err != nil {
		return err
	}
	next := w.drafts[draft].Clone()
	next.DeliveryAddress = strings.TrimSpace(address)
	if draft != Main && !next.HasAssociation() {
		return ErrMissingAssociation
	}
	w.drafts[draft] = next
	return nil
}

func (w *Workbench) SetDiscount(d allocator.Discount) error {
	if d.Percentage.IsNegative() || d.Amount.IsNegative() {
		return errors.New("discount cannot be negative")
	}
	if d.Percentage.GreaterThan(hundred) {
		return errors.New("discount percentage cannot exceed 100")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitting {
		return ErrSubmitInFlight
	}
	w.discount = d
	return nil
}

// AddAdditionalDraft appends d after fitting its lines into the stock the
// existing drafts leave. Lines that do not fit at all are dropped and
// reported with Quantity 0.
func (w *Workbench) AddAdditionalDraft(d allocator.Draft) (int, []Adjustment, error) {
	if !d.HasAssociation() {
		return 0, nil, ErrMissingAssociation
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitting {
		return 0, nil, ErrSubmitInFlight
	}
	index := len(w.drafts)
	fitted, adjustments := w.fit(index, d)
	w.drafts = append(w.drafts, fitted)
	w.warn(adjustments)
	return index, adjustments, nil
}

// ReplaceAdditionalDraft swaps in an edited version of an additional draft
// under the same clamp policy as AddAdditionalDraft.
func (w *Workbench) ReplaceAdditionalDraft(index int, d allocator.Draft) ([]Adjustment, error) {
	if !d.HasAssociation() {
		return nil, ErrMissingAssociation
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editable(index); err != nil {
		return nil, err
	}
	if index == Main {
		return nil, fmt.Errorf("%w: main draft is edited line by line", ErrNoSuchDraft)
	}
	fitted, adjustments := w.fit(index, d)
	w.drafts[index] = fitted
	w.warn(adjustments)
	return adjustments, nil
}

func (w *Workbench) RemoveAdditionalDraft(index int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editable(index); err != nil {
		return err
	}
	if index == Main {
		return fmt.Errorf("%w: the main draft cannot be removed", ErrNoSuchDraft)
	}
	w.drafts = append(w.drafts[:index], w.drafts[index+1:]...)
	return nil
}

// Reset drops every draft and the discount.
func (w *Workbench) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitting {
		return ErrSubmitInFlight
	}
	w.resetLocked()
	return nil
}

func (w *Workbench) resetLocked() {
	w.drafts = []allocator.Draft{{}}
	w.discount = allocator.Discount{}
}

func (w *Workbench) editable(draft int) error {
	if w.submitting {
		return ErrSubmitInFlight
	}
	if draft < 0 || draft >= len(w.drafts) {
		return fmt.Errorf("%w: %d", ErrNoSuchDraft, draft)
	}
	return nil
}

// setLine applies the clamp-and-warn policy to one line. Callers hold mu.
func (w *Workbench) setLine(draft int, productID int64, requested int) Adjustment {
	c := allocator.ClampQuantity(w.catalog, w.drafts, productID, draft, requested)
	adj := Adjustment{
		Draft:     draft,
		ProductID: productID,
		Name:      w.productName(productID),
		Requested: requested,
		Quantity:  c.Quantity,
		Limit:     c.Limit,
		Clamped:   c.Clamped,
		Unknown:   !w.known(productID),
	}

	d := w.drafts[draft].Clone()
	idx := -1
	for i, line := range d.Lines {
		if line.ProductID == productID {
			idx = i
			break
		}
	}
	switch {
	case c.Quantity == 0 && idx >= 0:
		d.Lines = append(d.Lines[:idx], d.Lines[idx+1:]...)
	case c.Quantity > 0 && idx >= 0:
		d.Lines[idx].Quantity = c.Quantity
	case c.Quantity > 0:
		d.Lines = append(d.Lines, w.newLine(productID, c.Quantity))
	}
	w.drafts[draft] = d
	w.warn([]Adjustment{adj})
	return adj
}

// fit clamps d's lines as if d sat at index. Callers hold mu.
func (w *Workbench) fit(index int, d allocator.Draft) (allocator.Draft, []Adjustment) {
	drafts := cloneDrafts(w.drafts)
	fitted := d.Clone()
	fitted.Lines = nil
	fitted.DeliveryAddress = strings.TrimSpace(fitted.DeliveryAddress)
	if index == len(drafts) {
		drafts = append(drafts, fitted)
	}

	var adjustments []Adjustment
	for _, line := range mergeLines(d.Lines) {
		drafts[index] = fitted
		c := allocator.ClampQuantity(w.catalog, drafts, line.ProductID, index, line.Quantity)
		adjustments = append(adjustments, Adjustment{
			Draft:     index,
			ProductID: line.ProductID,
			Name:      w.productName(line.ProductID),
			Requested: line.Quantity,
			Quantity:  c.Quantity,
			Limit:     c.Limit,
			Clamped:   c.Clamped,
			Unknown:   !w.known(line.ProductID),
		})
		if c.Quantity > 0 {
			fitted.Lines = append(fitted.Lines, w.newLine(line.ProductID, c.Quantity))
		}
	}
	return fitted, adjustments
}

func (w *Workbench) newLine(productID int64, qty int) allocator.Line {
	p := w.catalog[productID]
	return allocator.Line{ProductID: productID, Name: p.Name, Quantity: qty, UnitPrice: p.UnitPrice}
}

func (w *Workbench) known(productID int64) bool {
	_, ok := w.catalog[productID]
	return ok
}

func (w *Workbench) productName(productID int64) string {
	if p, ok := w.catalog[productID]; ok && p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("#%d", productID)
}

func (w *Workbench) warn(adjustments []Adjustment) {
	for _, a := range adjustments {
		if a.Clamped {
			w.logger.Warn().
				Int("draft", a.Draft).
				Int64("product_id", a.ProductID).
				Int("requested", a.Requested).
				Int("allowed", a.Quantity).
				Bool("unknown", a.Unknown).
				Msg("quantity clamped to remaining stock")
		}
	}
}

// mergeLines folds repeated products into one line, keeping first-seen order.
func mergeLines(lines []allocator.Line) []allocator.Line {
	index := map[int64]int{}
	out := make([]allocator.Line, 0, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			continue
		}
		if i, ok := index[line.ProductID]; ok {
			out[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	return out
}

func cloneDrafts(drafts []allocator.Draft) []allocator.Draft {
	out := make([]allocator.Draft, len(drafts))
	for i, d := range drafts {
		out[i] = d.Clone()
	}
	return out
}
