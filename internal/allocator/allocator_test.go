package allocator

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartpos/internal/domain"
)

func line(id int64, qty int) Line {
	return Line{ProductID: id, Quantity: qty, UnitPrice: decimal.NewFromInt(2500)}
}

func TestRemainingStockIsNotClamped(t *testing.T) {
	catalog := NewCatalog(Product{ID: 1, Name: "rice", Stock: 3})
	drafts := []Draft{{Lines: []Line{line(1, 2)}}, {Lines: []Line{line(1, 2)}}}

	assert.Equal(t, -1, RemainingStock(catalog, drafts, 1))
	assert.Equal(t, 0, RemainingStock(catalog, drafts[:1], 7), "unknown product has no stock")
}

func TestAllocationCoversCatalogAndDraftProducts(t *testing.T) {
	catalog := NewCatalog(
		Product{ID: 1, Name: "rice", Stock: 5},
		Product{ID: 2, Name: "soap", Stock: 1},
	)
	drafts := []Draft{{Lines: []Line{line(1, 3), line(9, 1)}}}

	view := Allocation(catalog, drafts)
	assert.Equal(t, map[int64]int{1: 2, 2: 1, 9: -1}, view)
}

func TestCanIncreaseLineOutsideDraftList(t *testing.T) {
	catalog := NewCatalog(Product{ID: 1, Stock: 5})
	drafts := []Draft{{Lines: []Line{line(1, 4)}}}

	assert.True(t, CanIncreaseLine(catalog, drafts, 1, 1, 1))
	assert.False(t, CanIncreaseLine(catalog, drafts, 1, 1, 2))
	assert.True(t, CanIncreaseLine(catalog, drafts, 1, 0, 1))
	assert.False(t, CanIncreaseLine(catalog, drafts, 1, 0, 2))
}

func TestClampQuantityNegativeRequestRemovesLine(t *testing.T) {
	catalog := NewCatalog(Product{ID: 1, Stock: 5})
	got := ClampQuantity(catalog, []Draft{{}}, 1, 0, -3)
	assert.Equal(t, Clamp{Quantity: 0, Limit: 5}, got)
}

func TestClampQuantityWhenOthersOversell(t *testing.T) {
	catalog := NewCatalog(Product{ID: 1, Stock: 2})
	drafts := []Draft{{}, {Lines: []Line{line(1, 3)}}}

	got := ClampQuantity(catalog, drafts, 1, 0, 1)
	assert.Equal(t, Clamp{Quantity: 0, Limit: 0, Clamped: true}, got)
}

func TestValidateAllDraftsOrdersShortagesByProduct(t *testing.T) {
	catalog := NewCatalog(
		Product{ID: 3, Name: "sugar", Stock: 1},
		Product{ID: 1, Name: "rice", Stock: 2},
		Product{ID: 2, Name: "soap", Stock: 10},
	)
	drafts := []Draft{
		{Lines: []Line{line(3, 1), line(1, 2)}},
		{Lines: []Line{line(3, 1), line(1, 1), line(2, 4)}},
	}

	shortages := ValidateAllDrafts(catalog, drafts)
	require.Len(t, shortages, 2)
	assert.Equal(t, Shortage{ProductID: 1, Name: "rice", Required: 3, Available: 2}, shortages[0])
	assert.Equal(t, Shortage{ProductID: 3, Name: "sugar", Required: 2, Available: 1}, shortages[1])

	err := Validate(catalog, drafts)
	var shortageErr *ShortageError
	require.True(t, errors.As(err, &shortageErr))
	assert.Contains(t, err.Error(), "'rice' requires 3, available 2")
}

func TestValidateAllDraftsUnknownProduct(t *testing.T) {
	shortages := ValidateAllDrafts(NewCatalog(), []Draft{{Lines: []Line{line(4, 1)}}})
	require.Len(t, shortages, 1)
	assert.Equal(t, "#4", shortages[0].Name)
	assert.Equal(t, 0, shortages[0].Available)
	assert.NoError(t, Validate(NewCatalog(), []Draft{{}}))
}

func TestAssembleBatchRequestCarriesDraftAssociations(t *testing.T) {
	customerID := int64(12)
	drafts := []Draft{
		{Lines: []Line{line(1, 2)}, CustomerID: &customerID},
		{},
		{Lines: []Line{line(2, 1), line(3, 0)}, DeliveryAddress: "  Jl. Merdeka 5 "},
	}
	discount := Discount{Percentage: decimal.NewFromInt(10), Amount: decimal.NewFromInt(500)}

	batch, err := AssembleBatchRequest(drafts, discount)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	assert.Equal(t, []domain.VoucherItemRequest{{ProductID: 1, Quantity: 2}}, batch[0].Items)
	require.NotNil(t, batch[0].CustomerID)
	assert.Equal(t, int64(12), *batch[0].CustomerID)
	assert.True(t, batch[0].DiscountPercentage.Equal(decimal.NewFromInt(10)))

	assert.Equal(t, []domain.VoucherItemRequest{{ProductID: 2, Quantity: 1}}, batch[1].Items)
	assert.Nil(t, batch[1].CustomerID)
	assert.Equal(t, "Jl. Merdeka 5", batch[1].DeliveryAddress)
	assert.True(t, batch[1].DiscountAmount.Equal(decimal.NewFromInt(500)))

	customerID = 99
	assert.Equal(t, int64(12), *batch[0].CustomerID, "payload must not alias the draft")
}

func TestAssembleBatchRequestEmpty(t *testing.T) {
	_, err := AssembleBatchRequest([]Draft{{}, {Lines: []Line{line(1, 0)}}}, Discount{})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestFromStockUsesSalePrice(t *testing.T) {
	sale := decimal.RequireFromString("9000")
	p := FromStock(domain.StockItem{ID: 5, Name: "tea", Price: decimal.NewFromInt(10000), SalePrice: &sale, Quantity: 7})
	assert.True(t, p.UnitPrice.Equal(sale))
	assert.Equal(t, 7, p.Stock)
}

func TestDraftCloneIsIndependent(t *testing.T) {
	id := int64(3)
	d := Draft{Lines: []Line{line(1, 1)}, CustomerID: &id}
	c := d.Clone()
	c.Lines[0].Quantity = 9
	*c.CustomerID = 4

	assert.Equal(t, 1, d.Lines[0].Quantity)
	assert.Equal(t, int64(3), *d.CustomerID)
	assert.True(t, d.Subtotal().Equal(decimal.NewFromInt(2500)))
}
