package store

import (
	"fmt"
	"sort"
	"strings"
)

// BatchShortageError reports the first product whose batch-wide quantity
// exceeds what is on hand.
type BatchShortageError struct {
	ProductID int64
	Name      string
	Available int
	Requested int
}

func (e *BatchShortageError) Error() string {
	return fmt.Sprintf("Insufficient stock for '%s'. Available: %d, Requested across batch: %d", e.Name, e.Available, e.Requested)
}

func (e *BatchShortageError) Unwrap() error {
	return ErrInsufficientStock
}

// MissingProductsError lists product IDs a batch referenced that do not exist.
type MissingProductsError struct {
	IDs []int64
}

func NewMissingProductsError(ids []int64) *MissingProductsError {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &MissingProductsError{IDs: sorted}
}

func (e *MissingProductsError) Error() string {
	parts := make([]string, 0, len(e.IDs))
	for _, id := range e.IDs {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return "One or more products not found: [" + strings.Join(parts, ", ") + "]"
}

func (e *MissingProductsError) Unwrap() error {
	return ErrNotFound
}

// BatchQuantities sums requested quantities per product across every voucher
// of a batch. The returned order lists product IDs as first seen.
func BatchQuantities(batch []NewVoucher) (map[int64]int, []int64) {
	totals := map[int64]int{}
	order := make([]int64, 0)
	for _, v := range batch {
		for _, line := range v.Request.Items {
			if _, seen := totals[line.ProductID]; !seen {
				order = append(order, line.ProductID)
			}
			totals[line.ProductID] += line.Quantity
		}
	}
	return totals, order
}
