package workbench

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"smartpos/internal/allocator"
	"smartpos/internal/domain"
)

var hundred = decimal.NewFromInt(100)

type SubmitResult struct {
	Vouchers []domain.Voucher
	// Receipts holds the exported file per voucher, "" where export failed.
	Receipts []string
}

// Submit validates every draft against the catalog, sends the non-empty ones
// as one batch and, once the server accepts it, exports one receipt per
// created voucher before resetting the session.
//
// A rejected batch leaves every draft exactly as it was. Receipt export
// failures after a successful batch are joined into the returned error but
// do not undo the reset: the vouchers exist on the server.
func (w *Workbench) Submit(ctx context.Context) (SubmitResult, error) {
	w.mu.Lock()
	if w.submitting {
		w.mu.Unlock()
		return SubmitResult{}, ErrSubmitInFlight
	}
	if err := allocator.Validate(w.catalog, w.drafts); err != nil {
		w.mu.Unlock()
		return SubmitResult{}, err
	}
	batch, err := allocator.AssembleBatchRequest(w.drafts, w.discount)
	if err != nil {
		w.mu.Unlock()
		return SubmitResult{}, err
	}
	sold := soldQuantities(batch)
	w.submitting = true
	w.mu.Unlock()

	created, err := w.sink.CreateVouchers(ctx, batch)
	if err != nil {
		w.mu.Lock()
		w.submitting = false
		w.mu.Unlock()
		w.logger.Warn().Err(err).Int("vouchers", len(batch)).Msg("batch rejected; drafts kept")
		return SubmitResult{}, err
	}

	result := SubmitResult{Vouchers: created, Receipts: make([]string, len(created))}
	var exportErrs []error
	if w.exporter != nil {
		for i, v := range created {
			path, err := w.exporter.Export(ctx, v)
			if err != nil {
				w.logger.Error().Err(err).Str("voucher", v.VoucherNumber).Msg("receipt export failed")
				exportErrs = append(exportErrs, fmt.Errorf("receipt for %s: %w", v.VoucherNumber, err))
				continue
			}
			result.Receipts[i] = path
		}
	}

	w.mu.Lock()
	for id, qty := range sold {
		if p, ok := w.catalog[id]; ok {
			p.Stock -= qty
			w.catalog[id] = p
		}
	}
	w.resetLocked()
	w.submitted++
	w.submitting = false
	w.mu.Unlock()

	w.logger.Info().Int("vouchers", len(created)).Msg("batch submitted")
	return result, errors.Join(exportErrs...)
}

func soldQuantities(batch []domain.VoucherRequest) map[int64]int {
	out := map[int64]int{}
	for _, v := range batch {
		for _, item := range v.Items {
			out[item.ProductID] += item.Quantity
		}
	}
	return out
}
