package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"

	"smartpos/internal/allocator"
	"smartpos/internal/domain"
	"smartpos/internal/workbench"
)

// plan is a sale prepared offline: the main voucher, any additional
// vouchers and one discount shared by all of them.
type plan struct {
	Discount   planDiscount  `json:"discount"`
	Main       planVoucher   `json:"main"`
	Additional []planVoucher `json:"additional"`
}

type planDiscount struct {
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

type planVoucher struct {
	Items           []domain.VoucherItemRequest `json:"items"`
	CustomerID      *int64                      `json:"customer_id,omitempty"`
	DeliveryAddress string                      `json:"delivery_address,omitempty"`
}

func readPlan(path string) (plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return plan{}, fmt.Errorf("open plan: %w", err)
	}
	defer f.Close()
	return decodePlan(f)
}

func decodePlan(r io.Reader) (plan, error) {
	var p plan
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return plan{}, fmt.Errorf("decode plan: %w", err)
	}
	return p, nil
}

func (p plan) productIDs() []int64 {
	seen := map[int64]bool{}
	var ids []int64
	collect := func(v planVoucher) {
		for _, item := range v.Items {
			if !seen[item.ProductID] {
				seen[item.ProductID] = true
				ids = append(ids, item.ProductID)
			}
		}
	}
	collect(p.Main)
	for _, v := range p.Additional {
		collect(v)
	}
	return ids
}

// apply loads the plan's products into the workbench catalog and builds its
// drafts. Quantities beyond available stock are clamped; the adjustments
// say where.
func (p plan) apply(ctx context.Context, wb *workbench.Workbench) ([]workbench.Adjustment, error) {
	if err := wb.LoadProducts(ctx, p.productIDs()); err != nil {
		return nil, fmt.Errorf("load plan products: %w", err)
	}
	if err := wb.SetDiscount(allocator.Discount{Percentage: p.Discount.Percentage, Amount: p.Discount.Amount}); err != nil {
		return nil, err
	}

	var adjustments []workbench.Adjustment
	for _, item := range p.Main.Items {
		adj, err := wb.AddItem(workbench.Main, item.ProductID, item.Quantity)
		if err != nil {
			return nil, fmt.Errorf("main voucher: %w", err)
		}
		adjustments = append(adjustments, adj)
	}
	if err := wb.SetCustomer(workbench.Main, p.Main.CustomerID); err != nil {
		return nil, err
	}
	if err := wb.SetDeliveryAddress(workbench.Main, p.Main.DeliveryAddress); err != nil {
		return nil, err
	}

	for i, v := range p.Additional {
		d := allocator.Draft{CustomerID: v.CustomerID, DeliveryAddress: v.DeliveryAddress}
		for _, item := range v.Items {
			d.Lines = append(d.Lines, allocator.Line{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		_, adj, err := wb.AddAdditionalDraft(d)
		if err != nil {
			return nil, fmt.Errorf("additional voucher %d: %w", i+1, err)
		}
		adjustments = append(adjustments, adj...)
	}
	return adjustments, nil
}
