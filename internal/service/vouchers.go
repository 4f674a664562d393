package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"smartpos/internal/domain"
	"smartpos/internal/logging"
	"smartpos/internal/receipt"
	"smartpos/internal/store"
	"smartpos/internal/xid"
)

var hundred = decimal.NewFromInt(100)

// CreateVouchers commits a batch of vouchers atomically. Stock is checked
// against the quantities summed across every voucher of the batch.
func (s *Service) CreateVouchers(ctx context.Context, req domain.VoucherBatchRequest) ([]domain.Voucher, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}

	batch := make([]store.NewVoucher, 0, len(req.Vouchers))
	lines := 0
	for i, v := range req.Vouchers {
		if v.DiscountPercentage.IsNegative() || v.DiscountPercentage.GreaterThan(hundred) {
			return nil, s.rejectBatch(ctx, "invalid", invalid("voucher %d: discount_percentage must be between 0 and 100", i+1))
		}
		if v.DiscountAmount.IsNegative() {
			return nil, s.rejectBatch(ctx, "invalid", invalid("voucher %d: discount_amount cannot be negative", i+1))
		}
		for _, item := range v.Items {
			if item.Quantity < 1 {
				return nil, s.rejectBatch(ctx, "invalid", invalid("voucher %d: quantity must be at least 1", i+1))
			}
		}
		lines += len(v.Items)
		v.DeliveryAddress = strings.TrimSpace(v.DeliveryAddress)
		batch = append(batch, store.NewVoucher{Request: v, StaffUsername: actor.Username})
	}
	if lines == 0 {
		return nil, s.rejectBatch(ctx, "empty", invalid("Batch voucher creation cannot be with no items."))
	}

	created, err := s.repo.CreateVoucherBatch(ctx, batch, priceVoucher)
	if err != nil {
		return nil, s.rejectBatch(ctx, rejectReason(err), err)
	}

	s.metrics.AddVouchersCreated(len(created))
	s.invalidateStats(ctx)
	numbers := make([]string, 0, len(created))
	for _, v := range created {
		numbers = append(numbers, v.VoucherNumber)
		s.logAudit(ctx, "voucher_create", "voucher", strconv.FormatInt(v.ID, 10),
			fmt.Sprintf("number=%s,total=%s,items=%d", v.VoucherNumber, v.TotalAmount.StringFixed(2), len(v.Items)))
	}
	logging.FromContext(ctx).Info().
		Int("vouchers", len(created)).
		Strs("numbers", numbers).
		Msg("voucher batch committed")
	return created, nil
}

func (s *Service) rejectBatch(ctx context.Context, reason string, err error) error {
	s.metrics.IncBatchRejected(reason)
	logging.FromContext(ctx).Info().Err(err).Str("reason", reason).Msg("voucher batch rejected")
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	}
	return "error"
}

// priceVoucher charges each line the unit price in effect at the moment of
// sale and applies the voucher's percentage and then flat discount.
func priceVoucher(req domain.VoucherRequest, products map[int64]domain.StockItem, at time.Time) (domain.Voucher, error) {
	v := domain.Voucher{
		VoucherNumber:      xid.VoucherNumber(at),
		DiscountPercentage: req.DiscountPercentage,
		DiscountAmount:     req.DiscountAmount,
		CustomerID:         req.CustomerID,
		DeliveryAddress:    req.DeliveryAddress,
		Items:              make([]domain.VoucherItem, 0, len(req.Items)),
	}
	for _, line := range req.Items {
		product, ok := products[line.ProductID]
		if !ok {
			return domain.Voucher{}, store.NewMissingProductsError([]int64{line.ProductID})
		}
		price := product.UnitPriceAt(at)
		v.Items = append(v.Items, domain.VoucherItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			PriceAtSale: price,
			Subtotal:    price.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2),
		})
	}
	v.TotalDiscount, v.TotalAmount = domain.VoucherTotals(v.Subtotal(), req.DiscountPercentage, req.DiscountAmount)
	return v, nil
}

func (s *Service) ListVouchers(ctx context.Context, filter domain.VoucherFilter) (domain.Page[domain.Voucher], error) {
	return s.repo.ListVouchers(ctx, filter)
}

// GetVoucher returns a voucher whose lines carry each product's lifetime
// quantity sold.
func (s *Service) GetVoucher(ctx context.Context, id int64) (domain.Voucher, error) {
	v, err := s.repo.GetVoucher(ctx, id)
	if err != nil {
		return domain.Voucher{}, err
	}
	ids := make([]int64, 0, len(v.Items))
	for _, item := range v.Items {
		ids = append(ids, item.ProductID)
	}
	sold, err := s.repo.TotalSold(ctx, ids)
	if err != nil {
		return domain.Voucher{}, err
	}
	for i := range v.Items {
		v.Items[i].TotalQuantitySold = sold[v.Items[i].ProductID]
	}
	return *v, nil
}

type ReceiptFormat string

const (
	ReceiptPNG    ReceiptFormat = "png"
	ReceiptText   ReceiptFormat = "text"
	ReceiptESCPOS ReceiptFormat = "escpos"
)

type ReceiptDocument struct {
	Body        []byte
	ContentType string
	FileName    string
}

func (s *Service) Receipt(ctx context.Context, id int64, format ReceiptFormat) (ReceiptDocument, error) {
	v, err := s.repo.GetVoucher(ctx, id)
	if err != nil {
		return ReceiptDocument{}, err
	}

	base := strings.TrimSuffix(receipt.FileName(*v), ".png")
	switch format {
	case "", ReceiptPNG:
		body, err := receipt.PNG(*v, s.header)
		if err != nil {
			return ReceiptDocument{}, err
		}
		return ReceiptDocument{Body: body, ContentType: "image/png", FileName: base + ".png"}, nil
	case ReceiptText:
		return ReceiptDocument{
			Body:        []byte(receipt.Text(*v, s.header)),
			ContentType: "text/plain; charset=utf-8",
			FileName:    base + ".txt",
		}, nil
	case ReceiptESCPOS:
		return ReceiptDocument{
			Body:        receipt.ESCPOS(*v, s.header),
			ContentType: "application/octet-stream",
			FileName:    base + ".bin",
		}, nil
	}
	return ReceiptDocument{}, invalid("unknown receipt format %q", format)
}
