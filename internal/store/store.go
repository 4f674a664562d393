package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"smartpos/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
)

// NewVoucher is a voucher ready to commit. Lines carry product and quantity;
// prices, totals and numbers are fixed inside the batch transaction.
type NewVoucher struct {
	Request       domain.VoucherRequest
	StaffUsername string
}

// BatchPricer prices one voucher of a batch from the locked stock rows.
// It is called once per voucher, in order, inside the transaction.
type BatchPricer func(req domain.VoucherRequest, products map[int64]domain.StockItem, at time.Time) (domain.Voucher, error)

type Repository interface {
	ListStock(ctx context.Context, filter domain.StockFilter) (domain.Page[domain.StockItem], error)
	GetStock(ctx context.Context, id int64) (*domain.StockItem, error)
	CreateStock(ctx context.Context, item domain.StockItem) (*domain.StockItem, error)
	UpdateStock(ctx context.Context, item domain.StockItem) (*domain.StockItem, error)
	// DeleteStock fails with ErrConflict once the item has been sold.
	DeleteStock(ctx context.Context, id int64) error

	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id int64) (*domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	// DeleteCategory fails with ErrConflict while stock references it.
	DeleteCategory(ctx context.Context, id int64) error

	ListCustomers(ctx context.Context, filter domain.CustomerFilter) (domain.Page[domain.Customer], error)
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id int64) error

	// CreateVoucherBatch locks every referenced product, checks the batch's
	// aggregated quantities against stock, decrements it and stores the
	// priced vouchers, all or nothing. Shortages surface as a
	// *BatchShortageError wrapping ErrInsufficientStock.
	CreateVoucherBatch(ctx context.Context, batch []NewVoucher, price BatchPricer) ([]domain.Voucher, error)
	GetVoucher(ctx context.Context, id int64) (*domain.Voucher, error)
	ListVouchers(ctx context.Context, filter domain.VoucherFilter) (domain.Page[domain.Voucher], error)
	// TotalSold returns lifetime quantity sold per product.
	TotalSold(ctx context.Context, productIDs []int64) (map[int64]int, error)

	DashboardStats(ctx context.Context) (domain.DashboardStats, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 200
)

// PageBounds normalizes a 1-based page number and page size and returns the
// row offset of the first item.
func PageBounds(page, size int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size, (page - 1) * size
}

// Descending reports whether a sort order asks for descending results. An
// empty order defaults to descending.
func Descending(order string) bool {
	return order == "" || strings.EqualFold(order, "desc")
}
