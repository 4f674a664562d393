package domain

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleManager = "manager"
	RoleStaff   = "staff"
)

var hundred = decimal.NewFromInt(100)

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Page is the envelope every paginated listing returns.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"size"`
}

// Pages reports how many pages of Size items cover Total.
func (p Page[T]) Pages() int {
	if p.Size < 1 || p.Total < 1 {
		return 0
	}
	return (p.Total + p.Size - 1) / p.Size
}

type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type CategoryRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type StockItem struct {
	ID                int64            `json:"id"`
	Name              string           `json:"name"`
	Description       string           `json:"description,omitempty"`
	Quantity          int              `json:"quantity"`
	Price             decimal.Decimal  `json:"price"`
	CostPrice         decimal.Decimal  `json:"cost_price"`
	CategoryID        *int64           `json:"category_id,omitempty"`
	CategoryName      string           `json:"category_name,omitempty"`
	ArrivalDate       *time.Time       `json:"arrival_date,omitempty"`
	LastSoldAt        *time.Time       `json:"last_sold_at,omitempty"`
	DiscountPercent   decimal.Decimal  `json:"discount_percent"`
	DiscountStartDate *time.Time       `json:"discount_start_date,omitempty"`
	DiscountEndDate   *time.Time       `json:"discount_end_date,omitempty"`
	TotalSold         int              `json:"total_sold"`
	IsOnSale          bool             `json:"is_on_sale"`
	SalePrice         *decimal.Decimal `json:"sale_price,omitempty"`
	Images            []string         `json:"images"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// OnSaleAt reports whether the item's discount window contains now. A
// missing start or end date leaves that side of the window open.
func (s StockItem) OnSaleAt(now time.Time) bool {
	if !s.DiscountPercent.IsPositive() {
		return false
	}
	if s.DiscountStartDate != nil && now.Before(*s.DiscountStartDate) {
		return false
	}
	if s.DiscountEndDate != nil && now.After(*s.DiscountEndDate) {
		return false
	}
	return true
}

// UnitPriceAt is the price a sale at now is charged per unit.
func (s StockItem) UnitPriceAt(now time.Time) decimal.Decimal {
	if !s.OnSaleAt(now) {
		return s.Price
	}
	factor := hundred.Sub(s.DiscountPercent).Div(hundred)
	return s.Price.Mul(factor).Round(2)
}

// WithPricing fills the derived sale fields for a listing taken at now. A
// missing image list is returned empty.
func (s StockItem) WithPricing(now time.Time) StockItem {
	s.IsOnSale = s.OnSaleAt(now)
	s.SalePrice = nil
	if s.IsOnSale {
		price := s.UnitPriceAt(now)
		s.SalePrice = &price
	}
	if s.Images == nil {
		s.Images = []string{}
	}
	return s
}

type StockRequest struct {
	Name              string          `json:"name" validate:"required,max=255"`
	Description       string          `json:"description" validate:"max=2000"`
	Quantity          int             `json:"quantity" validate:"gte=0"`
	Price             decimal.Decimal `json:"price"`
	CostPrice         decimal.Decimal `json:"cost_price"`
	CategoryID        *int64          `json:"category_id" validate:"omitempty,gt=0"`
	ArrivalDate       string          `json:"arrival_date" validate:"omitempty,datetime=2006-01-02"`
	DiscountPercent   decimal.Decimal `json:"discount_percent"`
	DiscountStartDate string          `json:"discount_start_date" validate:"omitempty,datetime=2006-01-02"`
	DiscountEndDate   string          `json:"discount_end_date" validate:"omitempty,datetime=2006-01-02"`
	ImagesToDelete    []string        `json:"images_to_delete" validate:"max=20,dive,required"`
}

// StockFilter narrows a stock listing. Nil bounds are not applied.
type StockFilter struct {
	Name             string
	CategoryID       *int64
	SellPriceGT      *decimal.Decimal
	SellPriceLT      *decimal.Decimal
	BuyPriceGT       *decimal.Decimal
	BuyPriceLT       *decimal.Decimal
	QuantityGT       *int
	QuantityLT       *int
	TotalSoldGT      *int
	TotalSoldLT      *int
	ArrivalDateEq    *time.Time
	ArrivalDateStart *time.Time
	ArrivalDateEnd   *time.Time
	IDs              []int64
	SortBy           string
	SortOrder        string
	Page             int
	Size             int
}

// StockQuery is the client side of a stock listing request.
type StockQuery struct {
	Page       int
	Limit      int
	Name       string
	CategoryID *int64
	IDs        []int64
	SortBy     string
	SortOrder  string
}

func (q StockQuery) Values() url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if name := strings.TrimSpace(q.Name); name != "" {
		v.Set("name", name)
	}
	if q.CategoryID != nil {
		v.Set("category_id", strconv.FormatInt(*q.CategoryID, 10))
	}
	if len(q.IDs) > 0 {
		ids := make([]string, 0, len(q.IDs))
		for _, id := range q.IDs {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		v.Set("ids", strings.Join(ids, ","))
	}
	if q.SortBy != "" {
		v.Set("sort_by", q.SortBy)
	}
	if q.SortOrder != "" {
		v.Set("sort_order", q.SortOrder)
	}
	return v
}

type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	Phone   string `json:"phone" validate:"max=32"`
	Email   string `json:"email" validate:"omitempty,email"`
	Address string `json:"address" validate:"max=500"`
	Points  int    `json:"points" validate:"gte=0"`
}

type CustomerFilter struct {
	Search string
	Page   int
	Size   int
}

type Voucher struct {
	ID                 int64           `json:"id"`
	VoucherNumber      string          `json:"voucher_number"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	TotalDiscount      decimal.Decimal `json:"total_discount"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	StaffUsername      string          `json:"staff_username"`
	CustomerID         *int64          `json:"customer_id,omitempty"`
	Customer           *Customer       `json:"customer,omitempty"`
	DeliveryAddress    string          `json:"delivery_address,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	Items              []VoucherItem   `json:"items"`
}

// Subtotal is the sum of line subtotals before voucher-level discounts.
func (v Voucher) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range v.Items {
		total = total.Add(item.Subtotal)
	}
	return total
}

type VoucherItem struct {
	ID                int64           `json:"id,omitempty"`
	ProductID         int64           `json:"product_id"`
	ProductName       string          `json:"product_name"`
	Quantity          int             `json:"quantity"`
	PriceAtSale       decimal.Decimal `json:"price_at_sale"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	TotalQuantitySold int             `json:"total_quantity_sold,omitempty"`
}

type VoucherItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

type VoucherRequest struct {
	Items              []VoucherItemRequest `json:"items" validate:"dive"`
	CustomerID         *int64               `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	DeliveryAddress    string               `json:"delivery_address,omitempty" validate:"max=500"`
	DiscountPercentage decimal.Decimal      `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal      `json:"discount_amount"`
}

type VoucherBatchRequest struct {
	Vouchers []VoucherRequest `json:"vouchers" validate:"dive"`
}

type VoucherFilter struct {
	CustomerName string
	Staff        string
	StartDate    *time.Time
	EndDate      *time.Time
	SortBy       string
	SortOrder    string
	Page         int
	Size         int
}

// VoucherTotals applies the percentage discount and then the flat amount to
// subtotal. The total never drops below zero.
func VoucherTotals(subtotal, percentage, amount decimal.Decimal) (discount decimal.Decimal, total decimal.Decimal) {
	discount = subtotal.Mul(percentage).Div(hundred).Add(amount).Round(2)
	total = subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return discount, total
}

type DashboardStats struct {
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	VouchersIssued  int             `json:"vouchers_issued"`
	NewCustomers    int             `json:"new_customers"`
	ProductsInStock int             `json:"products_in_stock"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
