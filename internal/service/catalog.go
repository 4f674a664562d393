package service

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"smartpos/internal/domain"
)

const dateLayout = "2006-01-02"

// MinCustomerSearch is the shortest customer search term accepted.
const MinCustomerSearch = 2

func (s *Service) ListStock(ctx context.Context, filter domain.StockFilter) (domain.Page[domain.StockItem], error) {
	page, err := s.repo.ListStock(ctx, filter)
	if err != nil {
		return domain.Page[domain.StockItem]{}, err
	}
	now := s.now()
	for i := range page.Items {
		page.Items[i] = page.Items[i].WithPricing(now)
	}
	return page, nil
}

func (s *Service) GetStock(ctx context.Context, id int64) (domain.StockItem, error) {
	item, err := s.repo.GetStock(ctx, id)
	if err != nil {
		return domain.StockItem{}, err
	}
	return item.WithPricing(s.now()), nil
}

// CreateStock adds a stock item and stores any uploaded images with it.
func (s *Service) CreateStock(ctx context.Context, req domain.StockRequest, uploads ...ImageUpload) (domain.StockItem, error) {
	if err := requireRole(ctx, domain.RoleManager, domain.RoleStaff); err != nil {
		return domain.StockItem{}, err
	}
	item, err := stockFromRequest(req)
	if err != nil {
		return domain.StockItem{}, err
	}
	if len(uploads) > MaxStockImages {
		return domain.StockItem{}, invalid("a stock item holds at most %d images", MaxStockImages)
	}
	if item.Images, err = s.saveImages(ctx, uploads); err != nil {
		return domain.StockItem{}, err
	}

	created, err := s.repo.CreateStock(ctx, item)
	if err != nil {
		s.removeImages(ctx, item.Images)
		return domain.StockItem{}, err
	}
	s.invalidateStats(ctx)
	s.logAudit(ctx, "stock_create", "stock", strconv.FormatInt(created.ID, 10), snapshot(nil, created))
	return created.WithPricing(s.now()), nil
}

// UpdateStock replaces a stock item's fields. Images listed in
// ImagesToDelete are dropped and their files removed once the update is
// stored; uploads are appended.
func (s *Service) UpdateStock(ctx context.Context, id int64, req domain.StockRequest, uploads ...ImageUpload) (domain.StockItem, error) {
	if err := requireRole(ctx, domain.RoleManager, domain.RoleStaff); err != nil {
		return domain.StockItem{}, err
	}
	existing, err := s.repo.GetStock(ctx, id)
	if err != nil {
		return domain.StockItem{}, err
	}
	item, err := stockFromRequest(req)
	if err != nil {
		return domain.StockItem{}, err
	}
	item.ID = id

	kept, dropped := keepImages(existing.Images, req.ImagesToDelete)
	if len(kept)+len(uploads) > MaxStockImages {
		return domain.StockItem{}, invalid("a stock item holds at most %d images", MaxStockImages)
	}
	added, err := s.saveImages(ctx, uploads)
	if err != nil {
		return domain.StockItem{}, err
	}
	item.Images = append(kept, added...)

	updated, err := s.repo.UpdateStock(ctx, item)
	if err != nil {
		s.removeImages(ctx, added)
		return domain.StockItem{}, err
	}
	s.removeImages(ctx, dropped)
	s.invalidateStats(ctx)
	s.logAudit(ctx, "stock_update", "stock", strconv.FormatInt(id, 10), snapshot(existing, updated))
	return updated.WithPricing(s.now()), nil
}

func (s *Service) DeleteStock(ctx context.Context, id int64) error {
	if err := requireRole(ctx, domain.RoleManager); err != nil {
		return err
	}
	existing, err := s.repo.GetStock(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteStock(ctx, id); err != nil {
		return err
	}
	s.removeImages(ctx, existing.Images)
	s.invalidateStats(ctx)
	s.logAudit(ctx, "stock_delete", "stock", strconv.FormatInt(id, 10), snapshot(existing, nil))
	return nil
}

func stockFromRequest(req domain.StockRequest) (domain.StockItem, error) {
	name := strings.ToLower(strings.TrimSpace(req.Name))
	if name == "" {
		return domain.StockItem{}, invalid("stock item name cannot be empty")
	}
	if !req.Price.IsPositive() {
		return domain.StockItem{}, invalid("price must be greater than zero")
	}
	if req.CostPrice.IsNegative() {
		return domain.StockItem{}, invalid("cost price cannot be negative")
	}
	if req.Quantity < 0 {
		return domain.StockItem{}, invalid("quantity cannot be negative")
	}
	if req.DiscountPercent.IsNegative() || req.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return domain.StockItem{}, invalid("discount percent must be between 0 and 100")
	}

	item := domain.StockItem{
		Name:            name,
		Description:     strings.TrimSpace(req.Description),
		Quantity:        req.Quantity,
		Price:           req.Price.Round(2),
		CostPrice:       req.CostPrice.Round(2),
		CategoryID:      req.CategoryID,
		DiscountPercent: req.DiscountPercent,
	}
	var err error
	if item.ArrivalDate, err = parseDate("arrival_date", req.ArrivalDate, false); err != nil {
		return domain.StockItem{}, err
	}
	if item.DiscountStartDate, err = parseDate("discount_start_date", req.DiscountStartDate, false); err != nil {
		return domain.StockItem{}, err
	}
	if item.DiscountEndDate, err = parseDate("discount_end_date", req.DiscountEndDate, true); err != nil {
		return domain.StockItem{}, err
	}
	if item.DiscountStartDate != nil && item.DiscountEndDate != nil && item.DiscountEndDate.Before(*item.DiscountStartDate) {
		return domain.StockItem{}, invalid("discount_end_date is before discount_start_date")
	}
	return item, nil
}

// parseDate reads a calendar date. An end-of-window date covers the whole day.
func parseDate(field, value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, invalid("%s must be YYYY-MM-DD", field)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	c, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return domain.Category{}, err
	}
	return *c, nil
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryRequest) (domain.Category, error) {
	name := strings.ToUpper(strings.TrimSpace(req.Name))
	if name == "" {
		return domain.Category{}, invalid("category name cannot be empty")
	}
	created, err := s.repo.CreateCategory(ctx, domain.Category{Name: name})
	if err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, "category_create", "category", strconv.FormatInt(created.ID, 10), created.Name)
	return *created, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id int64, req domain.CategoryRequest) (domain.Category, error) {
	name := strings.ToUpper(strings.TrimSpace(req.Name))
	if name == "" {
		return domain.Category{}, invalid("category name cannot be empty")
	}
	updated, err := s.repo.UpdateCategory(ctx, domain.Category{ID: id, Name: name})
	if err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, "category_update", "category", strconv.FormatInt(id, 10), updated.Name)
	return *updated, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	if err := requireRole(ctx, domain.RoleManager); err != nil {
		return err
	}
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "category_delete", "category", strconv.FormatInt(id, 10), "")
	return nil
}

func (s *Service) ListCustomers(ctx context.Context, filter domain.CustomerFilter) (domain.Page[domain.Customer], error) {
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.Search != "" && utf8.RuneCountInString(filter.Search) < MinCustomerSearch {
		return domain.Page[domain.Customer]{}, invalid("search must be at least %d characters", MinCustomerSearch)
	}
	return s.repo.ListCustomers(ctx, filter)
}

func (s *Service) GetCustomer(ctx context.Context, id int64) (domain.Customer, error) {
	c, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *c, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (domain.Customer, error) {
	c, err := customerFromRequest(req)
	if err != nil {
		return domain.Customer{}, err
	}
	created, err := s.repo.CreateCustomer(ctx, c)
	if err != nil {
		return domain.Customer{}, err
	}
	s.invalidateStats(ctx)
	s.logAudit(ctx, "customer_create", "customer", strconv.FormatInt(created.ID, 10), created.Name)
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id int64, req domain.CustomerRequest) (domain.Customer, error) {
	c, err := customerFromRequest(req)
	if err != nil {
		return domain.Customer{}, err
	}
	c.ID = id
	updated, err := s.repo.UpdateCustomer(ctx, c)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_update", "customer", strconv.FormatInt(id, 10), updated.Name)
	return *updated, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id int64) error {
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.invalidateStats(ctx)
	s.logAudit(ctx, "customer_delete", "customer", strconv.FormatInt(id, 10), "")
	return nil
}

func customerFromRequest(req domain.CustomerRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, invalid("customer name cannot be empty")
	}
	if req.Points < 0 {
		return domain.Customer{}, invalid("points cannot be negative")
	}
	return domain.Customer{
		Name:    name,
		Phone:   strings.TrimSpace(req.Phone),
		Email:   strings.TrimSpace(req.Email),
		Address: strings.TrimSpace(req.Address),
		Points:  req.Points,
	}, nil
}
