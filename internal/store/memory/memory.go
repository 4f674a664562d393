package memory

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"smartpos/internal/domain"
	"smartpos/internal/store"
	"smartpos/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	stock           map[int64]domain.StockItem
	categories      map[int64]domain.Category
	customers       map[int64]domain.Customer
	vouchers        map[int64]*domain.Voucher
	voucherNumbers  map[string]int64
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount

	nextStockID       int64
	nextCategoryID    int64
	nextCustomerID    int64
	nextVoucherID     int64
	nextVoucherItemID int64
}

var _ store.Repository = (*Store)(nil)

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_MANAGER_PASSWORD and SEED_STAFF_PASSWORD; when
// unset, dev defaults are used and a warning is logged. The postgres store
// never sees these.
func seedUsers() map[string]domain.UserAccount {
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_MANAGER_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"manager", managerPwd, domain.RoleManager},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store with no users.
func New() *Store {
	return &Store{
		stock:           make(map[int64]domain.StockItem),
		categories:      make(map[int64]domain.Category),
		customers:       make(map[int64]domain.Customer),
		vouchers:        make(map[int64]*domain.Voucher),
		voucherNumbers:  make(map[string]int64),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	for _, name := range []string{"BEVERAGES", "SNACKS", "STATIONERY"} {
		s.nextCategoryID++
		s.categories[s.nextCategoryID] = domain.Category{ID: s.nextCategoryID, Name: name, CreatedAt: now}
	}

	arrival := now.AddDate(0, 0, -14).Truncate(24 * time.Hour)
	saleEnd := now.AddDate(0, 0, 30).Truncate(24 * time.Hour)
	for _, seed := range []struct {
		name     string
		category int64
		qty      int
		price    string
		cost     string
		discount string
	}{
		{"arabica coffee beans 1kg", 1, 40, "18.50", "11.00", "0"},
		{"green tea 25 bags", 1, 60, "4.20", "2.10", "10"},
		{"sparkling water 500ml", 1, 120, "1.10", "0.45", "0"},
		{"salted crackers", 2, 80, "2.75", "1.30", "0"},
		{"dark chocolate bar", 2, 50, "3.40", "1.90", "15"},
		{"ballpoint pen blue", 3, 200, "0.90", "0.30", "0"},
		{"a5 notebook", 3, 75, "3.10", "1.40", "0"},
	} {
		s.nextStockID++
		category := seed.category
		arrived := arrival
		item := domain.StockItem{
			ID:              s.nextStockID,
			Name:            seed.name,
			Quantity:        seed.qty,
			Price:           decimal.RequireFromString(seed.price),
			CostPrice:       decimal.RequireFromString(seed.cost),
			CategoryID:      &category,
			ArrivalDate:     &arrived,
			DiscountPercent: decimal.RequireFromString(seed.discount),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if item.DiscountPercent.IsPositive() {
			start := arrival
			end := saleEnd
			item.DiscountStartDate = &start
			item.DiscountEndDate = &end
		}
		s.stock[item.ID] = item
	}

	for _, seed := range []domain.Customer{
		{Name: "Ada Lovelace", Phone: "555-0101", Email: "ada@example.com", Address: "12 Analytical Row"},
		{Name: "Grace Hopper", Phone: "555-0102", Email: "grace@example.com", Address: "7 Compiler Court"},
	} {
		s.nextCustomerID++
		seed.ID = s.nextCustomerID
		seed.CreatedAt = now
		s.customers[seed.ID] = seed
	}
	return s
}

func (s *Store) ListStock(_ context.Context, filter domain.StockFilter) (domain.Page[domain.StockItem], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sold := s.soldByProduct()
	ids := map[int64]bool{}
	for _, id := range filter.IDs {
		ids[id] = true
	}
	name := strings.ToLower(strings.TrimSpace(filter.Name))

	items := make([]domain.StockItem, 0, len(s.stock))
	for _, raw := range s.stock {
		item := s.decorateStock(raw, sold)
		if len(ids) > 0 && !ids[item.ID] {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(item.Name), name) {
			continue
		}
		if filter.CategoryID != nil && (item.CategoryID == nil || *item.CategoryID != *filter.CategoryID) {
			continue
		}
		if !decimalInRange(item.Price, filter.SellPriceGT, filter.SellPriceLT) ||
			!decimalInRange(item.CostPrice, filter.BuyPriceGT, filter.BuyPriceLT) ||
			!intInRange(item.Quantity, filter.QuantityGT, filter.QuantityLT) ||
			!intInRange(item.TotalSold, filter.TotalSoldGT, filter.TotalSoldLT) {
			continue
		}
		if filter.ArrivalDateEq != nil && (item.ArrivalDate == nil || !sameDay(*item.ArrivalDate, *filter.ArrivalDateEq)) {
			continue
		}
		if filter.ArrivalDateStart != nil && filter.ArrivalDateEnd != nil {
			if item.ArrivalDate == nil || item.ArrivalDate.Before(*filter.ArrivalDateStart) || item.ArrivalDate.After(*filter.ArrivalDateEnd) {
				continue
			}
		}
		items = append(items, item)
	}

	desc := store.Descending(filter.SortOrder)
	slices.SortFunc(items, func(a, b domain.StockItem) int {
		c := compareStock(a, b, filter.SortBy)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if desc {
			return -c
		}
		return c
	})

	return paginate(items, filter.Page, filter.Size), nil
}

func (s *Store) GetStock(_ context.Context, id int64) (*domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.stock[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	decorated := s.decorateStock(item, s.soldByProduct())
	return &decorated, nil
}

func (s *Store) CreateStock(_ context.Context, item domain.StockItem) (*domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkStockWrite(item, 0); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	s.nextStockID++
	item.ID = s.nextStockID
	item.TotalSold = 0
	item.LastSoldAt = nil
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.ArrivalDate == nil {
		arrived := now
		item.ArrivalDate = &arrived
	}
	s.stock[item.ID] = cloneStockItem(item)

	decorated := s.decorateStock(item, nil)
	return &decorated, nil
}

func (s *Store) UpdateStock(_ context.Context, item domain.StockItem) (*domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.stock[item.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := s.checkStockWrite(item, item.ID); err != nil {
		return nil, err
	}
	item.CreatedAt = existing.CreatedAt
	item.LastSoldAt = existing.LastSoldAt
	item.UpdatedAt = time.Now().UTC()
	if item.ArrivalDate == nil {
		item.ArrivalDate = existing.ArrivalDate
	}
	s.stock[item.ID] = cloneStockItem(item)

	decorated := s.decorateStock(item, s.soldByProduct())
	return &decorated, nil
}

func (s *Store) DeleteStock(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stock[id]; !ok {
		return store.ErrNotFound
	}
	if s.soldByProduct()[id] > 0 {
		return fmt.Errorf("%w: stock %d has sales history", store.ErrConflict, id)
	}
	delete(s.stock, id)
	return nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) GetCategory(_ context.Context, id int64) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.categoryNameTaken(category.Name, 0) {
		return nil, fmt.Errorf("%w: category %q exists", store.ErrConflict, category.Name)
	}
	s.nextCategoryID++
	category.ID = s.nextCategoryID
	category.CreatedAt = time.Now().UTC()
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) UpdateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.categories[category.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.categoryNameTaken(category.Name, category.ID) {
		return nil, fmt.Errorf("%w: category %q exists", store.ErrConflict, category.Name)
	}
	existing.Name = category.Name
	s.categories[existing.ID] = existing
	return &existing, nil
}

func (s *Store) DeleteCategory(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[id]; !ok {
		return store.ErrNotFound
	}
	for _, item := range s.stock {
		if item.CategoryID != nil && *item.CategoryID == id {
			return fmt.Errorf("%w: category %d is used by stock", store.ErrConflict, id)
		}
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) ListCustomers(_ context.Context, filter domain.CustomerFilter) (domain.Page[domain.Customer], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if search != "" &&
			!strings.Contains(strings.ToLower(c.Name), search) &&
			!strings.Contains(strings.ToLower(c.Phone), search) {
			continue
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return paginate(customers, filter.Page, filter.Size), nil
}

func (s *Store) GetCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phoneTaken(customer.Phone, 0) {
		return nil, fmt.Errorf("%w: phone %s already registered", store.ErrConflict, customer.Phone)
	}
	s.nextCustomerID++
	customer.ID = s.nextCustomerID
	customer.CreatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customers[customer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.phoneTaken(customer.Phone, customer.ID) {
		return nil, fmt.Errorf("%w: phone %s already registered", store.ErrConflict, customer.Phone)
	}
	customer.CreatedAt = existing.CreatedAt
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.customers, id)
	for _, v := range s.vouchers {
		if v.CustomerID != nil && *v.CustomerID == id {
			v.CustomerID = nil
		}
	}
	return nil
}

func (s *Store) CreateVoucherBatch(_ context.Context, batch []store.NewVoucher, price store.BatchPricer) ([]domain.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals, order := store.BatchQuantities(batch)
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: batch has no items", store.ErrInvalidInput)
	}

	products := make(map[int64]domain.StockItem, len(order))
	missing := make([]int64, 0)
	for _, id := range order {
		item, ok := s.stock[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		products[id] = cloneStockItem(item)
	}
	if len(missing) > 0 {
		return nil, store.NewMissingProductsError(missing)
	}
	for _, id := range order {
		if requested := totals[id]; products[id].Quantity < requested {
			return nil, &store.BatchShortageError{
				ProductID: id,
				Name:      products[id].Name,
				Available: products[id].Quantity,
				Requested: requested,
			}
		}
	}

	now := time.Now().UTC()
	priced := make([]domain.Voucher, 0, len(batch))
	numbers := map[string]bool{}
	for _, nv := range batch {
		if nv.Request.CustomerID != nil {
			if _, ok := s.customers[*nv.Request.CustomerID]; !ok {
				return nil, fmt.Errorf("%w: customer %d", store.ErrNotFound, *nv.Request.CustomerID)
			}
		}
		v, err := price(nv.Request, products, now)
		if err != nil {
			return nil, err
		}
		if v.VoucherNumber == "" {
			v.VoucherNumber = xid.VoucherNumber(now)
		}
		if _, taken := s.voucherNumbers[v.VoucherNumber]; taken || numbers[v.VoucherNumber] {
			return nil, fmt.Errorf("%w: voucher number %s", store.ErrConflict, v.VoucherNumber)
		}
		numbers[v.VoucherNumber] = true
		v.StaffUsername = nv.StaffUsername
		v.CreatedAt = now
		priced = append(priced, v)
	}

	for id, qty := range totals {
		item := s.stock[id]
		item.Quantity -= qty
		sold := now
		item.LastSoldAt = &sold
		item.UpdatedAt = now
		s.stock[id] = item
	}

	created := make([]domain.Voucher, 0, len(priced))
	for _, v := range priced {
		s.nextVoucherID++
		v.ID = s.nextVoucherID
		for i := range v.Items {
			s.nextVoucherItemID++
			v.Items[i].ID = s.nextVoucherItemID
		}
		stored := cloneVoucher(v)
		s.vouchers[v.ID] = &stored
		s.voucherNumbers[v.VoucherNumber] = v.ID
		created = append(created, s.withCustomer(stored))
	}
	return created, nil
}

func (s *Store) GetVoucher(_ context.Context, id int64) (*domain.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vouchers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := s.withCustomer(*v)
	return &out, nil
}

func (s *Store) ListVouchers(_ context.Context, filter domain.VoucherFilter) (domain.Page[domain.Voucher], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customerName := strings.ToLower(strings.TrimSpace(filter.CustomerName))
	vouchers := make([]domain.Voucher, 0, len(s.vouchers))
	for _, stored := range s.vouchers {
		v := s.withCustomer(*stored)
		if customerName != "" && (v.Customer == nil || !strings.Contains(strings.ToLower(v.Customer.Name), customerName)) {
			continue
		}
		if filter.Staff != "" && v.StaffUsername != filter.Staff {
			continue
		}
		if filter.StartDate != nil && v.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && v.CreatedAt.After(*filter.EndDate) {
			continue
		}
		vouchers = append(vouchers, v)
	}

	desc := store.Descending(filter.SortOrder)
	slices.SortFunc(vouchers, func(a, b domain.Voucher) int {
		var c int
		switch filter.SortBy {
		case "id":
		case "total_amount":
			c = a.TotalAmount.Cmp(b.TotalAmount)
		case "voucher_number":
			c = cmp.Compare(a.VoucherNumber, b.VoucherNumber)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if desc {
			return -c
		}
		return c
	})
	return paginate(vouchers, filter.Page, filter.Size), nil
}

func (s *Store) TotalSold(_ context.Context, productIDs []int64) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sold := s.soldByProduct()
	out := make(map[int64]int, len(productIDs))
	for _, id := range productIDs {
		out[id] = sold[id]
	}
	return out, nil
}

func (s *Store) DashboardStats(_ context.Context) (domain.DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.DashboardStats{
		TotalRevenue:   decimal.Zero,
		VouchersIssued: len(s.vouchers),
		NewCustomers:   len(s.customers),
	}
	for _, v := range s.vouchers {
		stats.TotalRevenue = stats.TotalRevenue.Add(v.TotalAmount)
	}
	for _, item := range s.stock {
		stats.ProductsInStock += item.Quantity
	}
	return stats, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := slices.Clone(s.auditLogs)
	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// soldByProduct must be called with s.mu held.
func (s *Store) soldByProduct() map[int64]int {
	sold := map[int64]int{}
	for _, v := range s.vouchers {
		for _, line := range v.Items {
			sold[line.ProductID] += line.Quantity
		}
	}
	return sold
}

func (s *Store) decorateStock(item domain.StockItem, sold map[int64]int) domain.StockItem {
	item = cloneStockItem(item)
	item.TotalSold = sold[item.ID]
	item.CategoryName = ""
	if item.CategoryID != nil {
		item.CategoryName = s.categories[*item.CategoryID].Name
	}
	return item
}

func (s *Store) checkStockWrite(item domain.StockItem, selfID int64) error {
	for _, other := range s.stock {
		if other.ID != selfID && other.Name == item.Name {
			return fmt.Errorf("%w: stock item %q exists", store.ErrConflict, item.Name)
		}
	}
	if item.CategoryID != nil {
		if _, ok := s.categories[*item.CategoryID]; !ok {
			return fmt.Errorf("%w: category %d does not exist", store.ErrInvalidInput, *item.CategoryID)
		}
	}
	return nil
}

func (s *Store) categoryNameTaken(name string, selfID int64) bool {
	for _, c := range s.categories {
		if c.ID != selfID && c.Name == name {
			return true
		}
	}
	return false
}

func (s *Store) phoneTaken(phone string, selfID int64) bool {
	if phone == "" {
		return false
	}
	for _, c := range s.customers {
		if c.ID != selfID && c.Phone == phone {
			return true
		}
	}
	return false
}

func (s *Store) withCustomer(v domain.Voucher) domain.Voucher {
	v = cloneVoucher(v)
	v.Customer = nil
	if v.CustomerID != nil {
		if c, ok := s.customers[*v.CustomerID]; ok {
			v.Customer = &c
		}
	}
	return v
}

func compareStock(a, b domain.StockItem, field string) int {
	switch field {
	case "name":
		return cmp.Compare(a.Name, b.Name)
	case "quantity":
		return cmp.Compare(a.Quantity, b.Quantity)
	case "price":
		return a.Price.Cmp(b.Price)
	case "cost_price":
		return a.CostPrice.Cmp(b.CostPrice)
	case "total_sold":
		return cmp.Compare(a.TotalSold, b.TotalSold)
	case "arrival_date":
		return compareTime(a.ArrivalDate, b.ArrivalDate)
	case "last_sold_at":
		return compareTime(a.LastSoldAt, b.LastSoldAt)
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "updated_at":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	default:
		return cmp.Compare(a.ID, b.ID)
	}
}

func compareTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

func decimalInRange(v decimal.Decimal, gt, lt *decimal.Decimal) bool {
	if gt != nil && !v.GreaterThan(*gt) {
		return false
	}
	if lt != nil && !v.LessThan(*lt) {
		return false
	}
	return true
}

func intInRange(v int, gt, lt *int) bool {
	if gt != nil && v <= *gt {
		return false
	}
	if lt != nil && v >= *lt {
		return false
	}
	return true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func paginate[T any](items []T, page, size int) domain.Page[T] {
	page, size, offset := store.PageBounds(page, size)
	out := domain.Page[T]{Items: []T{}, Total: len(items), Page: page, Size: size}
	if offset >= len(items) {
		return out
	}
	end := min(offset+size, len(items))
	out.Items = items[offset:end]
	return out
}

func cloneStockItem(src domain.StockItem) domain.StockItem {
	dst := src
	dst.CategoryID = cloneInt64(src.CategoryID)
	dst.ArrivalDate = cloneTime(src.ArrivalDate)
	dst.LastSoldAt = cloneTime(src.LastSoldAt)
	dst.DiscountStartDate = cloneTime(src.DiscountStartDate)
	dst.DiscountEndDate = cloneTime(src.DiscountEndDate)
	dst.Images = slices.Clone(src.Images)
	if src.SalePrice != nil {
		price := *src.SalePrice
		dst.SalePrice = &price
	}
	return dst
}

func cloneVoucher(src domain.Voucher) domain.Voucher {
	dst := src
	dst.CustomerID = cloneInt64(src.CustomerID)
	dst.Items = slices.Clone(src.Items)
	if src.Customer != nil {
		c := *src.Customer
		dst.Customer = &c
	}
	return dst
}

func cloneInt64(src *int64) *int64 {
	if src == nil {
		return nil
	}
	v := *src
	return &v
}

func cloneTime(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	v := *src
	return &v
}
