package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"smartpos/internal/domain"
	"smartpos/internal/store"
	"smartpos/internal/xid"
)

//go:embed migrations/*.sql
var migrations embed.FS

const batchAttempts = 3

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var stockSortColumns = map[string]string{
	"id":           "s.id",
	"name":         "s.name",
	"quantity":     "s.quantity",
	"price":        "s.price",
	"cost_price":   "s.cost_price",
	"total_sold":   "COALESCE(sold.total_sold, 0)",
	"arrival_date": "s.arrival_date",
	"last_sold_at": "s.last_sold_at",
	"created_at":   "s.created_at",
	"updated_at":   "s.updated_at",
}

var voucherSortColumns = map[string]string{
	"id":             "v.id",
	"created_at":     "v.created_at",
	"total_amount":   "v.total_amount",
	"voucher_number": "v.voucher_number",
}

const stockFrom = `
	FROM stock s
	LEFT JOIN categories c ON c.id = s.category_id
	LEFT JOIN (
		SELECT product_id, SUM(quantity) AS total_sold
		FROM voucher_items
		GROUP BY product_id
	) sold ON sold.product_id = s.id
`

func stockColumns(soldExpr string) string {
	return `s.id, s.name, s.description, s.quantity, s.price, s.cost_price, s.category_id,
		COALESCE(c.name, ''), s.arrival_date, s.last_sold_at, s.discount_percent,
		s.discount_start_date, s.discount_end_date, ` + soldExpr + `, s.created_at, s.updated_at, s.images`
}

func (s *Store) ListStock(ctx context.Context, filter domain.StockFilter) (domain.Page[domain.StockItem], error) {
	page, size, offset := store.PageBounds(filter.Page, filter.Size)
	out := domain.Page[domain.StockItem]{Items: []domain.StockItem{}, Page: page, Size: size}

	var w where
	if len(filter.IDs) > 0 {
		w.add("s.id = ANY($%d)", filter.IDs)
	}
	if name := strings.TrimSpace(filter.Name); name != "" {
		w.add("s.name ILIKE $%d", "%"+name+"%")
	}
	if filter.CategoryID != nil {
		w.add("s.category_id = $%d", *filter.CategoryID)
	}
	addDecimalRange(&w, "s.price", filter.SellPriceGT, filter.SellPriceLT)
	addDecimalRange(&w, "s.cost_price", filter.BuyPriceGT, filter.BuyPriceLT)
	addIntRange(&w, "s.quantity", filter.QuantityGT, filter.QuantityLT)
	addIntRange(&w, "COALESCE(sold.total_sold, 0)", filter.TotalSoldGT, filter.TotalSoldLT)
	if filter.ArrivalDateEq != nil {
		w.add("s.arrival_date::date = $%d::date", *filter.ArrivalDateEq)
	}
	if filter.ArrivalDateStart != nil && filter.ArrivalDateEnd != nil {
		w.add("s.arrival_date >= $%d", *filter.ArrivalDateStart)
		w.add("s.arrival_date <= $%d", *filter.ArrivalDateEnd)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) `+stockFrom+w.sql(), w.args...).Scan(&out.Total); err != nil {
		return out, err
	}

	order := orderBy(stockSortColumns, filter.SortBy, "s.id", filter.SortOrder, "s.id")
	args := append(w.args, size, offset)
	query := fmt.Sprintf(`SELECT %s %s %s %s LIMIT $%d OFFSET $%d`,
		stockColumns("COALESCE(sold.total_sold, 0)"), stockFrom, w.sql(), order, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanStock(rows)
		if err != nil {
			return out, err
		}
		out.Items = append(out.Items, item)
	}
	return out, rows.Err()
}

func (s *Store) GetStock(ctx context.Context, id int64) (*domain.StockItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stockColumns("COALESCE(sold.total_sold, 0)")+stockFrom+` WHERE s.id = $1`, id)
	item, err := scanStock(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateStock(ctx context.Context, item domain.StockItem) (*domain.StockItem, error) {
	now := time.Now().UTC()
	if item.ArrivalDate == nil {
		item.ArrivalDate = &now
	}

	images, err := imagesJSON(item.Images)
	if err != nil {
		return nil, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO stock (
			name, description, quantity, price, cost_price, category_id, arrival_date,
			discount_percent, discount_start_date, discount_end_date, created_at, updated_at, images
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11,$12::jsonb)
		RETURNING id
	`, item.Name, item.Description, item.Quantity, item.Price, item.CostPrice, nullInt64(item.CategoryID),
		nullTime(item.ArrivalDate), item.DiscountPercent, nullTime(item.DiscountStartDate), nullTime(item.DiscountEndDate), now,
		images,
	).Scan(&id)
	if err != nil {
		return nil, mapWriteError(err, "stock item "+item.Name)
	}
	return s.GetStock(ctx, id)
}

func (s *Store) UpdateStock(ctx context.Context, item domain.StockItem) (*domain.StockItem, error) {
	images, err := imagesJSON(item.Images)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock
		SET name = $2, description = $3, quantity = $4, price = $5, cost_price = $6, category_id = $7,
			arrival_date = COALESCE($8, arrival_date), discount_percent = $9,
			discount_start_date = $10, discount_end_date = $11, images = $12::jsonb, updated_at = now()
		WHERE id = $1
	`, item.ID, item.Name, item.Description, item.Quantity, item.Price, item.CostPrice, nullInt64(item.CategoryID),
		nullTime(item.ArrivalDate), item.DiscountPercent, nullTime(item.DiscountStartDate), nullTime(item.DiscountEndDate),
		images)
	if err != nil {
		return nil, mapWriteError(err, "stock item "+item.Name)
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return s.GetStock(ctx, item.ID)
}

func (s *Store) DeleteStock(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var sold bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM voucher_items WHERE product_id = s.id)
		FROM stock s
		WHERE s.id = $1
		FOR UPDATE OF s
	`, id).Scan(&sold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if sold {
		return fmt.Errorf("%w: stock %d has sales history", store.ErrConflict, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stock WHERE id = $1`, id); err != nil {
		return mapWriteError(err, fmt.Sprintf("stock %d", id))
	}
	return tx.Commit()
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	var c domain.Category
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM categories WHERE id = $1`, id).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (name) VALUES ($1)
		RETURNING id, created_at
	`, category.Name).Scan(&category.ID, &category.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err, "category "+category.Name)
	}
	category.CreatedAt = category.CreatedAt.UTC()
	return &category, nil
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE categories SET name = $2 WHERE id = $1
		RETURNING created_at
	`, category.ID, category.Name).Scan(&category.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapWriteError(err, "category "+category.Name)
	}
	category.CreatedAt = category.CreatedAt.UTC()
	return &category, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return mapWriteError(err, fmt.Sprintf("category %d", id))
	}
	return expectAffected(res)
}

const customerColumns = `id, name, phone, email, address, points, created_at`

func (s *Store) ListCustomers(ctx context.Context, filter domain.CustomerFilter) (domain.Page[domain.Customer], error) {
	page, size, offset := store.PageBounds(filter.Page, filter.Size)
	out := domain.Page[domain.Customer]{Items: []domain.Customer{}, Page: page, Size: size}

	var w where
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		w.add("(name ILIKE $%[1]d OR phone ILIKE $%[1]d)", pattern)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`+w.sql(), w.args...).Scan(&out.Total); err != nil {
		return out, err
	}

	args := append(w.args, size, offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM customers %s
		ORDER BY id ASC
		LIMIT $%d OFFSET $%d
	`, customerColumns, w.sql(), len(args)-1, len(args)), args...)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return out, err
		}
		out.Items = append(out.Items, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (name, phone, email, address, points)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING `+customerColumns,
		customer.Name, nullIfEmpty(customer.Phone), customer.Email, customer.Address, customer.Points)
	created, err := scanCustomer(row)
	if err != nil {
		return nil, mapWriteError(err, "customer phone "+customer.Phone)
	}
	return &created, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, email = $4, address = $5, points = $6
		WHERE id = $1
		RETURNING `+customerColumns,
		customer.ID, customer.Name, nullIfEmpty(customer.Phone), customer.Email, customer.Address, customer.Points)
	updated, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapWriteError(err, "customer phone "+customer.Phone)
	}
	return &updated, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// CreateVoucherBatch retries serialization failures a few times before giving
// up with store.ErrConflict.
func (s *Store) CreateVoucherBatch(ctx context.Context, batch []store.NewVoucher, price store.BatchPricer) ([]domain.Voucher, error) {
	totals, order := store.BatchQuantities(batch)
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: batch has no items", store.ErrInvalidInput)
	}

	var lastErr error
	for attempt := 0; attempt < batchAttempts; attempt++ {
		ids, err := s.createVoucherBatch(ctx, batch, price, totals, order)
		if err == nil {
			return s.loadVouchers(ctx, s.db, ids)
		}
		if !isSerializationFailure(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", store.ErrConflict, lastErr)
}

func (s *Store) createVoucherBatch(ctx context.Context, batch []store.NewVoucher, price store.BatchPricer, totals map[int64]int, order []int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+stockColumns("0")+`
		FROM stock s
		LEFT JOIN categories c ON c.id = s.category_id
		WHERE s.id = ANY($1)
		ORDER BY s.id
		FOR UPDATE OF s
	`, order)
	if err != nil {
		return nil, err
	}
	products := make(map[int64]domain.StockItem, len(order))
	for rows.Next() {
		item, err := scanStock(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		products[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	missing := make([]int64, 0)
	for _, id := range order {
		if _, ok := products[id]; !ok {
			missing = append(missing, id)
		}
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
	if err := checkCustomers(ctx, tx, batch); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ids := make([]int64, 0, len(batch))
	for _, nv := range batch {
		v, err := price(nv.Request, products, now)
		if err != nil {
			return nil, err
		}
		if v.VoucherNumber == "" {
			v.VoucherNumber = xid.VoucherNumber(now)
		}

		var voucherID int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO vouchers (
				voucher_number, total_amount, total_discount, discount_percentage, discount_amount,
				staff_username, customer_id, delivery_address, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id
		`, v.VoucherNumber, v.TotalAmount, v.TotalDiscount, v.DiscountPercentage, v.DiscountAmount,
			nv.StaffUsername, nullInt64(v.CustomerID), v.DeliveryAddress, now,
		).Scan(&voucherID)
		if err != nil {
			return nil, mapWriteError(err, "voucher "+v.VoucherNumber)
		}
		for _, item := range v.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO voucher_items (voucher_id, product_id, product_name, quantity, price_at_sale, subtotal)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, voucherID, item.ProductID, item.ProductName, item.Quantity, item.PriceAtSale, item.Subtotal); err != nil {
				return nil, err
			}
		}
		ids = append(ids, voucherID)
	}

	for _, id := range order {
		if _, err := tx.ExecContext(ctx, `
			UPDATE stock
			SET quantity = quantity - $2, last_sold_at = $3, updated_at = $3
			WHERE id = $1
		`, id, totals[id], now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func checkCustomers(ctx context.Context, q querier, batch []store.NewVoucher) error {
	wanted := make([]int64, 0)
	for _, nv := range batch {
		if nv.Request.CustomerID != nil {
			wanted = append(wanted, *nv.Request.CustomerID)
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	rows, err := q.QueryContext(ctx, `SELECT id FROM customers WHERE id = ANY($1)`, wanted)
	if err != nil {
		return err
	}
	defer rows.Close()
	found := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range wanted {
		if !found[id] {
			return fmt.Errorf("%w: customer %d", store.ErrNotFound, id)
		}
	}
	return nil
}

const voucherSelect = `
	SELECT v.id, v.voucher_number, v.total_amount, v.total_discount, v.discount_percentage,
		v.discount_amount, v.staff_username, v.customer_id, v.delivery_address, v.created_at,
		c.name, c.phone, c.email, c.address, c.points, c.created_at
	FROM vouchers v
	LEFT JOIN customers c ON c.id = v.customer_id
`

func (s *Store) GetVoucher(ctx context.Context, id int64) (*domain.Voucher, error) {
	vouchers, err := s.loadVouchers(ctx, s.db, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(vouchers) == 0 {
		return nil, store.ErrNotFound
	}
	return &vouchers[0], nil
}

func (s *Store) ListVouchers(ctx context.Context, filter domain.VoucherFilter) (domain.Page[domain.Voucher], error) {
	page, size, offset := store.PageBounds(filter.Page, filter.Size)
	out := domain.Page[domain.Voucher]{Items: []domain.Voucher{}, Page: page, Size: size}

	var w where
	if name := strings.TrimSpace(filter.CustomerName); name != "" {
		w.add("c.name ILIKE $%d", "%"+name+"%")
	}
	if filter.Staff != "" {
		w.add("v.staff_username = $%d", filter.Staff)
	}
	if filter.StartDate != nil {
		w.add("v.created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		w.add("v.created_at <= $%d", *filter.EndDate)
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM vouchers v
		LEFT JOIN customers c ON c.id = v.customer_id
	`+w.sql(), w.args...).Scan(&out.Total)
	if err != nil {
		return out, err
	}

	order := orderBy(voucherSortColumns, filter.SortBy, "v.created_at", filter.SortOrder, "v.id")
	args := append(w.args, size, offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`%s %s %s LIMIT $%d OFFSET $%d`,
		voucherSelect, w.sql(), order, len(args)-1, len(args)), args...)
	if err != nil {
		return out, err
	}
	vouchers, err := scanVouchers(rows)
	if err != nil {
		return out, err
	}
	if err := s.attachItems(ctx, s.db, vouchers); err != nil {
		return out, err
	}
	out.Items = vouchers
	return out, nil
}

func (s *Store) loadVouchers(ctx context.Context, q querier, ids []int64) ([]domain.Voucher, error) {
	rows, err := q.QueryContext(ctx, voucherSelect+` WHERE v.id = ANY($1) ORDER BY v.id`, ids)
	if err != nil {
		return nil, err
	}
	vouchers, err := scanVouchers(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachItems(ctx, q, vouchers); err != nil {
		return nil, err
	}
	return vouchers, nil
}

func (s *Store) attachItems(ctx context.Context, q querier, vouchers []domain.Voucher) error {
	if len(vouchers) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(vouchers))
	index := make(map[int64]int, len(vouchers))
	for i, v := range vouchers {
		ids = append(ids, v.ID)
		index[v.ID] = i
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, voucher_id, product_id, product_name, quantity, price_at_sale, subtotal
		FROM voucher_items
		WHERE voucher_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.VoucherItem
		var voucherID int64
		if err := rows.Scan(&item.ID, &voucherID, &item.ProductID, &item.ProductName, &item.Quantity, &item.PriceAtSale, &item.Subtotal); err != nil {
			return err
		}
		i := index[voucherID]
		vouchers[i].Items = append(vouchers[i].Items, item)
	}
	return rows.Err()
}

func (s *Store) TotalSold(ctx context.Context, productIDs []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(productIDs))
	for _, id := range productIDs {
		out[id] = 0
	}
	if len(productIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, SUM(quantity)
		FROM voucher_items
		WHERE product_id = ANY($1)
		GROUP BY product_id
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		out[id] = qty
	}
	return out, rows.Err()
}

func (s *Store) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	var stats domain.DashboardStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT SUM(total_amount) FROM vouchers), 0),
			(SELECT COUNT(*) FROM vouchers),
			(SELECT COUNT(*) FROM customers),
			COALESCE((SELECT SUM(quantity) FROM stock), 0)
	`).Scan(&stats.TotalRevenue, &stats.VouchersIssued, &stats.NewCustomers, &stats.ProductsInStock)
	return stats, err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, true, user.CreatedAt)
	if err != nil {
		return mapWriteError(err, "user "+user.Username)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStock(row rowScanner) (domain.StockItem, error) {
	var item domain.StockItem
	var categoryID sql.NullInt64
	var arrival, lastSold, discountStart, discountEnd sql.NullTime
	var images []byte
	err := row.Scan(
		&item.ID, &item.Name, &item.Description, &item.Quantity, &item.Price, &item.CostPrice, &categoryID,
		&item.CategoryName, &arrival, &lastSold, &item.DiscountPercent,
		&discountStart, &discountEnd, &item.TotalSold, &item.CreatedAt, &item.UpdatedAt, &images,
	)
	if err != nil {
		return item, err
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &item.Images); err != nil {
			return item, fmt.Errorf("decode stock %d images: %w", item.ID, err)
		}
	}
	if categoryID.Valid {
		item.CategoryID = &categoryID.Int64
	}
	item.ArrivalDate = timePtr(arrival)
	item.LastSoldAt = timePtr(lastSold)
	item.DiscountStartDate = timePtr(discountStart)
	item.DiscountEndDate = timePtr(discountEnd)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	var phone sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &phone, &c.Email, &c.Address, &c.Points, &c.CreatedAt); err != nil {
		return c, err
	}
	c.Phone = phone.String
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func scanVouchers(rows *sql.Rows) ([]domain.Voucher, error) {
	defer rows.Close()

	vouchers := make([]domain.Voucher, 0, 16)
	for rows.Next() {
		var v domain.Voucher
		var customerID sql.NullInt64
		var name, phone, email, address sql.NullString
		var points sql.NullInt64
		var customerCreated sql.NullTime
		if err := rows.Scan(
			&v.ID, &v.VoucherNumber, &v.TotalAmount, &v.TotalDiscount, &v.DiscountPercentage,
			&v.DiscountAmount, &v.StaffUsername, &customerID, &v.DeliveryAddress, &v.CreatedAt,
			&name, &phone, &email, &address, &points, &customerCreated,
		); err != nil {
			return nil, err
		}
		v.CreatedAt = v.CreatedAt.UTC()
		v.Items = []domain.VoucherItem{}
		if customerID.Valid {
			v.CustomerID = &customerID.Int64
			v.Customer = &domain.Customer{
				ID:        customerID.Int64,
				Name:      name.String,
				Phone:     phone.String,
				Email:     email.String,
				Address:   address.String,
				Points:    int(points.Int64),
				CreatedAt: customerCreated.Time.UTC(),
			}
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, rows.Err()
}

// where accumulates AND-ed predicates. Each clause carries one %d verb (or
// %[1]d, repeated) for its positional parameter.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func addDecimalRange(w *where, column string, gt, lt *decimal.Decimal) {
	if gt != nil {
		w.add(column+" > $%d", *gt)
	}
	if lt != nil {
		w.add(column+" < $%d", *lt)
	}
}

func addIntRange(w *where, column string, gt, lt *int) {
	if gt != nil {
		w.add(column+" > $%d", *gt)
	}
	if lt != nil {
		w.add(column+" < $%d", *lt)
	}
}

// orderBy only ever emits whitelisted column expressions.
func orderBy(columns map[string]string, sortBy, fallback, sortOrder, tiebreak string) string {
	column, ok := columns[sortBy]
	if !ok {
		column = fallback
	}
	if store.Descending(sortOrder) {
		return fmt.Sprintf(" ORDER BY %s DESC NULLS LAST, %s DESC", column, tiebreak)
	}
	return fmt.Sprintf(" ORDER BY %s ASC NULLS FIRST, %s ASC", column, tiebreak)
}

func imagesJSON(images []string) (string, error) {
	if images == nil {
		images = []string{}
	}
	raw, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("encode stock images: %w", err)
	}
	return string(raw), nil
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mapWriteError(err error, subject string) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %s already exists", store.ErrConflict, subject)
	case isForeignKeyViolation(err):
		if strings.HasPrefix(subject, "stock item ") {
			return fmt.Errorf("%w: category does not exist", store.ErrInvalidInput)
		}
		return fmt.Errorf("%w: %s is still referenced", store.ErrConflict, subject)
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

func isSerializationFailure(err error) bool {
	code := pgCode(err)
	return code == "40001" || code == "40P01"
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
