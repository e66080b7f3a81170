package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Tx representa uma transação de banco de dados
type Tx interface {
	Commit() error
	Rollback() error
}

// Repository define as operações de persistência do checkout.
// Os métodos que recebem Tx só podem ser chamados dentro da transação de
// commit; o restante usa leituras simples do pool.
type Repository interface {
	BeginTx(ctx context.Context) (Tx, error)

	GetProduct(ctx context.Context, productID string) (*Product, error)
	GetProducts(ctx context.Context, productIDs []string) (map[string]*Product, error)
	GetCart(ctx context.Context, customerID string) (*Cart, error)
	SaveCart(ctx context.Context, cart *Cart) error
	GetCustomer(ctx context.Context, customerID string) (*CustomerSnapshot, error)

	// Leituras com lock pessimista, dentro da transação de commit
	GetCartForUpdate(ctx context.Context, tx Tx, customerID string) (*Cart, error)
	GetProductsForUpdate(ctx context.Context, tx Tx, productIDs []string) (map[string]*Product, error)

	// Escritas do commit atômico
	DecrementStock(ctx context.Context, tx Tx, productID string, units int) error
	CreateOrder(ctx context.Context, tx Tx, order *Order) error
	ClearCart(ctx context.Context, tx Tx, customerID string) error
}

// errStockRaced sinaliza que o decremento guardado não afetou nenhuma linha;
// a transação inteira deve ser reexecutada
var errStockRaced = errors.New("stock changed concurrently, transaction must be retried")

// PostgresRepository implementa Repository usando PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository
func NewPostgresRepository(pool *pgxpool.Pool) Repository {
	return &PostgresRepository{pool: pool}
}

// PostgresTx implementa a interface Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

// BeginTx inicia a transação de commit com snapshot repetível.
// Conflitos de serialização são detectados via SQLSTATE e reexecutados
// pelo use case.
func (r *PostgresRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &PostgresTx{tx: tx}, nil
}

const productColumns = `id, name, author, price, stock_quantity, units_per_bundle, category_tag, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var product Product
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Author,
		&product.Price,
		&product.StockQuantity,
		&product.UnitsPerBundle,
		&product.CategoryTag,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProduct busca um produto pelo id; ausência vira pgx.ErrNoRows
func (r *PostgresRepository) GetProduct(ctx context.Context, productID string) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	product, err := scanProduct(r.pool.QueryRow(ctx, query, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get product %s: %w", productID, err)
	}
	return product, nil
}

// GetProducts busca vários produtos de uma vez; ids ausentes simplesmente
// não aparecem no mapa (o validador trata como falta de estoque)
func (r *PostgresRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]*Product, error) {
	products := make(map[string]*Product, len(productIDs))
	if len(productIDs) == 0 {
		return products, nil
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`
	rows, err := r.pool.Query(ctx, query, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read products: %w", err)
	}
	return products, nil
}

// GetCart carrega o carrinho do cliente; cliente sem carrinho recebe um
// carrinho vazio (criação preguiçosa no primeiro SaveCart)
func (r *PostgresRepository) GetCart(ctx context.Context, customerID string) (*Cart, error) {
	cart := &Cart{CustomerID: customerID}

	err := r.pool.QueryRow(ctx,
		`SELECT total_amount, updated_at FROM carts WHERE customer_id = $1`,
		customerID,
	).Scan(&cart.TotalAmount, &cart.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	lines, err := r.queryCartLines(ctx, r.pool, customerID, false)
	if err != nil {
		return nil, err
	}
	cart.Lines = lines
	return cart, nil
}

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PostgresRepository) queryCartLines(ctx context.Context, q pgxQuerier, customerID string, forUpdate bool) ([]CartLine, error) {
	query := `
		SELECT product_id, bundle_count, price_snapshot, units_per_bundle_snapshot, category_tag_snapshot
		FROM cart_lines
		WHERE customer_id = $1
		ORDER BY id
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cart lines: %w", err)
	}
	defer rows.Close()

	var lines []CartLine
	for rows.Next() {
		var line CartLine
		err := rows.Scan(
			&line.ProductID,
			&line.BundleCount,
			&line.PriceSnapshot,
			&line.UnitsPerBundleSnapshot,
			&line.CategoryTagSnapshot,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cart lines: %w", err)
	}
	return lines, nil
}

// SaveCart grava o carrinho por substituição completa das linhas, junto com
// o total recalculado, em uma transação própria
func (r *PostgresRepository) SaveCart(ctx context.Context, cart *Cart) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin cart transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO carts (customer_id, total_amount, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (customer_id) DO UPDATE SET total_amount = $2, updated_at = NOW()
	`, cart.CustomerID, cart.TotalAmount)
	if err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}

	_, err = tx.Exec(ctx, `DELETE FROM cart_lines WHERE customer_id = $1`, cart.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to clear cart lines: %w", err)
	}

	for _, line := range cart.Lines {
		_, err = tx.Exec(ctx, `
			INSERT INTO cart_lines (customer_id, product_id, bundle_count, price_snapshot, units_per_bundle_snapshot, category_tag_snapshot)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, cart.CustomerID, line.ProductID, line.BundleCount, line.PriceSnapshot, line.UnitsPerBundleSnapshot, line.CategoryTagSnapshot)
		if err != nil {
			return fmt.Errorf("failed to insert cart line: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetCustomer busca o snapshot do cliente; cadastro ausente vira um snapshot
// mínimo só com o id (dados vêm do colaborador de identidade)
func (r *PostgresRepository) GetCustomer(ctx context.Context, customerID string) (*CustomerSnapshot, error) {
	var customer CustomerSnapshot
	err := r.pool.QueryRow(ctx, `
		SELECT customer_id, name, phone, email, school, shipping_address
		FROM customers WHERE customer_id = $1
	`, customerID).Scan(
		&customer.CustomerID,
		&customer.Name,
		&customer.Phone,
		&customer.Email,
		&customer.School,
		&customer.ShippingAddress,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &CustomerSnapshot{CustomerID: customerID}, nil
		}
		return nil, fmt.Errorf("failed to get customer %s: %w", customerID, err)
	}
	return &customer, nil
}

// GetCartForUpdate relê as linhas do carrinho dentro da transação, com lock.
// Um carrinho alterado entre a validação e o commit é relido, nunca confiado.
func (r *PostgresRepository) GetCartForUpdate(ctx context.Context, tx Tx, customerID string) (*Cart, error) {
	pgTx := tx.(*PostgresTx).tx
	lines, err := r.queryCartLines(ctx, pgTx, customerID, true)
	if err != nil {
		return nil, err
	}
	cart := &Cart{CustomerID: customerID, Lines: lines}
	cart.RecomputeTotal()
	return cart, nil
}

// GetProductsForUpdate lê os produtos com lock pessimista (FOR UPDATE),
// sempre em ordem de id para não formar deadlock entre commits concorrentes
func (r *PostgresRepository) GetProductsForUpdate(ctx context.Context, tx Tx, productIDs []string) (map[string]*Product, error) {
	products := make(map[string]*Product, len(productIDs))
	if len(productIDs) == 0 {
		return products, nil
	}
	pgTx := tx.(*PostgresTx).tx

	ordered := append([]string(nil), productIDs...)
	sort.Strings(ordered)

	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	rows, err := pgTx.Query(ctx, query, ordered)
	if err != nil {
		return nil, fmt.Errorf("failed to query products for update: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read products for update: %w", err)
	}
	return products, nil
}

// DecrementStock aplica o decremento relativo e guardado do estoque.
// Nunca sobrescreve com valor absoluto: decrementos relativos compõem
// corretamente entre transações concorrentes.
func (r *PostgresRepository) DecrementStock(ctx context.Context, tx Tx, productID string, units int) error {
	pgTx := tx.(*PostgresTx).tx

	tag, err := pgTx.Exec(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		WHERE id = $1 AND stock_quantity >= $2
	`, productID, units)
	if err != nil {
		return fmt.Errorf("failed to decrement stock of %s: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		// estoque mudou sob a transação; força a reexecução completa
		return fmt.Errorf("decrementing %d units of %s: %w", units, productID, errStockRaced)
	}
	return nil
}

// CreateOrder insere o pedido imutável e seus itens dentro da transação
func (r *PostgresRepository) CreateOrder(ctx context.Context, tx Tx, order *Order) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO orders (
			id, order_number, customer_id, customer_name, customer_phone, customer_email,
			customer_school, shipping_address, subtotal, delivery_charge, total,
			payment_order_ref, payment_id, payment_signature,
			payment_status, order_status, delivery_status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		order.ID, order.Number, order.CustomerID,
		order.Customer.Name, order.Customer.Phone, order.Customer.Email,
		order.Customer.School, order.Customer.ShippingAddress,
		order.Subtotal, order.DeliveryCharge, order.Total,
		order.PaymentOrderRef, order.PaymentID, order.PaymentSignature,
		order.PaymentStatus, order.OrderStatus, order.DeliveryStatus, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = pgTx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, name, author, unit_price, bundle_count, subtotal, category_tag)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, order.ID, item.ProductID, item.Name, item.Author, item.UnitPrice, item.BundleCount, item.Subtotal, item.CategoryTag)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

// ClearCart esvazia as linhas e zera o total em cache dentro da transação
func (r *PostgresRepository) ClearCart(ctx context.Context, tx Tx, customerID string) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `DELETE FROM cart_lines WHERE customer_id = $1`, customerID)
	if err != nil {
		return fmt.Errorf("failed to clear cart lines: %w", err)
	}
	_, err = pgTx.Exec(ctx, `
		INSERT INTO carts (customer_id, total_amount, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (customer_id) DO UPDATE SET total_amount = 0, updated_at = NOW()
	`, customerID)
	if err != nil {
		return fmt.Errorf("failed to reset cart total: %w", err)
	}
	return nil
}

// isRetryableTxError reconhece conflitos que justificam reexecutar a
// transação de commit: falha de serialização, deadlock ou o decremento
// guardado que não encontrou estoque suficiente no snapshot.
func isRetryableTxError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errStockRaced) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
