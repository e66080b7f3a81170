package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

// Cria o schema do checkout e carrega produtos e clientes de exemplo.
// Uso: DATABASE_HOST=... go run ./scripts/seed

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		price NUMERIC(12,2) NOT NULL,
		stock_quantity INT NOT NULL CHECK (stock_quantity >= 0),
		units_per_bundle INT NOT NULL DEFAULT 1 CHECK (units_per_bundle >= 1),
		category_tag TEXT NOT NULL DEFAULT 'OTHER',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		customer_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		school TEXT NOT NULL DEFAULT '',
		shipping_address TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS carts (
		customer_id TEXT PRIMARY KEY,
		total_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS cart_lines (
		id BIGSERIAL PRIMARY KEY,
		customer_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		bundle_count INT NOT NULL CHECK (bundle_count > 0),
		price_snapshot NUMERIC(12,2) NOT NULL DEFAULT 0,
		units_per_bundle_snapshot INT NOT NULL DEFAULT 0,
		category_tag_snapshot TEXT NOT NULL DEFAULT '',
		UNIQUE (customer_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		order_number TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		customer_name TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		customer_email TEXT NOT NULL DEFAULT '',
		customer_school TEXT NOT NULL DEFAULT '',
		shipping_address TEXT NOT NULL DEFAULT '',
		subtotal NUMERIC(12,2) NOT NULL,
		delivery_charge NUMERIC(12,2) NOT NULL,
		total NUMERIC(12,2) NOT NULL,
		payment_order_ref TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		payment_signature TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		order_status TEXT NOT NULL,
		delivery_status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGSERIAL PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		product_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		unit_price NUMERIC(12,2) NOT NULL,
		bundle_count INT NOT NULL,
		subtotal NUMERIC(12,2) NOT NULL,
		category_tag TEXT NOT NULL DEFAULT ''
	)`,
}

type seedProduct struct {
	id, name, author, category string
	price                      string
	stock, unitsPerBundle      int
}

var products = []seedProduct{
	{"prod-math-g7", "Mathematics Grade 7", "NCTB Board", "TEXTBOOK", "320.00", 200, 1},
	{"prod-science-g7", "Science Grade 7", "NCTB Board", "TEXTBOOK", "280.00", 150, 1},
	{"prod-notebook-ruled", "Ruled Notebook Pack", "", "MANDATORY_NOTEBOOK", "150.00", 400, 4},
	{"prod-pen-blue", "Blue Ballpoint Pack", "", "STATIONARY", "50.00", 1000, 10},
	{"prod-geometry-box", "Geometry Box", "", "STATIONARY", "120.00", 80, 1},
	{"prod-art-paper", "Art Paper Bundle", "", "OTHER", "90.00", 60, 5},
}

func main() {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		getEnv("DATABASE_USER", "root"),
		getEnv("DATABASE_PASSWORD", "pass"),
		getEnv("DATABASE_HOST", "localhost"),
		getEnv("DATABASE_PORT", "5432"),
		getEnv("DATABASE_NAME", "checkout_db"),
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}
	}
	log.Println("✅ Schema applied")

	for _, p := range products {
		_, err := db.Exec(`
			INSERT INTO products (id, name, author, price, stock_quantity, units_per_bundle, category_tag)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE
			SET price = $4, stock_quantity = $5, units_per_bundle = $6, category_tag = $7, updated_at = NOW()
		`, p.id, p.name, p.author, p.price, p.stock, p.unitsPerBundle, p.category)
		if err != nil {
			log.Fatalf("Failed to seed product %s: %v", p.id, err)
		}
	}

	_, err = db.Exec(`
		INSERT INTO customers (customer_id, name, phone, email, school, shipping_address)
		VALUES ('cust-demo', 'Demo Parent', '+8801700000000', 'demo@example.com', 'Sunrise School', 'House 12, Road 3, Dhaka')
		ON CONFLICT (customer_id) DO NOTHING
	`)
	if err != nil {
		log.Fatalf("Failed to seed customer: %v", err)
	}

	log.Printf("✅ Seeded %d products and 1 customer", len(products))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
