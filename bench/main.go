package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Dispara commits concorrentes contra o mesmo produto para medir o
// comportamento do checkout sob disputa de estoque: exatamente um commit por
// pacote disponível deve vencer, os demais recebem 409.
//
// Uso: BASE_URL=http://localhost:8080 CONCURRENCY=20 go run ./bench

func main() {
	baseURL := getEnv("BASE_URL", "http://localhost:8080")
	productID := getEnv("PRODUCT_ID", "prod-geometry-box")
	concurrency, err := strconv.Atoi(getEnv("CONCURRENCY", "20"))
	if err != nil {
		log.Fatalf("Invalid CONCURRENCY: %v", err)
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")

	var committed, conflicted, transient, failed int64
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			customerID := "bench-" + uuid.New().String()

			resp, err := client.R().
				SetBody(map[string]any{
					"items": []map[string]any{
						{"product_id": productID, "bundle_count": 1},
					},
				}).
				Put(fmt.Sprintf("/api/cart/%s/items", customerID))
			if err != nil {
				atomic.AddInt64(&failed, 1)
				log.Printf("❌ worker %d: cart write failed: %v", worker, err)
				return
			}
			if resp.StatusCode() == 409 {
				// pré-checagem do carrinho já viu o estoque esgotado
				atomic.AddInt64(&conflicted, 1)
				return
			}
			if resp.IsError() {
				atomic.AddInt64(&failed, 1)
				log.Printf("❌ worker %d: cart write failed: %s", worker, resp.Status())
				return
			}

			resp, err = client.R().
				SetBody(map[string]any{
					"payment_order_ref": uuid.New().String(),
					"payment_id":        uuid.New().String(),
					"payment_signature": "bench-signature",
				}).
				Post(fmt.Sprintf("/api/checkout/%s/commit", customerID))
			if err != nil {
				atomic.AddInt64(&failed, 1)
				log.Printf("❌ worker %d: commit request failed: %v", worker, err)
				return
			}

			switch resp.StatusCode() {
			case 201:
				atomic.AddInt64(&committed, 1)
			case 409:
				atomic.AddInt64(&conflicted, 1)
			case 503:
				atomic.AddInt64(&transient, 1)
			default:
				atomic.AddInt64(&failed, 1)
				log.Printf("❌ worker %d: unexpected status %s: %s", worker, resp.Status(), resp.String())
			}
		}(i)
	}
	wg.Wait()

	log.Printf("🏁 %d workers in %s | committed=%d insufficient=%d transient=%d failed=%d",
		concurrency, time.Since(start), committed, conflicted, transient, failed)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
