package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// maxCommitAttempts limita as reexecuções da transação de commit
const maxCommitAttempts = 5

// CartUseCase contém a lógica de montagem e reparo do carrinho
type CartUseCase struct {
	repository Repository
}

// NewCartUseCase cria uma nova instância de CartUseCase
func NewCartUseCase(repository Repository) *CartUseCase {
	return &CartUseCase{repository: repository}
}

// GetCart carrega o carrinho e repara linhas legadas sem snapshot.
// O reparo é melhor-esforço: uma falha na gravação do backfill nunca
// derruba a leitura principal.
func (uc *CartUseCase) GetCart(ctx context.Context, customerID string) (*Cart, error) {
	cart, err := uc.repository.GetCart(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	repaired := false
	for i, line := range cart.Lines {
		if !line.NeedsRepair() {
			continue
		}
		product, err := uc.repository.GetProduct(ctx, line.ProductID)
		if err != nil {
			// produto sumiu ou leitura falhou; a linha segue como está
			log.Printf("⚠️ Could not backfill cart line %s for customer %s: %v", line.ProductID, customerID, err)
			continue
		}
		cart.Lines[i].PriceSnapshot = product.Price
		cart.Lines[i].UnitsPerBundleSnapshot = product.UnitsPerBundle
		cart.Lines[i].CategoryTagSnapshot = product.CategoryTag
		repaired = true
	}

	if repaired {
		cart.RecomputeTotal()
		if err := uc.repository.SaveCart(ctx, cart); err != nil {
			log.Printf("⚠️ Cart backfill write failed for customer %s: %v", customerID, err)
		}
	}
	return cart, nil
}

// SetLine grava uma linha do carrinho; bundleCount 0 remove a linha.
// Toda escrita recalcula o total do zero a partir da lista resultante.
func (uc *CartUseCase) SetLine(ctx context.Context, customerID, productID string, bundleCount int) (*Cart, error) {
	cart, err := uc.repository.GetCart(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	if bundleCount == 0 {
		cart.ApplyLine(CartLine{ProductID: productID})
	} else {
		product, err := uc.repository.GetProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, &CheckoutError{Code: CodeProductNotFound, Message: fmt.Sprintf("product %s not found", productID)}
			}
			return nil, fmt.Errorf("failed to load product: %w", err)
		}
		cart.ApplyLine(NewCartLine(product, bundleCount))
	}

	if err := uc.repository.SaveCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to save cart: %w", err)
	}
	return cart, nil
}

// SetLines grava várias linhas de uma vez (fluxo "adicionar tudo").
// Pré-checagem tudo-ou-nada: o estoque de todas as linhas resultantes é
// validado antes de gravar qualquer uma; diferente da rechecagem vinculante
// que acontece depois, dentro da transação de commit.
func (uc *CartUseCase) SetLines(ctx context.Context, customerID string, items []SetLineRequest) (*Cart, error) {
	cart, err := uc.repository.GetCart(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.BundleCount > 0 {
			ids = append(ids, item.ProductID)
		}
	}
	products, err := uc.repository.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	// monta a lista prospectiva sem tocar no carrinho persistido
	prospective := &Cart{CustomerID: customerID, Lines: append([]CartLine(nil), cart.Lines...)}
	for _, item := range items {
		if item.BundleCount == 0 {
			prospective.ApplyLine(CartLine{ProductID: item.ProductID})
			continue
		}
		product, ok := products[item.ProductID]
		if !ok {
			return nil, &CheckoutError{Code: CodeProductNotFound, Message: fmt.Sprintf("product %s not found", item.ProductID)}
		}
		prospective.ApplyLine(NewCartLine(product, item.BundleCount))
	}

	if shortfall := validateStock(prospective.Lines, products); shortfall != nil {
		return nil, shortfall.AsError()
	}

	if err := uc.repository.SaveCart(ctx, prospective); err != nil {
		return nil, fmt.Errorf("failed to save cart: %w", err)
	}
	return prospective, nil
}

// CheckoutUseCase contém a validação consultiva e o commit transacional
type CheckoutUseCase struct {
	repository     Repository
	deliveryCharge decimal.Decimal
}

// NewCheckoutUseCase cria uma nova instância de CheckoutUseCase
func NewCheckoutUseCase(repository Repository, deliveryCharge decimal.Decimal) *CheckoutUseCase {
	return &CheckoutUseCase{
		repository:     repository,
		deliveryCharge: deliveryCharge,
	}
}

// ValidateCheckout roda a pré-checagem consultiva de estoque, fora de
// transação e sem efeitos colaterais. Serve para dar resposta rápida ao
// cliente antes do pagamento; só a rechecagem do commit é vinculante.
func (uc *CheckoutUseCase) ValidateCheckout(ctx context.Context, customerID string) error {
	cart, err := uc.repository.GetCart(ctx, customerID)
	if err != nil {
		return fmt.Errorf("failed to load cart: %w", err)
	}
	if len(cart.Lines) == 0 {
		return ErrCartEmpty
	}

	products, err := uc.repository.GetProducts(ctx, cart.ProductIDs())
	if err != nil {
		return fmt.Errorf("failed to load products: %w", err)
	}
	if shortfall := validateStock(cart.Lines, products); shortfall != nil {
		return shortfall.AsError()
	}
	return nil
}

// CommitOrder converte o carrinho em pedido dentro de uma transação atômica:
// relê o carrinho, revalida o estoque, aplica os decrementos relativos, insere
// o pedido imutável e esvazia o carrinho como uma unidade só. Conflitos de
// concorrência reexecutam a transação inteira até maxCommitAttempts.
func (uc *CheckoutUseCase) CommitOrder(ctx context.Context, customerID string, proof PaymentProof, shipping *ShippingOverride) (*Order, error) {
	if !proof.Valid() {
		return nil, ErrInvalidPaymentProof
	}

	// checagem consultiva antes de abrir transação; repetida lá dentro
	cart, err := uc.repository.GetCart(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if len(cart.Lines) == 0 {
		return nil, ErrCartEmpty
	}

	customer, err := uc.repository.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	customer.Apply(shipping)

	var lastErr error
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		order, err := uc.tryCommit(ctx, customerID, *customer, proof)
		if err == nil {
			log.Printf("✅ Order %s committed for customer %s (attempt %d)", order.Number, customerID, attempt)
			return order, nil
		}

		var checkoutErr *CheckoutError
		if errors.As(err, &checkoutErr) {
			// falha de negócio: não adianta repetir
			return nil, err
		}
		if !isRetryableTxError(err) {
			return nil, err
		}

		lastErr = err
		log.Printf("🔄 Commit conflict for customer %s (attempt %d/%d): %v", customerID, attempt, maxCommitAttempts, err)
	}

	log.Printf("❌ Commit retries exhausted for customer %s: %v", customerID, lastErr)
	return nil, ErrTransientFailure
}

// tryCommit executa uma tentativa completa da transação de commit
func (uc *CheckoutUseCase) tryCommit(ctx context.Context, customerID string, customer CustomerSnapshot, proof PaymentProof) (*Order, error) {
	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	cart, err := uc.repository.GetCartForUpdate(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}
	if len(cart.Lines) == 0 {
		return nil, ErrCartEmpty
	}

	products, err := uc.repository.GetProductsForUpdate(ctx, tx, cart.ProductIDs())
	if err != nil {
		return nil, err
	}

	// mesma rotina da pré-checagem, agora vinculante
	if shortfall := validateStock(cart.Lines, products); shortfall != nil {
		return nil, shortfall.AsError()
	}

	// O decremento segue as unidades atuais do catálogo, as mesmas que o
	// validador acabou de aprovar sob lock; nunca o snapshot da linha, que
	// pode estar defasado ou ausente em linhas legadas. Campos de snapshot
	// faltantes são reparados aqui com os registros já lidos, para o pedido
	// não sair com preço zero ou categoria vazia.
	for i := range cart.Lines {
		product, ok := products[cart.Lines[i].ProductID]
		if !ok || product == nil {
			continue
		}
		if cart.Lines[i].NeedsRepair() {
			cart.Lines[i].PriceSnapshot = product.Price
			cart.Lines[i].CategoryTagSnapshot = product.CategoryTag
		}
		cart.Lines[i].UnitsPerBundleSnapshot = product.UnitsPerBundle
	}

	for _, line := range cart.Lines {
		if err := uc.repository.DecrementStock(ctx, tx, line.ProductID, line.RequiredUnits()); err != nil {
			return nil, err
		}
	}

	order := NewOrderFromCart(customer, cart.Lines, products, proof, uc.deliveryCharge)
	if err := uc.repository.CreateOrder(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := uc.repository.ClearCart(ctx, tx, customerID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}
