package main

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockRepository simula a camada de persistência do checkout
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) BeginTx(ctx context.Context) (Tx, error) {
	args := m.Called(ctx)
	if tx := args.Get(0); tx != nil {
		return tx.(Tx), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) GetProduct(ctx context.Context, productID string) (*Product, error) {
	args := m.Called(ctx, productID)
	if p := args.Get(0); p != nil {
		return p.(*Product), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]*Product, error) {
	args := m.Called(ctx, productIDs)
	if p := args.Get(0); p != nil {
		return p.(map[string]*Product), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) GetCart(ctx context.Context, customerID string) (*Cart, error) {
	args := m.Called(ctx, customerID)
	if c := args.Get(0); c != nil {
		return c.(*Cart), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) SaveCart(ctx context.Context, cart *Cart) error {
	args := m.Called(ctx, cart)
	return args.Error(0)
}

func (m *MockRepository) GetCustomer(ctx context.Context, customerID string) (*CustomerSnapshot, error) {
	args := m.Called(ctx, customerID)
	if c := args.Get(0); c != nil {
		return c.(*CustomerSnapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) GetCartForUpdate(ctx context.Context, tx Tx, customerID string) (*Cart, error) {
	args := m.Called(ctx, tx, customerID)
	if c := args.Get(0); c != nil {
		return c.(*Cart), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) GetProductsForUpdate(ctx context.Context, tx Tx, productIDs []string) (map[string]*Product, error) {
	args := m.Called(ctx, tx, productIDs)
	if p := args.Get(0); p != nil {
		return p.(map[string]*Product), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) DecrementStock(ctx context.Context, tx Tx, productID string, units int) error {
	args := m.Called(ctx, tx, productID, units)
	return args.Error(0)
}

func (m *MockRepository) CreateOrder(ctx context.Context, tx Tx, order *Order) error {
	args := m.Called(ctx, tx, order)
	return args.Error(0)
}

func (m *MockRepository) ClearCart(ctx context.Context, tx Tx, customerID string) error {
	args := m.Called(ctx, tx, customerID)
	return args.Error(0)
}

// MockTx simula a transação de banco de dados
type MockTx struct {
	mock.Mock
}

func (m *MockTx) Commit() error {
	return m.Called().Error(0)
}

func (m *MockTx) Rollback() error {
	return m.Called().Error(0)
}

func validProof() PaymentProof {
	return PaymentProof{OrderRef: "ref-1", PaymentID: "pay-1", Signature: "sig-1"}
}

func twoLineCart(customerID string) *Cart {
	cart := &Cart{
		CustomerID: customerID,
		Lines: []CartLine{
			{ProductID: "A", BundleCount: 2, PriceSnapshot: decimal.NewFromInt(100), UnitsPerBundleSnapshot: 1, CategoryTagSnapshot: CategoryTextbook},
			{ProductID: "B", BundleCount: 1, PriceSnapshot: decimal.NewFromInt(50), UnitsPerBundleSnapshot: 4, CategoryTagSnapshot: "STATIONARY"},
		},
	}
	cart.RecomputeTotal()
	return cart
}

func twoLineProducts() map[string]*Product {
	return map[string]*Product{
		"A": testProduct("A", 10, 1, CategoryTextbook),
		"B": testProduct("B", 10, 4, "STATIONARY"),
	}
}

func TestValidateCheckoutEmptyCart(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(&Cart{CustomerID: "cust-1"}, nil)
	uc := NewCheckoutUseCase(mockRepo, decimal.NewFromInt(300))

	// Act
	err := uc.ValidateCheckout(context.Background(), "cust-1")

	// Assert: carrinho vazio é rejeitado antes de qualquer checagem de estoque
	assert.ErrorIs(t, err, ErrCartEmpty)
	mockRepo.AssertNotCalled(t, "GetProducts", mock.Anything, mock.Anything)
}

func TestValidateCheckoutOK(t *testing.T) {
	mockRepo := new(MockRepository)
	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(twoLineCart("cust-1"), nil)
	mockRepo.On("GetProducts", mock.Anything, []string{"A", "B"}).Return(twoLineProducts(), nil)
	uc := NewCheckoutUseCase(mockRepo, decimal.NewFromInt(300))

	err := uc.ValidateCheckout(context.Background(), "cust-1")

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestValidateCheckoutPartialShortfall(t *testing.T) {
	// Arrange: só a linha opcional B está em falta
	products := twoLineProducts()
	products["B"].StockQuantity = 0

	mockRepo := new(MockRepository)
	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(twoLineCart("cust-1"), nil)
	mockRepo.On("GetProducts", mock.Anything, []string{"A", "B"}).Return(products, nil)
	uc := NewCheckoutUseCase(mockRepo, decimal.NewFromInt(300))

	// Act
	err := uc.ValidateCheckout(context.Background(), "cust-1")

	// Assert: erro parcial com a tag opcional, nunca um pedido reduzido
	var checkoutErr *CheckoutError
	assert.ErrorAs(t, err, &checkoutErr)
	assert.Equal(t, CodeInsufficientStock, checkoutErr.Code)
	assert.Equal(t, []string{"STATIONARY"}, checkoutErr.ExcludableTags)
}

func TestCommitOrderInvalidProof(t *testing.T) {
	mockRepo := new(MockRepository)
	uc := NewCheckoutUseCase(mockRepo, decimal.NewFromInt(300))

	_, err := uc.CommitOrder(context.Background(), "cust-1", PaymentProof{PaymentID: "pay-1"}, nil)

	assert.ErrorIs(t, err, ErrInvalidPaymentProof)
	mockRepo.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestCommitOrderEmptyCart(t *testing.T) {
	mockRepo := new(MockRepository)
	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(&Cart{CustomerID: "cust-1"}, nil)
	uc := NewCheckoutUseCase(mockRepo, decimal.NewFromInt(300))

	_, err := uc.CommitOrder(context.Background(), "cust-1", validProof(), nil)

	assert.ErrorIs(t, err, ErrCartEmpty)
	mockRepo.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestCommitOrderSuccess(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	mockTx := new(MockTx)
	cart := twoLineCart("cust-1")

	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(cart, nil)
	mockRepo.On("GetCustomer", mock.Anything, "cust-1").Return(&CustomerSnapshot{CustomerID: "cust-1", Name: "Demo Parent"}, nil)
	mockRepo.On("BeginTx", mock.Anything).Return(mockTx, nil)
	mockRepo.On("GetCartForUpdate", mock.Anything, mockTx, "cust-1").Return(cart, nil)
	mockRepo.On("GetProductsForUpdate", mock.Anything, mockTx, []string{"A", "B"}).Return(twoLineProducts(), nil)
	// decremento relativo: bundles × unidades por pacote
	mockRepo.On("DecrementStock", mock.Anything, mockTx, "A", 2).Return(nil)
	mockRepo.On("DecrementStock", mock.Anything, mockTx, "B", 4).Return(nil)
	mockRepo.On("CreateOrder", mock.Anything, mockTx, mock.AnythingOfType("*main.Order")).Return(nil)
	mockRepo.On("ClearCart", mock.Anything, mockTx, "cust-1").Return(nil)
	mockTx.On("Commit").Return(nil)
	mockTx.On("Rollback").Return(nil)

	uc := NewCheckoutUseCase(mockRepo, decimal.NewFromInt(300))

	// Act
	order, err := uc.CommitOrder(context.Background(), "cust-1", validProof(), nil)

	// Assert
	assert.NoError(t, err)
	assert.NotNil(t, order)
	assert.True(t, order.Subtotal.Equal(decimal.NewFromInt(250)), "subtotal: got %s", order.Subtotal)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(550)), "total: got %s", order.Total)
	assert.Equal(t, OrderStatusConfirmed, order.OrderStatus)
	mockRepo.AssertExpectations(t)
	mockTx.AssertExpectations(t)
}

func TestCommitOrderMandatoryShortfallBlocksWholeOrder(t *testing.T) {
	// Arrange: a linha obrigatória A está em falta, B tem estoque de sobra
	products := twoLineProducts()
	products["A"].StockQuantity = 1

	mockRepo := new(MockRepository)
	mockTx := new(MockTx)
	cart := twoLineCart("cust-1")

	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(cart, nil)
	mockRepo.On("GetCustomer", mock.Anything, "cust-1").Return(&CustomerSnapshot{CustomerID: "cust-1"}, nil)
	mockRepo.On("BeginTx", mock.Anything).Return(mockTx, nil)
	mockRepo.On("GetCartForUpdate", mock.Anything, mockTx, "cust-1").Return(cart, nil)
	mockRepo.On("GetProductsForUpdate", mock.Anything, mockTx, []string{"A", "B"}).Return(products, nil)
	mockTx.On("Rollback").Return(nil)

	uc := NewCheckoutUseCase(mockRepo, decimal.NewFromInt(300))

	// Act
	order, err := uc.CommitOrder(context.Background(), "cust-1", validProof(), nil)

	// Assert: nenhum pedido criado, nenhum decremento, sem retry
	assert.Nil(t, order)
	var checkoutErr *CheckoutError
	assert.ErrorAs(t, err, &checkoutErr)
	assert.Equal(t, CodeInsufficientStock, checkoutErr.Code)
	assert.Equal(t, blockingStockMessage, checkoutErr.Message)
	assert.Empty(t, checkoutErr.ExcludableTags)
	mockRepo.AssertNotCalled(t, "DecrementStock", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockRepo.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
	mockRepo.AssertNumberOfCalls(t, "BeginTx", 1)
}

func TestCommitOrderRetriesOnSerializationConflict(t *testing.T) {
	// Arrange: primeira tentativa falha com 40001, segunda completa
	mockRepo := new(MockRepository)
	mockTx := new(MockTx)
	cart := twoLineCart("cust-1")
	serializationErr := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}

	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(cart, nil)
	mockRepo.On("GetCustomer", mock.Anything, "cust-1").Return(&CustomerSnapshot{CustomerID: "cust-1"}, nil)
	mockRepo.On("BeginTx", mock.Anything).Return(mockTx, nil)
	mockRepo.On("GetCartForUpdate", mock.Anything, mockTx, "cust-1").Return(cart, nil)
	mockRepo.On("GetProductsForUpdate", mock.Anything, mockTx, []string{"A", "B"}).Return(twoLineProducts(), nil)
	mockRepo.On("DecrementStock", mock.Anything, mockTx, "A", 2).Return(serializationErr).Once()
	mockRepo.On("DecrementStock", mock.Anything, mockTx, "A", 2).Return(nil).Once()
	mockRepo.On("DecrementStock", mock.Anything, mockTx, "B", 4).Return(nil)
	mockRepo.On("CreateOrder", mock.Anything, mockTx, mock.AnythingOfType("*main.Order")).Return(nil)
	mockRepo.On("ClearCart", mock.Anything, mockTx, "cust-1").Return(nil)
	mockTx.On("Commit").Return(nil)
	mockTx.On("Rollback").Return(nil)

	uc := NewCheckoutUseCase(mockRepo, decimal.NewFromInt(300))

	// Act
	order, err := uc.CommitOrder(context.Background(), "cust-1", validProof(), nil)

	// Assert: a transação inteira foi reexecutada uma vez
	assert.NoError(t, err)
	assert.NotNil(t, order)
	mockRepo.AssertNumberOfCalls(t, "BeginTx", 2)
}

func TestCommitOrderTransientAfterRetryBudget(t *testing.T) {
	// Arrange: conflito de serialização em todas as tentativas
	mockRepo := new(MockRepository)
	mockTx := new(MockTx)
	cart := twoLineCart("cust-1")
	serializationErr := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}

	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(cart, nil)
	mockRepo.On("GetCustomer", mock.Anything, "cust-1").Return(&CustomerSnapshot{CustomerID: "cust-1"}, nil)
	mockRepo.On("BeginTx", mock.Anything).Return(mockTx, nil)
	mockRepo.On("GetCartForUpdate", mock.Anything, mockTx, "cust-1").Return(cart, nil)
	mockRepo.On("GetProductsForUpdate", mock.Anything, mockTx, []string{"A", "B"}).Return(twoLineProducts(), nil)
	mockRepo.On("DecrementStock", mock.Anything, mockTx, "A", 2).Return(serializationErr)
	mockTx.On("Rollback").Return(nil)

	uc := NewCheckoutUseCase(mockRepo, decimal.NewFromInt(300))

	// Act
	order, err := uc.CommitOrder(context.Background(), "cust-1", validProof(), nil)

	// Assert: erro transiente distinto de falta de estoque, orçamento respeitado
	assert.Nil(t, order)
	assert.ErrorIs(t, err, ErrTransientFailure)
	mockRepo.AssertNumberOfCalls(t, "BeginTx", maxCommitAttempts)
	mockRepo.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestCommitOrderDoesNotRetryUnknownErrors(t *testing.T) {
	mockRepo := new(MockRepository)
	mockTx := new(MockTx)
	cart := twoLineCart("cust-1")
	boom := errors.New("connection reset")

	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(cart, nil)
	mockRepo.On("GetCustomer", mock.Anything, "cust-1").Return(&CustomerSnapshot{CustomerID: "cust-1"}, nil)
	mockRepo.On("BeginTx", mock.Anything).Return(mockTx, nil)
	mockRepo.On("GetCartForUpdate", mock.Anything, mockTx, "cust-1").Return(nil, boom)
	mockTx.On("Rollback").Return(nil)

	uc := NewCheckoutUseCase(mockRepo, decimal.NewFromInt(300))

	_, err := uc.CommitOrder(context.Background(), "cust-1", validProof(), nil)

	assert.ErrorIs(t, err, boom)
	mockRepo.AssertNumberOfCalls(t, "BeginTx", 1)
}

func TestCommitOrderLegacyLineDecrementsCatalogUnits(t *testing.T) {
	// Arrange: a linha A é legada (sem nenhum snapshot) e a linha B carrega
	// um snapshot de unidades defasado; o decremento deve seguir as unidades
	// atuais do catálogo, lidas sob lock, nunca o snapshot
	cart := &Cart{CustomerID: "cust-1", Lines: []CartLine{
		{ProductID: "A", BundleCount: 2},
		{ProductID: "B", BundleCount: 1, PriceSnapshot: decimal.NewFromInt(50), UnitsPerBundleSnapshot: 10, CategoryTagSnapshot: "STATIONARY"},
	}}
	products := map[string]*Product{
		"A": testProduct("A", 10, 4, CategoryTextbook),
		"B": testProduct("B", 4, 2, "STATIONARY"),
	}

	mockRepo := new(MockRepository)
	mockTx := new(MockTx)
	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(cart, nil)
	mockRepo.On("GetCustomer", mock.Anything, "cust-1").Return(&CustomerSnapshot{CustomerID: "cust-1"}, nil)
	mockRepo.On("BeginTx", mock.Anything).Return(mockTx, nil)
	mockRepo.On("GetCartForUpdate", mock.Anything, mockTx, "cust-1").Return(cart, nil)
	mockRepo.On("GetProductsForUpdate", mock.Anything, mockTx, []string{"A", "B"}).Return(products, nil)
	// A: 2 pacotes × 4 unidades do catálogo; B: 1 × 2, não 1 × 10
	mockRepo.On("DecrementStock", mock.Anything, mockTx, "A", 8).Return(nil)
	mockRepo.On("DecrementStock", mock.Anything, mockTx, "B", 2).Return(nil)

	var created *Order
	mockRepo.On("CreateOrder", mock.Anything, mockTx, mock.AnythingOfType("*main.Order")).Run(func(args mock.Arguments) {
		created = args.Get(2).(*Order)
	}).Return(nil)
	mockRepo.On("ClearCart", mock.Anything, mockTx, "cust-1").Return(nil)
	mockTx.On("Commit").Return(nil)
	mockTx.On("Rollback").Return(nil)

	uc := NewCheckoutUseCase(mockRepo, decimal.NewFromInt(300))

	// Act
	order, err := uc.CommitOrder(context.Background(), "cust-1", validProof(), nil)

	// Assert: pedido sai com preço e categoria reparados, nunca zerados
	assert.NoError(t, err)
	assert.NotNil(t, order)
	assert.Equal(t, created, order)
	assert.True(t, order.Items[0].UnitPrice.Equal(decimal.NewFromInt(100)), "unit price: got %s", order.Items[0].UnitPrice)
	assert.True(t, order.Items[0].Subtotal.Equal(decimal.NewFromInt(200)), "item subtotal: got %s", order.Items[0].Subtotal)
	assert.Equal(t, CategoryTextbook, order.Items[0].CategoryTag)
	// a linha B mantém o preço acordado no carrinho
	assert.True(t, order.Items[1].UnitPrice.Equal(decimal.NewFromInt(50)), "unit price: got %s", order.Items[1].UnitPrice)
	assert.True(t, order.Subtotal.Equal(decimal.NewFromInt(250)), "subtotal: got %s", order.Subtotal)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(550)), "total: got %s", order.Total)
	mockRepo.AssertExpectations(t)
	mockRepo.AssertNumberOfCalls(t, "BeginTx", 1)
}

func TestCommitOrderAppliesShippingOverride(t *testing.T) {
	mockRepo := new(MockRepository)
	mockTx := new(MockTx)
	cart := twoLineCart("cust-1")

	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(cart, nil)
	mockRepo.On("GetCustomer", mock.Anything, "cust-1").Return(&CustomerSnapshot{CustomerID: "cust-1", ShippingAddress: "Default Street"}, nil)
	mockRepo.On("BeginTx", mock.Anything).Return(mockTx, nil)
	mockRepo.On("GetCartForUpdate", mock.Anything, mockTx, "cust-1").Return(cart, nil)
	mockRepo.On("GetProductsForUpdate", mock.Anything, mockTx, []string{"A", "B"}).Return(twoLineProducts(), nil)
	mockRepo.On("DecrementStock", mock.Anything, mockTx, mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("CreateOrder", mock.Anything, mockTx, mock.AnythingOfType("*main.Order")).Return(nil)
	mockRepo.On("ClearCart", mock.Anything, mockTx, "cust-1").Return(nil)
	mockTx.On("Commit").Return(nil)
	mockTx.On("Rollback").Return(nil)

	uc := NewCheckoutUseCase(mockRepo, decimal.NewFromInt(300))

	order, err := uc.CommitOrder(context.Background(), "cust-1", validProof(), &ShippingOverride{ShippingAddress: "Override Street"})

	assert.NoError(t, err)
	assert.Equal(t, "Override Street", order.Customer.ShippingAddress)
}

func TestSetLineAddAndRemove(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	product := testProduct("A", 10, 1, CategoryTextbook)
	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(&Cart{CustomerID: "cust-1"}, nil).Once()
	mockRepo.On("GetProduct", mock.Anything, "A").Return(product, nil)
	mockRepo.On("SaveCart", mock.Anything, mock.AnythingOfType("*main.Cart")).Return(nil)

	uc := NewCartUseCase(mockRepo)

	// Act: adiciona
	cart, err := uc.SetLine(context.Background(), "cust-1", "A", 2)

	// Assert: linha enriquecida com o snapshot do produto
	assert.NoError(t, err)
	assert.Len(t, cart.Lines, 1)
	assert.Equal(t, CategoryTextbook, cart.Lines[0].CategoryTagSnapshot)
	assert.True(t, cart.TotalAmount.Equal(decimal.NewFromInt(200)))

	// Act: remove com bundleCount 0 (não consulta o catálogo)
	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(cart, nil).Once()
	cart, err = uc.SetLine(context.Background(), "cust-1", "A", 0)

	assert.NoError(t, err)
	assert.Len(t, cart.Lines, 0)
	assert.True(t, cart.TotalAmount.IsZero())
}

func TestSetLineProductNotFound(t *testing.T) {
	mockRepo := new(MockRepository)
	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(&Cart{CustomerID: "cust-1"}, nil)
	mockRepo.On("GetProduct", mock.Anything, "ghost").Return(nil, pgx.ErrNoRows)

	uc := NewCartUseCase(mockRepo)

	_, err := uc.SetLine(context.Background(), "cust-1", "ghost", 1)

	var checkoutErr *CheckoutError
	assert.ErrorAs(t, err, &checkoutErr)
	assert.Equal(t, CodeProductNotFound, checkoutErr.Code)
	mockRepo.AssertNotCalled(t, "SaveCart", mock.Anything, mock.Anything)
}

func TestSetLinesAllOrNothingPrecheck(t *testing.T) {
	// Arrange: B sem estoque suficiente; nada pode ser gravado
	products := map[string]*Product{
		"A": testProduct("A", 10, 1, CategoryTextbook),
		"B": testProduct("B", 0, 1, "STATIONARY"),
	}
	mockRepo := new(MockRepository)
	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(&Cart{CustomerID: "cust-1"}, nil)
	mockRepo.On("GetProducts", mock.Anything, []string{"A", "B"}).Return(products, nil)

	uc := NewCartUseCase(mockRepo)

	// Act
	_, err := uc.SetLines(context.Background(), "cust-1", []SetLineRequest{
		{ProductID: "A", BundleCount: 1},
		{ProductID: "B", BundleCount: 1},
	})

	// Assert: erro estruturado e nenhuma escrita
	var checkoutErr *CheckoutError
	assert.ErrorAs(t, err, &checkoutErr)
	assert.Equal(t, CodeInsufficientStock, checkoutErr.Code)
	mockRepo.AssertNotCalled(t, "SaveCart", mock.Anything, mock.Anything)
}

func TestSetLinesWritesWhenAllPass(t *testing.T) {
	products := map[string]*Product{
		"A": testProduct("A", 10, 1, CategoryTextbook),
		"B": testProduct("B", 10, 1, "STATIONARY"),
	}
	mockRepo := new(MockRepository)
	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(&Cart{CustomerID: "cust-1"}, nil)
	mockRepo.On("GetProducts", mock.Anything, []string{"A", "B"}).Return(products, nil)
	mockRepo.On("SaveCart", mock.Anything, mock.AnythingOfType("*main.Cart")).Return(nil)

	uc := NewCartUseCase(mockRepo)

	cart, err := uc.SetLines(context.Background(), "cust-1", []SetLineRequest{
		{ProductID: "A", BundleCount: 2},
		{ProductID: "B", BundleCount: 1},
	})

	assert.NoError(t, err)
	assert.Len(t, cart.Lines, 2)
	assert.True(t, cart.TotalAmount.Equal(decimal.NewFromInt(300)))
	mockRepo.AssertExpectations(t)
}

func TestGetCartRepairsLegacyLines(t *testing.T) {
	// Arrange: linha legada sem snapshot
	legacy := &Cart{
		CustomerID: "cust-1",
		Lines:      []CartLine{{ProductID: "A", BundleCount: 2}},
	}
	product := testProduct("A", 10, 4, CategoryTextbook)

	mockRepo := new(MockRepository)
	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(legacy, nil)
	mockRepo.On("GetProduct", mock.Anything, "A").Return(product, nil)
	mockRepo.On("SaveCart", mock.Anything, mock.AnythingOfType("*main.Cart")).Return(nil)

	uc := NewCartUseCase(mockRepo)

	// Act
	cart, err := uc.GetCart(context.Background(), "cust-1")

	// Assert: snapshot preenchido e total recalculado
	assert.NoError(t, err)
	assert.Equal(t, 4, cart.Lines[0].UnitsPerBundleSnapshot)
	assert.Equal(t, CategoryTextbook, cart.Lines[0].CategoryTagSnapshot)
	assert.True(t, cart.TotalAmount.Equal(decimal.NewFromInt(200)))
	mockRepo.AssertExpectations(t)
}

func TestGetCartBackfillWriteFailureDoesNotFailRead(t *testing.T) {
	// Arrange: o backfill é melhor-esforço; a escrita falhando, a leitura segue
	legacy := &Cart{
		CustomerID: "cust-1",
		Lines:      []CartLine{{ProductID: "A", BundleCount: 1}},
	}
	mockRepo := new(MockRepository)
	mockRepo.On("GetCart", mock.Anything, "cust-1").Return(legacy, nil)
	mockRepo.On("GetProduct", mock.Anything, "A").Return(testProduct("A", 10, 1, CategoryTextbook), nil)
	mockRepo.On("SaveCart", mock.Anything, mock.AnythingOfType("*main.Cart")).Return(errors.New("disk full"))

	uc := NewCartUseCase(mockRepo)

	// Act
	cart, err := uc.GetCart(context.Background(), "cust-1")

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, CategoryTextbook, cart.Lines[0].CategoryTagSnapshot)
}
