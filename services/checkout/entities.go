package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product representa um registro do catálogo (somente leitura para o checkout,
// exceto o decremento de estoque feito pelo committer)
type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Author         string          `json:"author"`
	Price          decimal.Decimal `json:"price"`
	StockQuantity  int             `json:"stock_quantity"`
	UnitsPerBundle int             `json:"units_per_bundle"`
	CategoryTag    string          `json:"category_tag"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AvailableBundles calcula quantos pacotes completos o estoque atual cobre
func (p *Product) AvailableBundles() int {
	if p.UnitsPerBundle <= 1 {
		return p.StockQuantity
	}
	return p.StockQuantity / p.UnitsPerBundle
}

// CartLine representa um item do carrinho com snapshot desnormalizado do produto
type CartLine struct {
	ProductID              string          `json:"product_id"`
	BundleCount            int             `json:"bundle_count"`
	PriceSnapshot          decimal.Decimal `json:"price_snapshot"`
	UnitsPerBundleSnapshot int             `json:"units_per_bundle_snapshot"`
	CategoryTagSnapshot    string          `json:"category_tag_snapshot"`
}

// RequiredUnits retorna quantas unidades base a linha consome do estoque
func (l CartLine) RequiredUnits() int {
	units := l.UnitsPerBundleSnapshot
	if units < 1 {
		units = 1
	}
	return l.BundleCount * units
}

// Subtotal retorna priceSnapshot × bundleCount
func (l CartLine) Subtotal() decimal.Decimal {
	return l.PriceSnapshot.Mul(decimal.NewFromInt(int64(l.BundleCount)))
}

// NeedsRepair indica que a linha veio de dados legados sem os campos de snapshot
func (l CartLine) NeedsRepair() bool {
	return l.UnitsPerBundleSnapshot == 0 || l.CategoryTagSnapshot == ""
}

// Cart representa o carrinho ativo de um cliente (um por cliente)
type Cart struct {
	CustomerID  string          `json:"customer_id"`
	Lines       []CartLine      `json:"lines"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RecomputeTotal recalcula o total do zero a partir das linhas (nunca incremental)
func (c *Cart) RecomputeTotal() {
	total := decimal.Zero
	for _, line := range c.Lines {
		total = total.Add(line.Subtotal())
	}
	c.TotalAmount = total
}

// ApplyLine insere/atualiza a linha do produto; bundleCount 0 remove a linha
func (c *Cart) ApplyLine(line CartLine) {
	for i, existing := range c.Lines {
		if existing.ProductID == line.ProductID {
			if line.BundleCount == 0 {
				c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			} else {
				c.Lines[i] = line
			}
			c.RecomputeTotal()
			return
		}
	}
	if line.BundleCount > 0 {
		c.Lines = append(c.Lines, line)
	}
	c.RecomputeTotal()
}

// ProductIDs retorna os ids de produto das linhas, na ordem do carrinho
func (c *Cart) ProductIDs() []string {
	ids := make([]string, 0, len(c.Lines))
	for _, line := range c.Lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

// NewCartLine monta uma linha enriquecida com o snapshot do produto
func NewCartLine(product *Product, bundleCount int) CartLine {
	return CartLine{
		ProductID:              product.ID,
		BundleCount:            bundleCount,
		PriceSnapshot:          product.Price,
		UnitsPerBundleSnapshot: product.UnitsPerBundle,
		CategoryTagSnapshot:    product.CategoryTag,
	}
}

// CustomerSnapshot representa os dados do cliente copiados para o pedido
type CustomerSnapshot struct {
	CustomerID      string `json:"customer_id"`
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	Email           string `json:"email"`
	School          string `json:"school"`
	ShippingAddress string `json:"shipping_address"`
}

// ShippingOverride substitui o endereço padrão vindo do cadastro do cliente
type ShippingOverride struct {
	Name            string `json:"name,omitempty"`
	Phone           string `json:"phone,omitempty"`
	ShippingAddress string `json:"shipping_address,omitempty"`
}

// Apply sobrescreve apenas os campos preenchidos do override
func (s *CustomerSnapshot) Apply(override *ShippingOverride) {
	if override == nil {
		return
	}
	if override.Name != "" {
		s.Name = override.Name
	}
	if override.Phone != "" {
		s.Phone = override.Phone
	}
	if override.ShippingAddress != "" {
		s.ShippingAddress = override.ShippingAddress
	}
}

// PaymentProof é a prova de pagamento já verificada pelo gateway externo.
// O committer valida apenas presença dos campos, nunca a assinatura.
type PaymentProof struct {
	OrderRef  string `json:"payment_order_ref"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"payment_signature"`
}

// Valid verifica presença dos três identificadores
func (p PaymentProof) Valid() bool {
	return p.OrderRef != "" && p.PaymentID != "" && p.Signature != ""
}

// Status do pedido após um commit bem sucedido
const (
	PaymentStatusPaid     = "paid"
	OrderStatusConfirmed  = "confirmed"
	DeliveryStatusPending = "pending"
)

// OrderItem é a cópia imutável de uma linha do carrinho no momento do commit
type OrderItem struct {
	ProductID   string          `json:"product_id"`
	Name        string          `json:"name"`
	Author      string          `json:"author"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	BundleCount int             `json:"bundle_count"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	CategoryTag string          `json:"category_tag"`
}

// Order representa um pedido confirmado. Imutável após a criação; apenas os
// campos de status pertencem ao fluxo de entrega (fora deste serviço).
type Order struct {
	ID               string           `json:"id"`
	Number           string           `json:"number"`
	CustomerID       string           `json:"customer_id"`
	Customer         CustomerSnapshot `json:"customer"`
	Items            []OrderItem      `json:"items"`
	Subtotal         decimal.Decimal  `json:"subtotal"`
	DeliveryCharge   decimal.Decimal  `json:"delivery_charge"`
	Total            decimal.Decimal  `json:"total"`
	PaymentOrderRef  string           `json:"payment_order_ref"`
	PaymentID        string           `json:"payment_id"`
	PaymentSignature string           `json:"payment_signature"`
	PaymentStatus    string           `json:"payment_status"`
	OrderStatus      string           `json:"order_status"`
	DeliveryStatus   string           `json:"delivery_status"`
	CreatedAt        time.Time        `json:"created_at"`
}

// NewOrderFromCart monta o pedido imutável a partir do snapshot do carrinho.
// O total cobrado é sempre subtotal + entrega, sem nenhuma taxa escondida.
func NewOrderFromCart(customer CustomerSnapshot, lines []CartLine, products map[string]*Product, proof PaymentProof, deliveryCharge decimal.Decimal) *Order {
	items := make([]OrderItem, 0, len(lines))
	subtotal := decimal.Zero
	for _, line := range lines {
		item := OrderItem{
			ProductID:   line.ProductID,
			UnitPrice:   line.PriceSnapshot,
			BundleCount: line.BundleCount,
			Subtotal:    line.Subtotal(),
			CategoryTag: line.CategoryTagSnapshot,
		}
		if product, ok := products[line.ProductID]; ok && product != nil {
			item.Name = product.Name
			item.Author = product.Author
		}
		items = append(items, item)
		subtotal = subtotal.Add(item.Subtotal)
	}

	return &Order{
		ID:               uuid.New().String(),
		Number:           newOrderNumber(),
		CustomerID:       customer.CustomerID,
		Customer:         customer,
		Items:            items,
		Subtotal:         subtotal,
		DeliveryCharge:   deliveryCharge,
		Total:            subtotal.Add(deliveryCharge),
		PaymentOrderRef:  proof.OrderRef,
		PaymentID:        proof.PaymentID,
		PaymentSignature: proof.Signature,
		PaymentStatus:    PaymentStatusPaid,
		OrderStatus:      OrderStatusConfirmed,
		DeliveryStatus:   DeliveryStatusPending,
		CreatedAt:        time.Now(),
	}
}

// newOrderNumber gera um número legível: data + sufixo aleatório.
// Único por convenção, sem constraint no banco.
func newOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:8]
	return fmt.Sprintf("ORD-%s-%s", time.Now().Format("20060102"), suffix)
}

// Códigos dos erros de negócio do checkout
const (
	CodeCartEmpty         = "CART_EMPTY"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeInvalidPayment    = "INVALID_PAYMENT_PROOF"
	CodeTransient         = "TRANSIENT_FAILURE"
	CodeProductNotFound   = "PRODUCT_NOT_FOUND"
)

// CheckoutError representa uma falha de negócio estruturada do checkout
type CheckoutError struct {
	Code           string   `json:"code"`
	Message        string   `json:"message"`
	ExcludableTags []string `json:"excludable_tags,omitempty"`
}

func (e *CheckoutError) Error() string {
	return e.Message
}

// Erros customizados
var (
	ErrCartEmpty           = &CheckoutError{Code: CodeCartEmpty, Message: "cart has no items"}
	ErrInvalidPaymentProof = &CheckoutError{Code: CodeInvalidPayment, Message: "payment proof is missing required fields"}
	ErrTransientFailure    = &CheckoutError{Code: CodeTransient, Message: "checkout could not be completed, please retry"}
)

// Requests da API HTTP

// SetLineRequest representa a requisição para gravar uma linha do carrinho
type SetLineRequest struct {
	ProductID   string `json:"product_id" binding:"required"`
	BundleCount int    `json:"bundle_count" binding:"gte=0"`
}

// SetLinesRequest representa a gravação em lote (tudo-ou-nada)
type SetLinesRequest struct {
	Items []SetLineRequest `json:"items" binding:"required,dive"`
}

// CommitOrderRequest representa a requisição de commit do pedido.
// Os campos de pagamento são checados pelo use case, não pelo binding,
// para que a resposta carregue o código de erro estruturado.
type CommitOrderRequest struct {
	PaymentOrderRef  string            `json:"payment_order_ref"`
	PaymentID        string            `json:"payment_id"`
	PaymentSignature string            `json:"payment_signature"`
	Shipping         *ShippingOverride `json:"shipping,omitempty"`
}
