package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CartUseCaseInterface define a interface do use case de carrinho
type CartUseCaseInterface interface {
	GetCart(ctx context.Context, customerID string) (*Cart, error)
	SetLine(ctx context.Context, customerID, productID string, bundleCount int) (*Cart, error)
	SetLines(ctx context.Context, customerID string, items []SetLineRequest) (*Cart, error)
}

// CheckoutUseCaseInterface define a interface do use case de checkout
type CheckoutUseCaseInterface interface {
	ValidateCheckout(ctx context.Context, customerID string) error
	CommitOrder(ctx context.Context, customerID string, proof PaymentProof, shipping *ShippingOverride) (*Order, error)
}

// CheckoutHandler contém os handlers HTTP
type CheckoutHandler struct {
	cartUseCase     CartUseCaseInterface
	checkoutUseCase CheckoutUseCaseInterface
	tracer          trace.Tracer
	commitAttempts  metric.Int64Counter
	commitConflicts metric.Int64Counter
}

// NewCheckoutHandler cria uma nova instância de CheckoutHandler
func NewCheckoutHandler(cartUseCase CartUseCaseInterface, checkoutUseCase CheckoutUseCaseInterface, tracer trace.Tracer) *CheckoutHandler {
	meter := otel.Meter("checkout-service")
	commitAttempts, _ := meter.Int64Counter("checkout.commit.attempts")
	commitConflicts, _ := meter.Int64Counter("checkout.commit.conflicts")

	return &CheckoutHandler{
		cartUseCase:     cartUseCase,
		checkoutUseCase: checkoutUseCase,
		tracer:          tracer,
		commitAttempts:  commitAttempts,
		commitConflicts: commitConflicts,
	}
}

// GetCart retorna o carrinho do cliente (com reparo preguiçoso de snapshots)
func (h *CheckoutHandler) GetCart(c *gin.Context) {
	customerID := c.Param("customerID")

	ctx, span := h.tracer.Start(c.Request.Context(), "cart.get")
	defer span.End()
	span.SetAttributes(attribute.String("customer_id", customerID))

	cart, err := h.cartUseCase.GetCart(ctx, customerID)
	if err != nil {
		span.RecordError(err)
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// SetLine grava uma linha do carrinho
func (h *CheckoutHandler) SetLine(c *gin.Context) {
	customerID := c.Param("customerID")

	var req SetLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "cart.set_line")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer_id", customerID),
		attribute.String("product_id", req.ProductID),
		attribute.Int("bundle_count", req.BundleCount),
	)

	cart, err := h.cartUseCase.SetLine(ctx, customerID, req.ProductID, req.BundleCount)
	if err != nil {
		span.RecordError(err)
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// SetLines grava várias linhas de uma vez, com pré-checagem tudo-ou-nada
func (h *CheckoutHandler) SetLines(c *gin.Context) {
	customerID := c.Param("customerID")

	var req SetLinesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "cart.set_lines")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer_id", customerID),
		attribute.Int("item_count", len(req.Items)),
	)

	cart, err := h.cartUseCase.SetLines(ctx, customerID, req.Items)
	if err != nil {
		span.RecordError(err)
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// ValidateCheckout roda a pré-checagem consultiva de estoque
func (h *CheckoutHandler) ValidateCheckout(c *gin.Context) {
	customerID := c.Param("customerID")

	ctx, span := h.tracer.Start(c.Request.Context(), "checkout.validate")
	defer span.End()
	span.SetAttributes(attribute.String("customer_id", customerID))

	if err := h.checkoutUseCase.ValidateCheckout(ctx, customerID); err != nil {
		span.RecordError(err)
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// CommitOrder converte o carrinho em pedido dentro da transação atômica
func (h *CheckoutHandler) CommitOrder(c *gin.Context) {
	customerID := c.Param("customerID")

	var req CommitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "checkout.commit")
	defer span.End()
	span.SetAttributes(attribute.String("customer_id", customerID))

	h.commitAttempts.Add(ctx, 1)

	proof := PaymentProof{
		OrderRef:  req.PaymentOrderRef,
		PaymentID: req.PaymentID,
		Signature: req.PaymentSignature,
	}

	order, err := h.checkoutUseCase.CommitOrder(ctx, customerID, proof, req.Shipping)
	if err != nil {
		span.RecordError(err)
		var checkoutErr *CheckoutError
		if errors.As(err, &checkoutErr) && checkoutErr.Code == CodeInsufficientStock {
			h.commitConflicts.Add(ctx, 1)
		}
		h.writeError(c, err)
		return
	}

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("order_number", order.Number),
	)
	c.JSON(http.StatusCreated, order)
}

// HealthCheck verifica a saúde do serviço
func (h *CheckoutHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "checkout-service",
	})
}

// writeError mapeia os erros de negócio para status HTTP
func (h *CheckoutHandler) writeError(c *gin.Context, err error) {
	var checkoutErr *CheckoutError
	if errors.As(err, &checkoutErr) {
		body := gin.H{
			"error": checkoutErr.Message,
			"code":  checkoutErr.Code,
		}
		// só a falha parcial carrega a lista; a bloqueante é mensagem fixa
		if len(checkoutErr.ExcludableTags) > 0 {
			body["excludable_tags"] = checkoutErr.ExcludableTags
		}
		c.JSON(statusForCode(checkoutErr.Code), body)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func statusForCode(code string) int {
	switch code {
	case CodeInsufficientStock:
		return http.StatusConflict
	case CodeCartEmpty, CodeInvalidPayment:
		return http.StatusUnprocessableEntity
	case CodeProductNotFound:
		return http.StatusNotFound
	case CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
