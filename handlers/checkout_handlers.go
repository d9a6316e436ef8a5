package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"storefront/api/logger"
	"storefront/api/middleware"
	"storefront/api/models"
	"storefront/api/tracking"
)

type OrderStore interface {
	CreateOrder(ctx context.Context, customerID int64, items []models.OrderItem) (*models.Order, error)
}

type CheckoutHandlers struct {
	Orders OrderStore
	log    zerolog.Logger
}

func NewCheckoutHandlers(orders OrderStore) *CheckoutHandlers {
	return &CheckoutHandlers{Orders: orders, log: logger.Component("checkout")}
}

// Complete places the order for the authenticated customer.
func (h *CheckoutHandlers) Complete(c *gin.Context) {
	var req models.CheckoutCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	customerID := middleware.CustomerID(c)
	order, err := h.Orders.CreateOrder(c.Request.Context(), customerID, req.Items)
	if err != nil {
		h.log.Error().Err(err).Int64("customer_id", customerID).Msg("failed to create order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to place order"})
		return
	}

	tracking.Emit(c, tracking.OrderPlaced{OrderID: order.ID, CustomerID: customerID})
	c.JSON(http.StatusOK, gin.H{"orderId": order.ID, "order": order})
}
