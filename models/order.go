package models

import "time"

type OrderItem struct {
	ProductID int64 `json:"productId" binding:"required,gt=0"`
	Quantity  int   `json:"quantity" binding:"required,gt=0"`
	UnitCents int64 `json:"unitCents" binding:"gte=0"`
}

type CheckoutCompleteRequest struct {
	Items []OrderItem `json:"items" binding:"required,min=1,dive"`
}

type Order struct {
	ID         int64     `json:"orderId"`
	CustomerID int64     `json:"customerId"`
	TotalCents int64     `json:"totalCents"`
	ItemCount  int       `json:"itemCount"`
	CreatedAt  time.Time `json:"createdAt"`
}
