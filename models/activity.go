// api/models/activity.go
package models

import (
	"time"
)

// Activity actions recognised by the classifier.
const (
	ActionLogin       = "login"
	ActionLogout      = "logout"
	ActionViewProduct = "view_product"
	ActionSearch      = "search"
	ActionAddToCart   = "add_to_cart"
	ActionCheckout    = "checkout"
	ActionOrder       = "order"
	ActionRegister    = "register"
	ActionOther       = "other"
)

type EntityType string

const (
	EntityProduct  EntityType = "Product"
	EntityOrder    EntityType = "Order"
	EntityCustomer EntityType = "Customer"
	EntityCategory EntityType = "Category"
	EntityCart     EntityType = "Cart"
	EntityWishlist EntityType = "Wishlist"
	EntitySearch   EntityType = "Search"
	EntityAuth     EntityType = "Auth"
	EntityOther    EntityType = "Other"
)

// UserActivity is one append-only entry of the activity log.
type UserActivity struct {
	ActivityID   string         `json:"activityId"`
	Action       string         `json:"action"`
	EntityType   EntityType     `json:"entityType"`
	ProductID    int64          `json:"productId,omitempty"`
	OrderID      int64          `json:"orderId,omitempty"`
	CategoryID   int64          `json:"categoryId,omitempty"`
	EntityID     string         `json:"entityId,omitempty"`
	ActivityData map[string]any `json:"activityData"`
	CustomerID   int64          `json:"customer,omitempty"`
	BrowserID    string         `json:"browserId"`
	IPAddress    string         `json:"ipAddress"`
	UserAgent    string         `json:"userAgent"`
	Source       Source         `json:"source"`
	LastActivity time.Time      `json:"lastActivity"`
}

type ActionCountByTime struct {
	Time   time.Time `json:"time"`
	Action *string   `json:"action,omitempty"`
	Count  uint64    `json:"count"`
}

type TopProductResult struct {
	ProductID int64  `json:"productId"`
	Views     uint64 `json:"views"`
}
