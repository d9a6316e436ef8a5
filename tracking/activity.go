package tracking

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"storefront/api/models"
)

var (
	productPathPattern  = regexp.MustCompile(`/products?/(\d+)/?$`)
	categoryPathPattern = regexp.MustCompile(`/categor(?:y|ies)/(\d+)/?$`)
	cartAddPathPattern  = regexp.MustCompile(`/cart/add/(\d+)/?$`)
)

// ClassifyAction maps a completed request to an activity action. Rules are
// checked in order and the first match wins; /checkout/complete is tested
// before the broader /checkout rule.
func ClassifyAction(method, path string, status int) string {
	switch {
	case strings.Contains(path, "/login") && method == http.MethodPost && status == http.StatusOK:
		return models.ActionLogin
	case strings.Contains(path, "/logout") && status == http.StatusOK:
		return models.ActionLogout
	case method == http.MethodGet && productPathPattern.MatchString(path):
		return models.ActionViewProduct
	case strings.Contains(path, "/search") && method == http.MethodGet:
		return models.ActionSearch
	case strings.Contains(path, "/cart/add") && method == http.MethodPost:
		return models.ActionAddToCart
	case strings.Contains(path, "/checkout/complete") && method == http.MethodPost && status == http.StatusOK:
		return models.ActionOrder
	case strings.Contains(path, "/checkout") && method == http.MethodPost:
		return models.ActionCheckout
	case (strings.Contains(path, "/register") || strings.Contains(path, "/signup")) &&
		method == http.MethodPost && status == http.StatusCreated:
		return models.ActionRegister
	default:
		return models.ActionOther
	}
}

// EntityRef is the entity an activity is attributed to.
type EntityRef struct {
	Type       models.EntityType
	ProductID  int64
	OrderID    int64
	CategoryID int64
	EntityID   string
}

// AttributeEntity resolves the entity reference for an action using the
// request path, the search query and any emitted events.
func AttributeEntity(action, path, query string, events []Event) EntityRef {
	switch action {
	case models.ActionLogin, models.ActionLogout:
		ref := EntityRef{Type: models.EntityAuth}
		if id := eventCustomer(events); id != 0 {
			ref.EntityID = strconv.FormatInt(id, 10)
		}
		return ref
	case models.ActionRegister:
		ref := EntityRef{Type: models.EntityCustomer}
		if id := identifiedCustomer(events); id != 0 {
			ref.EntityID = strconv.FormatInt(id, 10)
		}
		return ref
	case models.ActionViewProduct:
		return EntityRef{Type: models.EntityProduct, ProductID: pathID(productPathPattern, path)}
	case models.ActionSearch:
		return EntityRef{Type: models.EntitySearch, EntityID: query}
	case models.ActionAddToCart:
		ref := EntityRef{Type: models.EntityCart, ProductID: pathID(cartAddPathPattern, path)}
		for _, ev := range events {
			if e, ok := ev.(CartItemAdded); ok {
				ref.ProductID = e.ProductID
			}
		}
		return ref
	case models.ActionCheckout:
		return EntityRef{Type: models.EntityOrder}
	case models.ActionOrder:
		ref := EntityRef{Type: models.EntityOrder}
		for _, ev := range events {
			if e, ok := ev.(OrderPlaced); ok {
				ref.OrderID = e.OrderID
			}
		}
		return ref
	}

	switch {
	case categoryPathPattern.MatchString(path):
		return EntityRef{Type: models.EntityCategory, CategoryID: pathID(categoryPathPattern, path)}
	case strings.Contains(path, "/wishlist"):
		return EntityRef{Type: models.EntityWishlist}
	default:
		return EntityRef{Type: models.EntityOther}
	}
}

func eventCustomer(events []Event) int64 {
	for _, ev := range events {
		if e, ok := ev.(CustomerLoggedOut); ok {
			return e.CustomerID
		}
	}
	return identifiedCustomer(events)
}

func pathID(re *regexp.Regexp, path string) int64 {
	m := re.FindStringSubmatch(path)
	if len(m) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Completion is everything known about a tracked request once its response
// has been written.
type Completion struct {
	Visit      Visit
	CustomerID int64
	Status     int
	Duration   time.Duration
	Query      string
	Events     []Event
}

// BuildActivity produces the activity log entry for a completed request.
func BuildActivity(done Completion) models.UserActivity {
	v := done.Visit
	action := ClassifyAction(v.Method, v.Path, done.Status)
	ref := AttributeEntity(action, v.Path, done.Query, done.Events)

	data := map[string]any{
		"method":     v.Method,
		"path":       v.Path,
		"status":     done.Status,
		"durationMs": done.Duration.Milliseconds(),
	}
	if v.Referrer != "" {
		data["referrer"] = v.Referrer
	}
	if action == models.ActionSearch && done.Query != "" {
		data["query"] = done.Query
	}
	for _, ev := range done.Events {
		switch e := ev.(type) {
		case OrderPlaced:
			data["orderId"] = e.OrderID
		case CartItemAdded:
			data["productId"] = e.ProductID
			data["quantity"] = e.Quantity
		case CustomerLoggedIn:
			data["customerId"] = e.CustomerID
		case CustomerRegistered:
			data["customerId"] = e.CustomerID
		case CustomerLoggedOut:
			data["customerId"] = e.CustomerID
		}
	}

	return models.UserActivity{
		ActivityID:   uuid.NewString(),
		Action:       action,
		EntityType:   ref.Type,
		ProductID:    ref.ProductID,
		OrderID:      ref.OrderID,
		CategoryID:   ref.CategoryID,
		EntityID:     ref.EntityID,
		ActivityData: data,
		CustomerID:   done.CustomerID,
		BrowserID:    v.BrowserID,
		IPAddress:    v.IPAddress,
		UserAgent:    v.UserAgent,
		Source:       v.Source,
		LastActivity: v.At.Add(done.Duration),
	}
}
