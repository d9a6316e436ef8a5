package tracking

import "github.com/gin-gonic/gin"

const eventsKey = "tracking.events"

// Event is a domain fact a handler reports so the tracker does not have to
// inspect response bodies.
type Event interface {
	EventName() string
}

type CustomerLoggedIn struct {
	CustomerID int64
}

type CustomerRegistered struct {
	CustomerID int64
}

type CustomerLoggedOut struct {
	CustomerID int64
}

type OrderPlaced struct {
	OrderID    int64
	CustomerID int64
}

// AdminLoggedIn marks a login that authenticated an administrator. Admins
// are not tracked, so the tracker discards what it recorded for the request.
type AdminLoggedIn struct {
	AdminID int64
}

type CartItemAdded struct {
	ProductID int64
	Quantity  int
}

func (CustomerLoggedIn) EventName() string   { return "customer_logged_in" }
func (CustomerRegistered) EventName() string { return "customer_registered" }
func (CustomerLoggedOut) EventName() string  { return "customer_logged_out" }
func (OrderPlaced) EventName() string        { return "order_placed" }
func (CartItemAdded) EventName() string      { return "cart_item_added" }
func (AdminLoggedIn) EventName() string      { return "admin_logged_in" }

// Emit attaches ev to the request so the tracker sees it once the handler returns.
func Emit(c *gin.Context, ev Event) {
	events := EventsFrom(c)
	c.Set(eventsKey, append(events, ev))
}

// EventsFrom returns the events emitted so far during this request.
func EventsFrom(c *gin.Context) []Event {
	v, ok := c.Get(eventsKey)
	if !ok {
		return nil
	}
	events, _ := v.([]Event)
	return events
}

// identifiedCustomer returns the customer id carried by a login or
// registration event, or 0.
func identifiedCustomer(events []Event) int64 {
	var id int64
	for _, ev := range events {
		switch e := ev.(type) {
		case CustomerLoggedIn:
			id = e.CustomerID
		case CustomerRegistered:
			id = e.CustomerID
		}
	}
	return id
}

func identifiedAdmin(events []Event) bool {
	for _, ev := range events {
		if _, ok := ev.(AdminLoggedIn); ok {
			return true
		}
	}
	return false
}
