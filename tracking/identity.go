package tracking

import (
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	BrowserIDHeader = "X-Browser-Id"
	BrowserIDCookie = "bid"

	browserIDKey = "tracking.browser_id"
)

var browserIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

// Identity resolves the stable per-browser identifier.
type Identity struct {
	MaxAge time.Duration
	Secure bool
	Domain string
}

// Resolve returns the browser id for the request, taken from the header or
// cookie, or freshly generated and persisted on the response. Repeated calls
// within one request return the same value.
func (i Identity) Resolve(c *gin.Context) string {
	if v, ok := c.Get(browserIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}

	id := c.GetHeader(BrowserIDHeader)
	if !browserIDPattern.MatchString(id) {
		id = ""
		if cookie, err := c.Cookie(BrowserIDCookie); err == nil && browserIDPattern.MatchString(cookie) {
			id = cookie
		}
	}
	if id == "" {
		id = uuid.NewString()
		maxAge := int(i.MaxAge / time.Second)
		if maxAge <= 0 {
			maxAge = int(365 * 24 * time.Hour / time.Second)
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(BrowserIDCookie, id, maxAge, "/", i.Domain, i.Secure, true)
	}
	c.Header(BrowserIDHeader, id)
	c.Set(browserIDKey, id)
	return id
}

// BrowserID returns the id resolved earlier in this request, if any.
func BrowserID(c *gin.Context) string {
	return c.GetString(browserIDKey)
}
