package tracking

import (
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/api/models"
)

const (
	UIReferrerHeader   = "X-UI-Referrer"
	ClientSourceHeader = "X-Client-Source"
)

var mobileClientTokens = []string{"okhttp", "dart", "cfnetwork", "reactnative", "expo"}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then gin's
// view of the remote address.
func ClientIP(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := normalizeIP(first); ip != "" {
			return ip
		}
	}
	if xri := normalizeIP(c.GetHeader("X-Real-IP")); xri != "" {
		return xri
	}
	return normalizeIP(c.ClientIP())
}

func normalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	return strings.TrimPrefix(ip, "::ffff:")
}

// DetectSource tells mobile app traffic apart from browser traffic.
func DetectSource(c *gin.Context) models.Source {
	if strings.EqualFold(c.GetHeader(ClientSourceHeader), string(models.SourceMobile)) {
		return models.SourceMobile
	}
	ua := strings.ToLower(c.GetHeader("User-Agent"))
	if containsAny(ua, mobileClientTokens) {
		return models.SourceMobile
	}
	return models.SourceWeb
}

// HTTPReferrer reads Referer, falling back to Referrer.
func HTTPReferrer(c *gin.Context) string {
	if ref := c.GetHeader("Referer"); ref != "" {
		return ref
	}
	return c.GetHeader("Referrer")
}
