package tracking

import (
	"net/url"
	"path"
	"strings"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".svg": true, ".ico": true, ".bmp": true, ".avif": true,
}

var staticExtensions = map[string]bool{
	".js": true, ".css": true, ".map": true, ".woff": true, ".woff2": true, ".ttf": true,
}

var noisePathFragments = []string{
	"/images/", "/img/", "/uploads/",
	"/api/admin",
	"/static/", "/assets/", "/_next/",
}

// IsPageURL reports whether u looks like a page a person navigated to rather
// than an image, admin API call or static asset.
func IsPageURL(u string) bool {
	u = strings.TrimSpace(u)
	if u == "" {
		return false
	}
	p := u
	if parsed, err := url.Parse(u); err == nil && parsed.Path != "" {
		p = parsed.Path
	}
	p = strings.ToLower(p)

	ext := path.Ext(p)
	if imageExtensions[ext] || staticExtensions[ext] {
		return false
	}
	for _, frag := range noisePathFragments {
		if strings.Contains(p, frag) {
			return false
		}
	}
	return true
}

// SelectReferrer picks the UI-supplied referrer when it is a page URL,
// otherwise the HTTP referrer when it is one, otherwise "".
func SelectReferrer(uiReferrer, httpReferrer string) string {
	if IsPageURL(uiReferrer) {
		return strings.TrimSpace(uiReferrer)
	}
	if IsPageURL(httpReferrer) {
		return strings.TrimSpace(httpReferrer)
	}
	return ""
}
