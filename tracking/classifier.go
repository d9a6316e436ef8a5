// Package tracking records storefront sessions and activity: it classifies
// inbound requests, attributes them to a browser id, merges them into the
// per-browser OnlineUser record and appends a UserActivity once the response
// has been written.
package tracking

import (
	"strings"

	"storefront/api/config"
)

// RequestInfo is the part of a request the classifier looks at.
type RequestInfo struct {
	Path        string
	Method      string
	UserAgent   string
	Referrer    string
	HasCustomer bool
	IsAdmin     bool
}

// SkipReason says why a request is not tracked. SkipNone means track it.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipExcludedPath    SkipReason = "excluded_path"
	SkipAdminReferrer   SkipReason = "admin_referrer"
	SkipWebhook         SkipReason = "webhook"
	SkipBot             SkipReason = "bot"
	SkipSSRProbe        SkipReason = "ssr_probe"
	SkipAdmin           SkipReason = "admin"
	SkipClassifierError SkipReason = "classifier_error"
)

type Classifier struct {
	excludedPrefixes []string
	bots             []string
	webhooks         []string
	serverRuntimes   []string
	clientTokens     []string
}

func NewClassifier(rules config.Rules) *Classifier {
	return &Classifier{
		excludedPrefixes: rules.ExcludedPrefixes,
		bots:             lowerAll(rules.BotSignatures),
		webhooks:         lowerAll(rules.WebhookSignatures),
		serverRuntimes:   lowerAll(rules.ServerRuntimes),
		clientTokens:     lowerAll(rules.ClientTokens),
	}
}

// Classify returns the first matching skip reason. It never panics; a
// failure inside classification is reported as SkipClassifierError.
func (c *Classifier) Classify(req RequestInfo) (reason SkipReason) {
	defer func() {
		if r := recover(); r != nil {
			reason = SkipClassifierError
		}
	}()

	if c.excludedPath(req.Path) {
		return SkipExcludedPath
	}
	if strings.Contains(req.Referrer, "/admin") {
		return SkipAdminReferrer
	}
	ua := strings.ToLower(req.UserAgent)
	if containsAny(ua, c.webhooks) {
		return SkipWebhook
	}
	if containsAny(ua, c.bots) {
		return SkipBot
	}
	if !req.HasCustomer && !req.IsAdmin &&
		containsAny(ua, c.serverRuntimes) && !containsAny(ua, c.clientTokens) {
		return SkipSSRProbe
	}
	if req.IsAdmin {
		return SkipAdmin
	}
	return SkipNone
}

func (c *Classifier) ShouldSkip(req RequestInfo) bool {
	return c.Classify(req) != SkipNone
}

func (c *Classifier) excludedPath(path string) bool {
	for _, prefix := range c.excludedPrefixes {
		if prefix == "" {
			continue
		}
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

func containsAny(s string, fragments []string) bool {
	if s == "" {
		return false
	}
	for _, f := range fragments {
		if f != "" && strings.Contains(s, f) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
