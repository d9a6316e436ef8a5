// api/models/online_user.go
package models

import "time"

// UserType is the authentication state a tracked browser is attributed to.
type UserType string

const (
	UserTypeGuest    UserType = "guest"
	UserTypeCustomer UserType = "customer"
	UserTypeAdmin    UserType = "admin"
)

// Source is the client family a request came from.
type Source string

const (
	SourceWeb    Source = "web"
	SourceMobile Source = "mobile"
)

// HistoryEntry is one deduplicated page transition in a browser session.
type HistoryEntry struct {
	URL           string    `json:"url"`
	Referrer      string    `json:"referrer"`
	BrowsingPhase UserType  `json:"browsingPhase"`
	Timestamp     time.Time `json:"timestamp"`
}

// SessionPhase is a contiguous span of a session under one authentication state.
type SessionPhase struct {
	Phase     UserType   `json:"phase"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	PageViews int64      `json:"pageViews"`
}

// Open reports whether the phase has not been closed yet.
func (p SessionPhase) Open() bool {
	return p.EndTime == nil
}

type IPHistoryEntry struct {
	IP        string    `json:"ip"`
	Timestamp time.Time `json:"timestamp"`
}

// OnlineUser is the tracking record for a currently or recently active browser.
// BrowserID is unique; at most one customer row exists per CustomerID.
type OnlineUser struct {
	ID                int64            `json:"id"`
	BrowserID         string           `json:"browserId"`
	UserType          UserType         `json:"userType"`
	CustomerID        int64            `json:"customer,omitempty"`
	IPAddress         string           `json:"ipAddress"`
	UserAgent         string           `json:"userAgent"`
	Source            Source           `json:"source"`
	PageURL           string           `json:"pageUrl"`
	SessionHistory    []HistoryEntry   `json:"sessionHistory"`
	SessionPhases     []SessionPhase   `json:"sessionPhases"`
	IPHistory         []IPHistoryEntry `json:"ipHistory"`
	TotalPageViews    int64            `json:"totalPageViews"`
	GuestPageViews    int64            `json:"guestPageViews"`
	CustomerPageViews int64            `json:"customerPageViews"`
	LoginTime         *time.Time       `json:"loginTime,omitempty"`
	LastActivity      time.Time        `json:"lastActivity"`
	CreatedAt         time.Time        `json:"createdAt"`
}

// Clone returns a deep copy so callers can mutate it without touching the original.
func (u *OnlineUser) Clone() *OnlineUser {
	if u == nil {
		return nil
	}
	cp := *u
	cp.SessionHistory = append([]HistoryEntry(nil), u.SessionHistory...)
	cp.IPHistory = append([]IPHistoryEntry(nil), u.IPHistory...)
	cp.SessionPhases = make([]SessionPhase, len(u.SessionPhases))
	for i, p := range u.SessionPhases {
		if p.EndTime != nil {
			end := *p.EndTime
			p.EndTime = &end
		}
		cp.SessionPhases[i] = p
	}
	if u.LoginTime != nil {
		lt := *u.LoginTime
		cp.LoginTime = &lt
	}
	return &cp
}

// SessionWrite is the persistence instruction produced for one browser id.
// EvictCustomerID, when non-zero, removes every other customer row for that
// customer in the same write. Skip leaves the stored row untouched and Delete
// removes it; Row is ignored for both.
type SessionWrite struct {
	Row             *OnlineUser
	Insert          bool
	EvictCustomerID int64
	Skip            bool
	Delete          bool
}
