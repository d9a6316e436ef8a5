package tracking

import (
	"strings"
	"time"

	"storefront/api/models"
)

// SessionState is what is currently stored for a browser id: one of
// NoSession, GuestSession or CustomerSession.
type SessionState interface {
	sessionState()
}

type NoSession struct{}

type GuestSession struct {
	Row *models.OnlineUser
}

type CustomerSession struct {
	Row *models.OnlineUser
}

func (NoSession) sessionState()       {}
func (GuestSession) sessionState()    {}
func (CustomerSession) sessionState() {}

// StateOf wraps the stored row, if any, in its session state.
func StateOf(row *models.OnlineUser) SessionState {
	switch {
	case row == nil:
		return NoSession{}
	case row.UserType == models.UserTypeCustomer:
		return CustomerSession{Row: row}
	default:
		return GuestSession{Row: row}
	}
}

// Visit is one tracked request as seen by the state machine. CustomerID is
// zero for guests. Referrer must already be sanitized.
//
// PromoteOnly marks the replay of a request that identified a customer after
// it was merged as a guest. It binds the row to the customer but never counts
// the request a second time.
type Visit struct {
	BrowserID   string
	CustomerID  int64
	IPAddress   string
	UserAgent   string
	Source      models.Source
	Referrer    string
	Path        string
	Method      string
	At          time.Time
	PromoteOnly bool
}

func (v Visit) userType() models.UserType {
	if v.CustomerID != 0 {
		return models.UserTypeCustomer
	}
	return models.UserTypeGuest
}

func (v Visit) isLogin() bool {
	return v.Method == "POST" && strings.Contains(v.Path, "/login")
}

type OutcomeKind string

const (
	OutcomeCreate         OutcomeKind = "create"
	OutcomeUpdateGuest    OutcomeKind = "update_guest"
	OutcomeUpdateCustomer OutcomeKind = "update_customer"
	OutcomePromote        OutcomeKind = "promote"
	OutcomeUnchanged      OutcomeKind = "unchanged"
)

// Outcome is the result of applying a visit to a session state.
type Outcome struct {
	Kind            OutcomeKind
	Row             *models.OnlineUser
	Insert          bool
	EvictCustomerID int64
	HistoryAppended bool
}

// Write converts the outcome into the instruction a Repository persists.
func (o Outcome) Write() models.SessionWrite {
	if o.Kind == OutcomeUnchanged {
		return models.SessionWrite{Skip: true}
	}
	return models.SessionWrite{
		Row:             o.Row,
		Insert:          o.Insert,
		EvictCustomerID: o.EvictCustomerID,
	}
}

// Transition applies v to state and returns the next row. It does not
// modify the row held by state.
func Transition(state SessionState, v Visit) Outcome {
	switch s := state.(type) {
	case CustomerSession:
		if v.CustomerID != 0 && v.CustomerID != s.Row.CustomerID {
			return promote(s.Row, v)
		}
		if v.PromoteOnly {
			return Outcome{Kind: OutcomeUnchanged, Row: s.Row}
		}
		return update(s.Row, v, OutcomeUpdateCustomer)
	case GuestSession:
		if v.CustomerID != 0 {
			return promote(s.Row, v)
		}
		if v.PromoteOnly {
			return Outcome{Kind: OutcomeUnchanged, Row: s.Row}
		}
		return update(s.Row, v, OutcomeUpdateGuest)
	default:
		return create(v)
	}
}

func update(current *models.OnlineUser, v Visit, kind OutcomeKind) Outcome {
	row := current.Clone()
	refresh(row, v)
	appended := recordPageView(row, v)
	if row.UserType == models.UserTypeCustomer && v.isLogin() {
		at := v.At
		row.LoginTime = &at
	}
	return Outcome{Kind: kind, Row: row, HistoryAppended: appended}
}

// promote closes the open phase, rebinds the row to v.CustomerID and opens a
// customer phase. Other customer rows of the same customer are evicted.
func promote(current *models.OnlineUser, v Visit) Outcome {
	row := current.Clone()
	at := v.At

	if n := len(row.SessionPhases); n > 0 && row.SessionPhases[n-1].Open() {
		end := at
		row.SessionPhases[n-1].EndTime = &end
	}
	row.UserType = models.UserTypeCustomer
	row.CustomerID = v.CustomerID
	row.SessionPhases = append(row.SessionPhases, models.SessionPhase{
		Phase:     models.UserTypeCustomer,
		StartTime: at,
	})
	row.LoginTime = &at

	appended := false
	if !v.PromoteOnly {
		refresh(row, v)
		appended = recordPageView(row, v)
	}
	return Outcome{
		Kind:            OutcomePromote,
		Row:             row,
		EvictCustomerID: v.CustomerID,
		HistoryAppended: appended,
	}
}

func create(v Visit) Outcome {
	ut := v.userType()
	at := v.At
	row := &models.OnlineUser{
		BrowserID:  v.BrowserID,
		UserType:   ut,
		CustomerID: v.CustomerID,
		IPAddress:  v.IPAddress,
		UserAgent:  v.UserAgent,
		Source:     v.Source,
		PageURL:    v.Referrer,
		SessionHistory: []models.HistoryEntry{{
			URL:           v.Path,
			Referrer:      v.Referrer,
			BrowsingPhase: ut,
			Timestamp:     at,
		}},
		SessionPhases: []models.SessionPhase{{
			Phase:     ut,
			StartTime: at,
			PageViews: 1,
		}},
		IPHistory:      []models.IPHistoryEntry{{IP: v.IPAddress, Timestamp: at}},
		TotalPageViews: 1,
		LastActivity:   at,
		CreatedAt:      at,
	}
	out := Outcome{Kind: OutcomeCreate, Row: row, Insert: true, HistoryAppended: true}
	if ut == models.UserTypeCustomer {
		row.CustomerPageViews = 1
		row.LoginTime = &at
		out.EvictCustomerID = v.CustomerID
	} else {
		row.GuestPageViews = 1
	}
	return out
}

// refresh overwrites the volatile fields and extends ipHistory when the
// address changed.
func refresh(row *models.OnlineUser, v Visit) {
	row.IPAddress = v.IPAddress
	row.UserAgent = v.UserAgent
	row.Source = v.Source
	if v.Referrer != "" {
		row.PageURL = v.Referrer
	}
	if v.At.After(row.LastActivity) {
		row.LastActivity = v.At
	}

	if n := len(row.IPHistory); n == 0 || row.IPHistory[n-1].IP != v.IPAddress {
		row.IPHistory = append(row.IPHistory, models.IPHistoryEntry{IP: v.IPAddress, Timestamp: v.At})
	}
}

// recordPageView appends to sessionHistory only when the referrer differs
// from the last entry, and counts the page view only in that case.
func recordPageView(row *models.OnlineUser, v Visit) bool {
	if n := len(row.SessionHistory); n > 0 && row.SessionHistory[n-1].Referrer == v.Referrer {
		return false
	}
	row.SessionHistory = append(row.SessionHistory, models.HistoryEntry{
		URL:           v.Path,
		Referrer:      v.Referrer,
		BrowsingPhase: row.UserType,
		Timestamp:     v.At,
	})

	row.TotalPageViews++
	if row.UserType == models.UserTypeCustomer {
		row.CustomerPageViews++
	} else {
		row.GuestPageViews++
	}
	if n := len(row.SessionPhases); n > 0 && row.SessionPhases[n-1].Open() {
		row.SessionPhases[n-1].PageViews++
	}
	return true
}
