package tracking

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/api/config"
	"storefront/api/models"
	"storefront/api/store"
)

type captureSink struct {
	mu    sync.Mutex
	items []models.UserActivity
}

func (s *captureSink) WriteActivities(_ context.Context, items []models.UserActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
	return nil
}

func (s *captureSink) all() []models.UserActivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.UserActivity(nil), s.items...)
}

type failingRepo struct{ panic bool }

func (r failingRepo) Merge(context.Context, string, MergeFunc) (*models.OnlineUser, error) {
	if r.panic {
		panic("repository exploded")
	}
	return nil, errors.New("database unavailable")
}

const (
	customerHeader = "X-Test-Customer"
	adminHeader    = "X-Test-Admin"
	loginAsHeader  = "X-Login-As"
	loginAdmin     = "X-Login-Admin"
)

func testPrincipal(c *gin.Context) Principal {
	id, _ := strconv.ParseInt(c.GetHeader(customerHeader), 10, 64)
	return Principal{CustomerID: id, IsAdmin: c.GetHeader(adminHeader) != ""}
}

func newTestTracker(repo Repository, sink ActivitySink) *Tracker {
	return NewTracker(repo, sink, nil, Options{
		Rules:         config.DefaultRules(),
		Principal:     testPrincipal,
		Workers:       1,
		QueueSize:     64,
		BatchSize:     100,
		BatchInterval: time.Minute,
		Logger:        zerolog.Nop(),
	})
}

func newTestRouter(tr *Tracker) *gin.Engine {
	r := gin.New()
	r.Use(tr.Middleware())
	r.GET("/api/products/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})
	r.POST("/api/login", func(c *gin.Context) {
		id, _ := strconv.ParseInt(c.GetHeader(loginAsHeader), 10, 64)
		if c.GetHeader(loginAdmin) != "" {
			Emit(c, AdminLoggedIn{AdminID: id})
		} else {
			Emit(c, CustomerLoggedIn{CustomerID: id})
		}
		c.JSON(http.StatusOK, gin.H{"message": "Login successful"})
	})
	r.POST("/api/checkout/complete", func(c *gin.Context) {
		id, _ := strconv.ParseInt(c.GetHeader(customerHeader), 10, 64)
		Emit(c, OrderPlaced{OrderID: 55, CustomerID: id})
		c.JSON(http.StatusOK, gin.H{"orderId": 55})
	})
	r.POST("/api/payments/webhook", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

type reqOpt func(*http.Request)

func withCustomer(id int64) reqOpt {
	return func(r *http.Request) { r.Header.Set(customerHeader, strconv.FormatInt(id, 10)) }
}

func withReferrer(ref string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Referer", ref) }
}

func withHeader(k, v string) reqOpt {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func send(r *gin.Engine, method, path, browserID string, opts ...reqOpt) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("User-Agent", browserUA)
	if browserID != "" {
		req.Header.Set(BrowserIDHeader, browserID)
	}
	for _, o := range opts {
		o(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func closeTracker(t *testing.T, tr *Tracker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Close(ctx))
}

func TestTracker_GuestPageViews(t *testing.T) {
	mem := store.NewMemoryOnlineUserStore()
	sink := &captureSink{}
	tr := newTestTracker(mem, sink)
	r := newTestRouter(tr)

	send(r, http.MethodGet, "/api/products/1", "browser-aaaa0001", withReferrer("https://shop.test/x"))
	send(r, http.MethodGet, "/api/products/2", "browser-aaaa0001", withReferrer("https://shop.test/y"))
	closeTracker(t, tr)

	rows := mem.List()
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, models.UserTypeGuest, row.UserType)
	assert.Len(t, row.SessionHistory, 2)
	assert.Equal(t, int64(2), row.TotalPageViews)
	assert.Equal(t, int64(2), row.GuestPageViews)

	acts := sink.all()
	require.Len(t, acts, 2)
	assert.Equal(t, models.ActionViewProduct, acts[0].Action)
	assert.Equal(t, int64(1), acts[0].ProductID)
	assert.Equal(t, int64(2), acts[1].ProductID)
}

func TestTracker_LoginPromotesGuestSession(t *testing.T) {
	mem := store.NewMemoryOnlineUserStore()
	sink := &captureSink{}
	tr := newTestTracker(mem, sink)
	r := newTestRouter(tr)
	const bid = "browser-bbbb0001"

	send(r, http.MethodGet, "/api/products/1", bid, withReferrer("https://shop.test/x"))
	w := send(r, http.MethodPost, "/api/login", bid,
		withReferrer("https://shop.test/login"), withHeader(loginAsHeader, "7"))
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		row := mem.Get(bid)
		return row != nil && row.UserType == models.UserTypeCustomer
	}, 2*time.Second, 5*time.Millisecond)

	send(r, http.MethodGet, "/api/products/3", bid, withCustomer(7), withReferrer("https://shop.test/z"))
	closeTracker(t, tr)

	row := mem.Get(bid)
	require.NotNil(t, row)
	assert.Equal(t, int64(7), row.CustomerID)
	require.Len(t, row.SessionPhases, 2)
	assert.NotNil(t, row.SessionPhases[0].EndTime)
	assert.Equal(t, models.UserTypeCustomer, row.SessionPhases[1].Phase)
	assert.Len(t, row.SessionHistory, 3)
	assert.Equal(t, int64(2), row.GuestPageViews)
	assert.Equal(t, int64(1), row.CustomerPageViews)
	assert.NotNil(t, row.LoginTime)

	acts := sink.all()
	require.Len(t, acts, 3)
	assert.Equal(t, models.ActionLogin, acts[1].Action)
	assert.Equal(t, int64(7), acts[1].CustomerID)
	assert.Equal(t, "7", acts[1].EntityID)
}

func TestTracker_LatePromotionDoesNotRecountLogin(t *testing.T) {
	mem := store.NewMemoryOnlineUserStore()
	sink := &captureSink{}
	tr := newTestTracker(mem, sink)
	r := newTestRouter(tr)
	const bid = "browser-bbbb0002"

	// hold the single worker so the login's follow-up runs after the next request
	gate := make(chan struct{})
	require.True(t, tr.dispatcher.Submit(func(context.Context) { <-gate }))

	send(r, http.MethodGet, "/api/products/1", bid, withReferrer("https://shop.test/x"))
	send(r, http.MethodPost, "/api/login", bid,
		withReferrer("https://shop.test/login"), withHeader(loginAsHeader, "7"))
	send(r, http.MethodGet, "/api/products/3", bid, withCustomer(7), withReferrer("https://shop.test/z"))

	promoted := mem.Get(bid)
	require.NotNil(t, promoted)
	require.Equal(t, models.UserTypeCustomer, promoted.UserType)

	close(gate)
	closeTracker(t, tr)

	row := mem.Get(bid)
	require.NotNil(t, row)
	require.Len(t, row.SessionHistory, 3)
	assert.Equal(t, "https://shop.test/x", row.SessionHistory[0].Referrer)
	assert.Equal(t, "https://shop.test/login", row.SessionHistory[1].Referrer)
	assert.Equal(t, "https://shop.test/z", row.SessionHistory[2].Referrer)
	assert.Equal(t, int64(3), row.TotalPageViews)
	assert.Equal(t, int64(2), row.GuestPageViews)
	assert.Equal(t, int64(1), row.CustomerPageViews)
	assert.Len(t, row.SessionPhases, 2)
	assert.Equal(t, promoted.LoginTime, row.LoginTime)
	assert.Equal(t, promoted.LastActivity, row.LastActivity)

	acts := sink.all()
	require.Len(t, acts, 3)
	assert.Equal(t, models.ActionLogin, acts[1].Action)
	assert.Equal(t, int64(7), acts[1].CustomerID)
}

func TestTracker_AdminLoginLeavesNoTrace(t *testing.T) {
	mem := store.NewMemoryOnlineUserStore()
	sink := &captureSink{}
	tr := newTestTracker(mem, sink)
	r := newTestRouter(tr)

	w := send(r, http.MethodPost, "/api/login", "browser-bbbb0003",
		withHeader(loginAsHeader, "1"), withHeader(loginAdmin, "1"))
	require.Equal(t, http.StatusOK, w.Code)
	closeTracker(t, tr)

	assert.Empty(t, mem.List())
	assert.Empty(t, sink.all())
}

func TestTracker_AdminLoginKeepsCustomerRow(t *testing.T) {
	mem := store.NewMemoryOnlineUserStore()
	tr := newTestTracker(mem, &captureSink{})
	r := newTestRouter(tr)
	const bid = "browser-bbbb0004"

	send(r, http.MethodGet, "/api/products/1", bid, withCustomer(7))
	send(r, http.MethodPost, "/api/login", bid,
		withCustomer(7), withHeader(loginAsHeader, "1"), withHeader(loginAdmin, "1"))
	closeTracker(t, tr)

	row := mem.Get(bid)
	require.NotNil(t, row)
	assert.Equal(t, int64(7), row.CustomerID)
}

func TestTracker_LoginOnSecondBrowserEvictsFirst(t *testing.T) {
	mem := store.NewMemoryOnlineUserStore()
	tr := newTestTracker(mem, &captureSink{})
	r := newTestRouter(tr)

	send(r, http.MethodGet, "/api/products/1", "browser-cccc0001", withCustomer(7))
	send(r, http.MethodGet, "/api/products/1", "browser-cccc0002", withCustomer(8))
	send(r, http.MethodGet, "/api/products/1", "browser-cccc0003", withCustomer(7))

	assert.Nil(t, mem.Get("browser-cccc0001"))
	require.NotNil(t, mem.Get("browser-cccc0003"))
	assert.Equal(t, int64(7), mem.Get("browser-cccc0003").CustomerID)
	assert.NotNil(t, mem.Get("browser-cccc0002"))

	// a guest session that logs in as 8 evicts 8's other row
	send(r, http.MethodGet, "/api/products/1", "browser-cccc0004")
	send(r, http.MethodPost, "/api/login", "browser-cccc0004", withHeader(loginAsHeader, "8"))
	closeTracker(t, tr)

	assert.Nil(t, mem.Get("browser-cccc0002"))
	customers := 0
	for _, row := range mem.List() {
		if row.UserType == models.UserTypeCustomer && row.CustomerID == 8 {
			customers++
		}
	}
	assert.Equal(t, 1, customers)
}

func TestTracker_SkippedRequestsWriteNothing(t *testing.T) {
	mem := store.NewMemoryOnlineUserStore()
	sink := &captureSink{}
	tr := newTestTracker(mem, sink)
	r := newTestRouter(tr)

	w := send(r, http.MethodPost, "/api/payments/webhook", "", withHeader("User-Agent", "Razorpay-Webhook"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(BrowserIDHeader))
	assert.Empty(t, w.Result().Cookies())

	send(r, http.MethodGet, "/api/products/1", "browser-dddd0001", withHeader(adminHeader, "1"))
	send(r, http.MethodGet, "/api/products/1", "browser-dddd0002", withHeader("User-Agent", "Googlebot/2.1"))
	send(r, http.MethodGet, "/api/products/1", "browser-dddd0003", withHeader("User-Agent", "node"))
	closeTracker(t, tr)

	assert.Empty(t, mem.List())
	assert.Empty(t, sink.all())
}

func TestTracker_OrderActivity(t *testing.T) {
	mem := store.NewMemoryOnlineUserStore()
	sink := &captureSink{}
	tr := newTestTracker(mem, sink)
	r := newTestRouter(tr)

	w := send(r, http.MethodPost, "/api/checkout/complete", "browser-eeee0001", withCustomer(7))
	require.Equal(t, http.StatusOK, w.Code)
	closeTracker(t, tr)

	acts := sink.all()
	require.Len(t, acts, 1)
	a := acts[0]
	assert.Equal(t, models.ActionOrder, a.Action)
	assert.Equal(t, models.EntityOrder, a.EntityType)
	assert.Equal(t, int64(55), a.OrderID)
	assert.Equal(t, int64(7), a.CustomerID)
	assert.Equal(t, int64(55), a.ActivityData["orderId"])
}

func TestTracker_FailuresNeverReachTheResponse(t *testing.T) {
	for _, repo := range []Repository{failingRepo{}, failingRepo{panic: true}} {
		sink := &captureSink{}
		tr := newTestTracker(repo, sink)
		r := newTestRouter(tr)

		w := send(r, http.MethodGet, "/api/products/9", "browser-ffff0001")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":"9"}`, w.Body.String())
		closeTracker(t, tr)

		// the activity is still recorded
		require.Len(t, sink.all(), 1)
	}
}

func TestTracker_IssuesBrowserIDToNewClients(t *testing.T) {
	mem := store.NewMemoryOnlineUserStore()
	tr := newTestTracker(mem, &captureSink{})
	r := newTestRouter(tr)

	w := send(r, http.MethodGet, "/api/products/1", "")
	closeTracker(t, tr)

	bid := w.Header().Get(BrowserIDHeader)
	require.NotEmpty(t, bid)
	assert.NotNil(t, mem.Get(bid))
}

func TestFanOut(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	err := FanOut{a, errSink{}, b}.WriteActivities(context.Background(), []models.UserActivity{{ActivityID: "1"}})
	var partial *PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.Failed)
	assert.Equal(t, 3, partial.Total)
	assert.Len(t, a.all(), 1)
	assert.Len(t, b.all(), 1)

	err = FanOut{errSink{}, errSink{}}.WriteActivities(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, errors.As(err, &partial))

	assert.NoError(t, DiscardSink{}.WriteActivities(context.Background(), nil))
}

func TestTracker_PartialSinkFailureCountsAsWritten(t *testing.T) {
	written := testutil.ToFloat64(activitiesWritten)
	failed := testutil.ToFloat64(activitiesFailed)

	ch := &captureSink{}
	tr := newTestTracker(store.NewMemoryOnlineUserStore(), FanOut{ch, errSink{}})
	r := newTestRouter(tr)
	send(r, http.MethodGet, "/api/products/1", "browser-gggg0001")
	send(r, http.MethodGet, "/api/products/2", "browser-gggg0001")
	closeTracker(t, tr)

	assert.Len(t, ch.all(), 2)
	assert.Equal(t, written+2, testutil.ToFloat64(activitiesWritten))
	assert.Equal(t, failed, testutil.ToFloat64(activitiesFailed))
}

func TestTracker_AllSinksFailingCountsAsFailed(t *testing.T) {
	written := testutil.ToFloat64(activitiesWritten)
	failed := testutil.ToFloat64(activitiesFailed)

	tr := newTestTracker(store.NewMemoryOnlineUserStore(), FanOut{errSink{}})
	r := newTestRouter(tr)
	send(r, http.MethodGet, "/api/products/1", "browser-gggg0002")
	_ = tr.Close(context.Background())

	assert.Equal(t, written, testutil.ToFloat64(activitiesWritten))
	assert.Equal(t, failed+1, testutil.ToFloat64(activitiesFailed))
}

type errSink struct{}

func (errSink) WriteActivities(context.Context, []models.UserActivity) error {
	return errors.New("sink down")
}
