package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"storefront/api/config"
	"storefront/api/models"
	"storefront/api/pkg/batcher"
)

// ActivitySink persists activity records.
type ActivitySink interface {
	WriteActivities(ctx context.Context, items []models.UserActivity) error
}

// Presence records that a browser was just active.
type Presence interface {
	Touch(ctx context.Context, browserID string, at time.Time) error
}

// Principal is the authenticated caller of a request, as set by auth middleware.
type Principal struct {
	CustomerID int64
	IsAdmin    bool
}

// PrincipalFunc reads the authenticated principal from a request.
type PrincipalFunc func(c *gin.Context) Principal

type Options struct {
	Rules         config.Rules
	Identity      Identity
	Principal     PrincipalFunc
	Workers       int
	QueueSize     int
	JobTimeout    time.Duration
	BatchSize     int
	BatchInterval time.Duration
	SinkTimeout   time.Duration
	Logger        zerolog.Logger
}

// Tracker is the gin middleware that drives the tracking pipeline.
type Tracker struct {
	classifier  *Classifier
	identity    Identity
	principal   PrincipalFunc
	merger      *Merger
	presence    Presence
	dispatcher  *Dispatcher
	activities  *batcher.Batcher[models.UserActivity]
	sinkTimeout time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

// NewTracker wires the pipeline. presence may be nil.
func NewTracker(repo Repository, sink ActivitySink, presence Presence, opts Options) *Tracker {
	if opts.Principal == nil {
		opts.Principal = func(*gin.Context) Principal { return Principal{} }
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 10 * time.Second
	}
	t := &Tracker{
		classifier:  NewClassifier(opts.Rules),
		identity:    opts.Identity,
		principal:   opts.Principal,
		merger:      NewMerger(repo),
		presence:    presence,
		dispatcher:  NewDispatcher(opts.Workers, opts.QueueSize, opts.JobTimeout, opts.Logger),
		sinkTimeout: opts.SinkTimeout,
		now:         time.Now,
		log:         opts.Logger,
	}
	t.activities = batcher.New(opts.BatchSize, opts.BatchInterval, func(items []models.UserActivity) error {
		ctx, cancel := context.WithTimeout(context.Background(), t.sinkTimeout)
		defer cancel()
		err := sink.WriteActivities(ctx, items)
		var partial *PartialWriteError
		if errors.As(err, &partial) {
			t.log.Warn().Err(err).Int("count", len(items)).Msg("activity batch missed some sinks")
			err = nil
		}
		if err != nil {
			return err
		}
		activitiesWritten.Add(float64(len(items)))
		return nil
	}, func(err error, lost int) {
		activitiesFailed.Add(float64(lost))
		t.log.Warn().Err(err).Int("lost", lost).Msg("activity flush failed")
	})
	return t
}

// Middleware classifies the request, merges it into the browser's online
// session before the handler runs and queues the activity record after it.
// Nothing it does changes the response.
func (t *Tracker) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		visit, ok := t.begin(c)
		c.Next()
		if !ok {
			return
		}
		t.finish(c, visit)
	}
}

// Close drains queued jobs and flushes pending activity records.
func (t *Tracker) Close(ctx context.Context) error {
	dispatchErr := t.dispatcher.Close(ctx)
	return errors.Join(dispatchErr, t.activities.Close())
}

func (t *Tracker) begin(c *gin.Context) (visit Visit, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("tracking aborted")
			ok = false
		}
	}()

	p := t.principal(c)
	info := RequestInfo{
		Path:        c.Request.URL.Path,
		Method:      c.Request.Method,
		UserAgent:   c.GetHeader("User-Agent"),
		Referrer:    HTTPReferrer(c),
		HasCustomer: p.CustomerID != 0,
		IsAdmin:     p.IsAdmin,
	}
	if reason := t.classifier.Classify(info); reason != SkipNone {
		decisions.WithLabelValues("skipped", string(reason)).Inc()
		return Visit{}, false
	}
	decisions.WithLabelValues("tracked", "").Inc()

	visit = Visit{
		BrowserID:  t.identity.Resolve(c),
		CustomerID: p.CustomerID,
		IPAddress:  ClientIP(c),
		UserAgent:  info.UserAgent,
		Source:     DetectSource(c),
		Referrer:   SelectReferrer(c.GetHeader(UIReferrerHeader), info.Referrer),
		Path:       info.Path,
		Method:     info.Method,
		At:         t.now(),
	}

	ctx := c.Request.Context()
	row, err := t.merger.Track(ctx, visit)
	if err != nil {
		t.log.Warn().Err(err).Str("browser_id", visit.BrowserID).Msg("online user merge failed")
	}
	if row != nil && t.presence != nil {
		if err := t.presence.Touch(ctx, row.BrowserID, row.LastActivity); err != nil {
			t.log.Debug().Err(err).Msg("presence touch failed")
		}
	}
	return visit, true
}

func (t *Tracker) finish(c *gin.Context, visit Visit) {
	done := Completion{
		Visit:      visit,
		CustomerID: visit.CustomerID,
		Status:     c.Writer.Status(),
		Duration:   t.now().Sub(visit.At),
		Query:      c.Query("q"),
		Events:     EventsFrom(c),
	}
	if !t.dispatcher.Submit(func(ctx context.Context) { t.complete(ctx, done) }) {
		jobsDropped.Inc()
		t.log.Warn().Str("browser_id", visit.BrowserID).Msg("tracking queue full, activity dropped")
	}
}

// complete runs in the background: it promotes the session when the request
// identified a customer, then records the activity. Later requests of the
// same browser may already have been merged, so the promotion never counts
// the request again.
func (t *Tracker) complete(ctx context.Context, done Completion) {
	if identifiedAdmin(done.Events) {
		if err := t.merger.Forget(ctx, done.Visit.BrowserID); err != nil {
			t.log.Warn().Err(err).Str("browser_id", done.Visit.BrowserID).Msg("admin session cleanup failed")
		}
		return
	}
	if id := identifiedCustomer(done.Events); id != 0 {
		done.CustomerID = id
		if id != done.Visit.CustomerID {
			v := done.Visit
			v.CustomerID = id
			v.PromoteOnly = true
			if _, err := t.merger.Track(ctx, v); err != nil {
				t.log.Warn().Err(err).Str("browser_id", v.BrowserID).Msg("post-login merge failed")
			}
		}
	}

	if err := t.activities.Add(BuildActivity(done)); err != nil && errors.Is(err, batcher.ErrClosed) {
		activitiesFailed.Inc()
	}
}
