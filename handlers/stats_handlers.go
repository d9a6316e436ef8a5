package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"storefront/api/logger"
	"storefront/api/models"
	"storefront/api/utils"
)

// ActivityStats answers the admin activity queries.
type ActivityStats interface {
	GetActionCountsOverTime(ctx context.Context, interval string, start, end time.Time, actionFilter string) ([]models.ActionCountByTime, error)
	GetUniqueBrowsersOverTime(ctx context.Context, interval string, start, end time.Time) ([]models.ActionCountByTime, error)
	GetTopProducts(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopProductResult, error)
	GetAverageDuration(ctx context.Context, actionFilter string, start, end time.Time) (float64, error)
}

// OnlineSessions reads the tracked online user rows.
type OnlineSessions interface {
	CountActiveSince(ctx context.Context, since time.Time) (guests, customers int64, err error)
	GetByBrowserID(ctx context.Context, browserID string) (*models.OnlineUser, error)
}

// PresenceReader reads the live presence set.
type PresenceReader interface {
	Enabled() bool
	CountOnline(ctx context.Context, now time.Time) (int64, error)
	Recent(ctx context.Context, now time.Time, limit int64) ([]string, error)
}

type StatsHandlers struct {
	Activities   ActivityStats // nil when ClickHouse is not configured
	Sessions     OnlineSessions
	Presence     PresenceReader
	OnlineWindow time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

func NewStatsHandlers(activities ActivityStats, sessions OnlineSessions, presence PresenceReader, onlineWindow time.Duration) *StatsHandlers {
	return &StatsHandlers{
		Activities:   activities,
		Sessions:     sessions,
		Presence:     presence,
		OnlineWindow: onlineWindow,
		now:          time.Now,
		log:          logger.Component("stats"),
	}
}

var (
	errBadRange    = errors.New("invalid 'start' or 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)")
	errBadInterval = errors.New("invalid interval. Use Minute, FiveMinutes, FifteenMinutes, Hour, Day, Week, Month, Quarter or Year")
)

// timeRange reads start/end query params, defaulting to the last 7 days.
func (h *StatsHandlers) timeRange(c *gin.Context) (start, end time.Time, err error) {
	end = h.now().UTC()
	start = end.Add(-7 * 24 * time.Hour)
	if v := c.Query("start"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			return time.Time{}, time.Time{}, errBadRange
		}
	}
	if v := c.Query("end"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			return time.Time{}, time.Time{}, errBadRange
		}
	}
	return start, end, nil
}

func (h *StatsHandlers) requireActivities(c *gin.Context) bool {
	if h.Activities == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Activity statistics are not configured"})
		return false
	}
	return true
}

func (h *StatsHandlers) GetActionCounts(c *gin.Context) {
	if !h.requireActivities(c) {
		return
	}
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBadInterval.Error()})
		return
	}
	start, end, err := h.timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Activities.GetActionCountsOverTime(ctx, interval, start, end, c.Query("action"))
	if err != nil {
		h.log.Error().Err(err).Msg("action counts query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve activity statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetUniqueBrowsers(c *gin.Context) {
	if !h.requireActivities(c) {
		return
	}
	interval := c.DefaultQuery("interval", "Day")
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBadInterval.Error()})
		return
	}
	start, end, err := h.timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Activities.GetUniqueBrowsersOverTime(ctx, interval, start, end)
	if err != nil {
		h.log.Error().Err(err).Msg("unique browsers query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique browser statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetTopProducts(c *gin.Context) {
	if !h.requireActivities(c) {
		return
	}
	start, end, err := h.timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := strconv.ParseUint(c.DefaultQuery("limit", "10"), 10, 64)
	if err != nil || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a number between 0 and 1000"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Activities.GetTopProducts(ctx, start, end, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("top products query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top products"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetAverageDuration(c *gin.Context) {
	if !h.requireActivities(c) {
		return
	}
	start, end, err := h.timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	action := c.Query("action")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	avg, err := h.Activities.GetAverageDuration(ctx, action, start, end)
	if err != nil {
		h.log.Error().Err(err).Msg("average duration query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve average duration"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"action":            action,
		"startDate":         start.Format(time.RFC3339),
		"endDate":           end.Format(time.RFC3339),
		"averageDurationMs": avg,
	})
}

// GetOnline reports how many tracked sessions were active within the online window.
func (h *StatsHandlers) GetOnline(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	now := h.now()
	guests, customers, err := h.Sessions.CountActiveSince(ctx, now.Add(-h.OnlineWindow))
	if err != nil {
		h.log.Error().Err(err).Msg("online count failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count online users"})
		return
	}

	resp := gin.H{
		"windowMinutes": int(h.OnlineWindow.Minutes()),
		"guests":        guests,
		"customers":     customers,
		"total":         guests + customers,
	}
	if h.Presence != nil && h.Presence.Enabled() {
		live, err := h.Presence.CountOnline(ctx, now)
		if err == nil {
			resp["liveBrowsers"] = live
		}
		recent, err := h.Presence.Recent(ctx, now, 20)
		if err == nil {
			resp["recentBrowserIds"] = recent
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetOnlineUser returns the tracked row for one browser id.
func (h *StatsHandlers) GetOnlineUser(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	browserID := c.Param("browserId")
	row, err := h.Sessions.GetByBrowserID(ctx, browserID)
	if err != nil {
		h.log.Error().Err(err).Str("browser_id", browserID).Msg("online user lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load online user"})
		return
	}
	if row == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Online user not found"})
		return
	}
	c.JSON(http.StatusOK, row)
}
