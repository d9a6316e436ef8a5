package utils

import "strings"

// bucketFuncs maps the interval names accepted by the stats API to the
// ClickHouse function that truncates a DateTime to that bucket.
var bucketFuncs = map[string]string{
	"minute":         "toStartOfMinute",
	"fiveminutes":    "toStartOfFiveMinutes",
	"fifteenminutes": "toStartOfFifteenMinutes",
	"hour":           "toStartOfHour",
	"day":            "toStartOfDay",
	"week":           "toMonday",
	"month":          "toStartOfMonth",
	"quarter":        "toStartOfQuarter",
	"year":           "toStartOfYear",
}

// IntervalBucketFunc returns the ClickHouse bucketing function for interval.
// Names are matched case-insensitively and may use '_' or '-' separators,
// so "Day", "day" and "fifteen_minutes" are all accepted.
func IntervalBucketFunc(interval string) (string, bool) {
	key := strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(interval))
	fn, ok := bucketFuncs[key]
	return fn, ok
}

func IsValidInterval(interval string) bool {
	_, ok := IntervalBucketFunc(interval)
	return ok
}
