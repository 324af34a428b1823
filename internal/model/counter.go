package model

import "time"

// Counter names one counted behavior. Each counter is its own series keyed
// by entity id.
type Counter string

const (
	CounterThreadViews   Counter = "thread_views"
	CounterThreadReplies Counter = "thread_replies"
)

// Valid reports whether c is one of the known counters.
func (c Counter) Valid() bool {
	switch c {
	case CounterThreadViews, CounterThreadReplies:
		return true
	}
	return false
}

// BucketFor returns the listing bucket a thread created at t belongs to,
// encoded as YYYYMM in UTC (e.g. 202605).
func BucketFor(t time.Time) int32 {
	t = t.UTC()
	return int32(t.Year()*100 + int(t.Month()))
}

// RecentBuckets returns the n most recent buckets ending at now, newest first.
func RecentBuckets(now time.Time, n int) []int32 {
	if n <= 0 {
		return nil
	}
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	buckets := make([]int32, 0, n)
	for i := 0; i < n; i++ {
		buckets = append(buckets, BucketFor(first.AddDate(0, -i, 0)))
	}
	return buckets
}
