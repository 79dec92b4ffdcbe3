package report

import (
	"time"

	"github.com/platinummonkey/gpureport/pkg/cache"
	"github.com/platinummonkey/gpureport/pkg/timewindow"
)

const (
	defaultMemoryTTL = time.Hour
	yesterdayTTL     = 24 * time.Hour
)

// PolicyFor returns the cache policy of a report of type t covering w, evaluated
// at now.
//
// Yesterday is final and persisted for a day. Weekly, monthly and yearly reports
// are persisted without expiry once their period has ended; while it is still
// running they live in memory only, like every rolling or partial window.
func PolicyFor(t ReportType, w timewindow.Window, now time.Time) cache.Policy {
	policy := cache.Policy{Tag: t.Tag(), MemoryTTL: defaultMemoryTTL}
	switch t.Kind {
	case KindYesterday:
		policy.MemoryTTL = yesterdayTTL
		policy.Persist = true
		policy.DiskTTL = yesterdayTTL
	case KindWeekly, KindMonthly, KindYearly:
		policy.Persist = w.Completed(now)
	}
	return policy
}

// DiskTTLs maps each tag to the age at which its disk files expire. Tags that are
// never persisted, or never expire, map to zero.
func DiskTTLs() map[string]time.Duration {
	ttls := make(map[string]time.Duration, len(Kinds))
	for _, k := range Kinds {
		ttls[string(k)] = 0
	}
	ttls[string(KindYesterday)] = yesterdayTTL
	return ttls
}
