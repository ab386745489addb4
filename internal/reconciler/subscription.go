package reconciler

import (
	"time"

	"github.com/rcourtman/buttonclicker/pkg/purchasing"
)

// latestPeriods tracks the subscription periods sharing the latest start date
// seen so far. A strictly later start replaces the group; an equal start joins
// it.
type latestPeriods struct {
	start   time.Time
	periods []purchasing.SubscriptionPeriod
}

func (l *latestPeriods) add(p purchasing.SubscriptionPeriod) {
	switch {
	case len(l.periods) == 0 || p.StartDate.After(l.start):
		l.start = p.StartDate
		l.periods = append(l.periods[:0], p)
	case p.StartDate.Equal(l.start):
		l.periods = append(l.periods, p)
	}
}

// active reports whether every period in the group is still open. ok is false
// when no period was added.
func (l *latestPeriods) active() (active bool, start time.Time, ok bool) {
	if len(l.periods) == 0 {
		return false, time.Time{}, false
	}
	for _, p := range l.periods {
		if !p.Open() {
			return false, l.start, true
		}
	}
	return true, l.start, true
}

// subscriptionActive reports whether the periods sharing the latest start
// date are all open. An empty set is not active.
func subscriptionActive(periods []purchasing.SubscriptionPeriod) bool {
	var l latestPeriods
	for _, p := range periods {
		l.add(p)
	}
	active, _, _ := l.active()
	return active
}
