package security

import (
	"math"
	"sort"
	"time"

	"github.com/anima-vault/anima/pkg/model"
)

const day = 24 * time.Hour

// DaysRemaining returns the days left before r must be rotated. bounded is
// false when r has no expiration. The count may be negative.
func DaysRemaining(r model.Record, now time.Time) (days int, bounded bool) {
	if r.ExpirationDays <= 0 {
		return 0, false
	}
	elapsed := int(math.Floor(float64(now.Sub(r.CreatedAt)) / float64(day)))
	return r.ExpirationDays - elapsed, true
}

// IsExpired reports whether r has a finite expiry that has been reached.
func IsExpired(r model.Record, now time.Time) bool {
	days, bounded := DaysRemaining(r, now)
	return bounded && days <= 0
}

// ExpiryStatus pairs a record with its remaining days.
type ExpiryStatus struct {
	Record        model.Record
	DaysRemaining int
}

// Expiring returns records with a finite expiry of at most within days,
// expired ones included, soonest first.
func Expiring(records []model.Record, now time.Time, within int) []ExpiryStatus {
	var out []ExpiryStatus
	for _, r := range records {
		days, bounded := DaysRemaining(r, now)
		if bounded && days <= within {
			out = append(out, ExpiryStatus{Record: r, DaysRemaining: days})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DaysRemaining < out[j].DaysRemaining
	})
	return out
}
