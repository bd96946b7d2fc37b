package security

import (
	"time"

	"github.com/anima-vault/anima/pkg/model"
)

// Summary is the aggregate health of a vault.
type Summary struct {
	Total   int `json:"total"`
	Strong  int `json:"strong"`
	Medium  int `json:"medium"`
	Weak    int `json:"weak"`
	Reused  int `json:"reused"`
	Expired int `json:"expired"`
}

// HealthSummary classifies every record by strength tier and counts expired
// records. Reused counts distinct secret values held by more than one record.
func HealthSummary(records []model.Record, now time.Time) (Summary, error) {
	s := Summary{Total: len(records)}

	for _, r := range records {
		switch Strength(r.Secret) {
		case TierStrong:
			s.Strong++
		case TierMedium:
			s.Medium++
		default:
			s.Weak++
		}
		if IsExpired(r, now) {
			s.Expired++
		}
	}

	groups, err := FindReused(records)
	if err != nil {
		return Summary{}, err
	}
	s.Reused = len(groups)
	return s, nil
}
