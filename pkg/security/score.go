package security

import (
	"strconv"
	"time"

	"github.com/anima-vault/anima/pkg/model"
)

// DefaultWarnDays is how far ahead Report flags upcoming rotations.
const DefaultWarnDays = 14

// Report is the overall security assessment of a vault.
type Report struct {
	// Overall is the total score (0-100).
	Overall     int             `json:"overall"`
	Components  ScoreComponents `json:"components"`
	Summary     Summary         `json:"summary"`
	Issues      []Issue         `json:"issues"`
	Suggestions []string        `json:"suggestions"`
}

// ScoreComponents breaks the score into categories of up to 25 points each.
type ScoreComponents struct {
	Strength   int `json:"strength"`
	Uniqueness int `json:"uniqueness"`
	Expiration int `json:"expiration"`
	// Rotation rewards records that carry an expiration policy at all.
	Rotation int `json:"rotation"`
}

// IssueType identifies the type of security issue.
type IssueType string

const (
	IssueWeakPassword      IssueType = "weak"
	IssueDuplicatePassword IssueType = "duplicate"
	IssueExpiringSoon      IssueType = "expiring"
	IssueExpired           IssueType = "expired"
)

// Severity indicates the urgency of a security issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Issue is a detected security problem. It never carries secret values.
type Issue struct {
	Type        IssueType `json:"type"`
	Severity    Severity  `json:"severity"`
	RecordIDs   []string  `json:"record_ids"`
	Sites       []string  `json:"sites"`
	Description string    `json:"description"`
}

// Assess scores records. warnDays controls the expiring-soon window; zero
// uses DefaultWarnDays.
func Assess(records []model.Record, now time.Time, warnDays int) (*Report, error) {
	if warnDays <= 0 {
		warnDays = DefaultWarnDays
	}

	summary, err := HealthSummary(records, now)
	if err != nil {
		return nil, err
	}
	report := &Report{
		Summary:     summary,
		Issues:      []Issue{},
		Suggestions: []string{},
	}
	if len(records) == 0 {
		report.Overall = 100
		report.Components = ScoreComponents{Strength: 25, Uniqueness: 25, Expiration: 25, Rotation: 25}
		return report, nil
	}

	points := 0
	withPolicy, notExpired := 0, 0
	for _, r := range records {
		score := StrengthScore(r.Secret)
		points += score
		if TierOf(score) == TierWeak {
			report.Issues = append(report.Issues, Issue{
				Type:        IssueWeakPassword,
				Severity:    SeverityWarning,
				RecordIDs:   []string{r.ID},
				Sites:       []string{r.Site},
				Description: "Password is weak",
			})
		}

		days, bounded := DaysRemaining(r, now)
		if !bounded {
			continue
		}
		withPolicy++
		switch {
		case days <= 0:
			report.Issues = append(report.Issues, Issue{
				Type:        IssueExpired,
				Severity:    SeverityCritical,
				RecordIDs:   []string{r.ID},
				Sites:       []string{r.Site},
				Description: "Password has expired",
			})
		case days <= warnDays:
			notExpired++
			report.Issues = append(report.Issues, Issue{
				Type:        IssueExpiringSoon,
				Severity:    SeverityWarning,
				RecordIDs:   []string{r.ID},
				Sites:       []string{r.Site},
				Description: "Password expires in " + formatDays(days),
			})
		default:
			notExpired++
		}
	}

	groups, err := FindReused(records)
	if err != nil {
		return nil, err
	}
	reusedRecords := 0
	for _, g := range groups {
		reusedRecords += g.Count
		report.Issues = append(report.Issues, Issue{
			Type:        IssueDuplicatePassword,
			Severity:    SeverityWarning,
			RecordIDs:   g.RecordIDs,
			Sites:       g.Sites,
			Description: "Password is shared by " + strconv.Itoa(g.Count) + " entries",
		})
	}

	n := len(records)
	c := ScoreComponents{
		Strength:   points * 25 / (n * 4),
		Uniqueness: (n - reusedRecords) * 25 / n,
		Expiration: 25,
		Rotation:   withPolicy * 25 / n,
	}
	if withPolicy > 0 {
		c.Expiration = notExpired * 25 / withPolicy
	}
	report.Components = c
	report.Overall = c.Strength + c.Uniqueness + c.Expiration + c.Rotation
	report.Suggestions = suggestionsFor(report.Issues)
	return report, nil
}

func suggestionsFor(issues []Issue) []string {
	seen := make(map[IssueType]bool)
	for _, issue := range issues {
		seen[issue.Type] = true
	}

	suggestions := []string{}
	if seen[IssueWeakPassword] {
		suggestions = append(suggestions, "Replace weak passwords with generated ones (anima generate)")
	}
	if seen[IssueDuplicatePassword] {
		suggestions = append(suggestions, "Use a unique password for every site")
	}
	if seen[IssueExpired] {
		suggestions = append(suggestions, "Rotate expired passwords now")
	}
	if seen[IssueExpiringSoon] {
		suggestions = append(suggestions, "Plan to rotate passwords that expire soon")
	}
	return suggestions
}

// formatDays returns a human-readable day count.
func formatDays(days int) string {
	if days == 1 {
		return "1 day"
	}
	return strconv.Itoa(days) + " days"
}
