package security

import (
	"testing"
	"time"

	"github.com/anima-vault/anima/pkg/model"
)

func TestAssessEmptyVault(t *testing.T) {
	report, err := Assess(nil, time.Now(), 0)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if report.Overall != 100 {
		t.Errorf("empty vault score = %d, want 100", report.Overall)
	}
	if len(report.Issues) != 0 {
		t.Errorf("empty vault should have no issues, got %d", len(report.Issues))
	}
}

func TestAssessPerfectVault(t *testing.T) {
	now := time.Now()
	records := []model.Record{
		{ID: "1", Site: "a", Secret: "Passw0rd!a", ExpirationDays: 90, CreatedAt: now},
		{ID: "2", Site: "b", Secret: "Passw0rd!b", ExpirationDays: 90, CreatedAt: now},
	}
	report, err := Assess(records, now, 0)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if report.Overall != 100 {
		t.Errorf("Overall = %d, want 100 (%+v)", report.Overall, report.Components)
	}
}

func TestAssessIssues(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	records := []model.Record{
		{ID: "1", Site: "weak", Secret: "abc", CreatedAt: now},
		{ID: "2", Site: "dupe1", Secret: "Passw0rd!", CreatedAt: now},
		{ID: "3", Site: "dupe2", Secret: "Passw0rd!", CreatedAt: now},
		{ID: "4", Site: "expired", Secret: "Xy1!xy1!", ExpirationDays: 30, CreatedAt: now.AddDate(0, 0, -31)},
		{ID: "5", Site: "soon", Secret: "Zz9#zz9#", ExpirationDays: 30, CreatedAt: now.AddDate(0, 0, -25)},
	}

	report, err := Assess(records, now, 7)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	counts := make(map[IssueType]int)
	for _, issue := range report.Issues {
		counts[issue.Type]++
	}
	if counts[IssueWeakPassword] != 1 || counts[IssueDuplicatePassword] != 1 ||
		counts[IssueExpired] != 1 || counts[IssueExpiringSoon] != 1 {
		t.Errorf("unexpected issue counts %v", counts)
	}
	if report.Components.Expiration != 12 {
		t.Errorf("Expiration component = %d, want 12", report.Components.Expiration)
	}
	if report.Components.Uniqueness != 15 {
		t.Errorf("Uniqueness component = %d, want 15", report.Components.Uniqueness)
	}
	if len(report.Suggestions) != 4 {
		t.Errorf("expected 4 suggestions, got %v", report.Suggestions)
	}
	if report.Summary.Reused != 1 || report.Summary.Expired != 1 {
		t.Errorf("unexpected summary %+v", report.Summary)
	}
}
