package security

import (
	"errors"
	"testing"
	"time"

	"github.com/anima-vault/anima/pkg/model"
)

func TestHealthSummary(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -100)
	// strong x2 sharing one value, weak x3 sharing "password" (one expired),
	// medium x2 where "password " differs from "password" by a trailing space.
	records := []model.Record{
		{ID: "1", Site: "a", Secret: "Passw0rd!", CreatedAt: now},
		{ID: "2", Site: "b", Secret: "Passw0rd!", CreatedAt: now},
		{ID: "3", Site: "c", Secret: "password", CreatedAt: old, ExpirationDays: 90},
		{ID: "4", Site: "d", Secret: "PASSWORD", CreatedAt: now, ExpirationDays: 90},
		{ID: "5", Site: "e", Secret: "password", CreatedAt: now},
		{ID: "6", Site: "f", Secret: "password", CreatedAt: now},
		{ID: "7", Site: "g", Secret: "password ", CreatedAt: now},
	}

	got, err := HealthSummary(records, now)
	if err != nil {
		t.Fatalf("HealthSummary failed: %v", err)
	}
	want := Summary{Total: 7, Strong: 2, Medium: 2, Weak: 3, Reused: 2, Expired: 1}
	if got != want {
		t.Errorf("HealthSummary() = %+v, want %+v", got, want)
	}
}

func TestHealthSummaryEmpty(t *testing.T) {
	got, err := HealthSummary(nil, time.Now())
	if err != nil {
		t.Fatalf("HealthSummary failed: %v", err)
	}
	if got != (Summary{}) {
		t.Errorf("HealthSummary(nil) = %+v, want zero", got)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestHealthSummaryKeyFailure(t *testing.T) {
	orig := randReader
	randReader = failingReader{}
	t.Cleanup(func() { randReader = orig })

	records := []model.Record{{ID: "1", Site: "a", Secret: "x"}, {ID: "2", Site: "b", Secret: "x"}}
	if _, err := HealthSummary(records, time.Now()); err == nil {
		t.Error("HealthSummary should fail when no comparison key can be generated")
	}
	if _, err := Assess(records, time.Now(), 0); err == nil {
		t.Error("Assess should fail when no comparison key can be generated")
	}
}

func TestFindReused(t *testing.T) {
	records := []model.Record{
		{ID: "1", Site: "a", Secret: "x"},
		{ID: "2", Site: "b", Secret: "y"},
		{ID: "3", Site: "c", Secret: "x"},
		{ID: "4", Site: "d", Secret: "y"},
		{ID: "5", Site: "e", Secret: "y"},
		{ID: "6", Site: "f", Secret: "z"},
	}

	groups, err := FindReused(records)
	if err != nil {
		t.Fatalf("FindReused failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Count != 3 || groups[0].RecordIDs[0] != "2" {
		t.Errorf("largest group first, got %+v", groups[0])
	}
	if groups[1].Count != 2 || groups[1].Sites[1] != "c" {
		t.Errorf("unexpected second group %+v", groups[1])
	}
}
