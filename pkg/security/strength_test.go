package security

import "testing"

func TestStrengthScore(t *testing.T) {
	tests := []struct {
		secret string
		want   int
	}{
		{"", 0},
		{"short", 0},
		{"password", 1},
		{"Password1", 3},
		{"Passw0rd!", 4},
		{"PASSWORD", 2},
		{"abc123", 1},
		{"ab!", 1},
		{"pässwörd", 2},
		{"Ab1!", 3},
	}

	for _, tt := range tests {
		t.Run(tt.secret, func(t *testing.T) {
			if got := StrengthScore(tt.secret); got != tt.want {
				t.Errorf("StrengthScore(%q) = %d, want %d", tt.secret, got, tt.want)
			}
		})
	}
}

func TestTierOf(t *testing.T) {
	tests := []struct {
		score int
		want  Tier
	}{
		{0, TierWeak},
		{1, TierWeak},
		{2, TierMedium},
		{3, TierStrong},
		{4, TierStrong},
	}
	for _, tt := range tests {
		if got := TierOf(tt.score); got != tt.want {
			t.Errorf("TierOf(%d) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestTier_String(t *testing.T) {
	tests := []struct {
		tier Tier
		want string
	}{
		{TierWeak, "Weak"},
		{TierMedium, "Medium"},
		{TierStrong, "Strong"},
		{Tier(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.tier.String(); got != tt.want {
			t.Errorf("Tier.String() = %v, want %v", got, tt.want)
		}
	}
}

func TestValidateMasterPassword(t *testing.T) {
	tests := []struct {
		name      string
		password  string
		wantValid bool
		wantWarn  bool
	}{
		{"too short", "Ab1!", false, true},
		{"seven runes", "åäöåäöå", false, true},
		{"weak but long", "aaaaaaaa", true, true},
		{"strong", "Correct1Horse!", true, false},
		{"padded", " Correct1Horse! ", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateMasterPassword(tt.password)
			if got.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v", got.Valid, tt.wantValid)
			}
			if (len(got.Warnings) > 0) != tt.wantWarn {
				t.Errorf("Warnings = %v, wantWarn %v", got.Warnings, tt.wantWarn)
			}
		})
	}
}
