package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anima-vault/anima/pkg/model"
	"github.com/anima-vault/anima/pkg/security"
	"github.com/anima-vault/anima/pkg/vault"
)

// defaultExpiringDays is used when credential_expiring gets no window.
const defaultExpiringDays = 14

// CredentialInfo is the metadata of one record.
type CredentialInfo struct {
	ID             string `json:"id"`
	Site           string `json:"site"`
	Username       string `json:"username"`
	Category       string `json:"category"`
	Type           string `json:"type"`
	HasNote        bool   `json:"has_note"`
	Strength       string `json:"strength"`
	ExpirationDays int    `json:"expiration_days"`
	DaysRemaining  *int   `json:"days_remaining,omitempty"`
	Expired        bool   `json:"expired"`
	CreatedAt      string `json:"created_at"`
}

// CredentialListInput filters credential_list.
type CredentialListInput struct {
	Category string `json:"category,omitempty" jsonschema:"only credentials in this category"`
	Query    string `json:"query,omitempty" jsonschema:"case-insensitive match on site or username"`
}

// CredentialListOutput is the result of credential_list.
type CredentialListOutput struct {
	Credentials []CredentialInfo `json:"credentials"`
	Count       int              `json:"count"`
}

// CredentialLookupInput names the record for credential_lookup.
type CredentialLookupInput struct {
	ID string `json:"id" jsonschema:"credential id from credential_list"`
}

// CredentialLookupOutput is the result of credential_lookup.
type CredentialLookupOutput struct {
	Exists     bool            `json:"exists"`
	Credential *CredentialInfo `json:"credential,omitempty"`
}

// CredentialExpiringInput sets the credential_expiring window.
type CredentialExpiringInput struct {
	WithinDays *int `json:"within_days,omitempty" jsonschema:"window in days, default 14"`
}

// CredentialExpiringOutput is the result of credential_expiring.
type CredentialExpiringOutput struct {
	Credentials []CredentialInfo `json:"credentials"`
}

// VaultHealthInput sets the expiring-soon window for vault_health.
type VaultHealthInput struct {
	WarnDays int `json:"warn_days,omitempty" jsonschema:"days ahead to flag rotations, default 14"`
}

// VaultHealthOutput is the result of vault_health.
type VaultHealthOutput struct {
	Overall     int                      `json:"overall"`
	Components  security.ScoreComponents `json:"components"`
	Summary     security.Summary         `json:"summary"`
	Issues      []security.Issue         `json:"issues"`
	Suggestions []string                 `json:"suggestions"`
}

// CategoryListInput takes no arguments.
type CategoryListInput struct{}

// CategoryListOutput is the result of category_list.
type CategoryListOutput struct {
	Categories []string `json:"categories"`
}

func (s *Server) handleCredentialList(_ context.Context, _ *mcp.CallToolRequest, input CredentialListInput) (*mcp.CallToolResult, CredentialListOutput, error) {
	records, err := s.session.Records()
	if err != nil {
		return nil, CredentialListOutput{}, toolError(err)
	}

	now := s.now()
	query := strings.ToLower(strings.TrimSpace(input.Query))
	out := CredentialListOutput{Credentials: make([]CredentialInfo, 0, len(records))}
	for _, r := range records {
		if input.Category != "" && r.Category != input.Category {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(r.Site), query) &&
			!strings.Contains(strings.ToLower(r.Username), query) {
			continue
		}
		out.Credentials = append(out.Credentials, describe(r, now))
	}
	out.Count = len(out.Credentials)
	return nil, out, nil
}

func (s *Server) handleCredentialLookup(_ context.Context, _ *mcp.CallToolRequest, input CredentialLookupInput) (*mcp.CallToolResult, CredentialLookupOutput, error) {
	if strings.TrimSpace(input.ID) == "" {
		return nil, CredentialLookupOutput{}, errors.New("id is required")
	}

	r, err := s.session.Record(input.ID)
	if errors.Is(err, vault.ErrRecordNotFound) {
		return nil, CredentialLookupOutput{Exists: false}, nil
	}
	if err != nil {
		return nil, CredentialLookupOutput{}, toolError(err)
	}
	info := describe(r, s.now())
	return nil, CredentialLookupOutput{Exists: true, Credential: &info}, nil
}

func (s *Server) handleCredentialExpiring(_ context.Context, _ *mcp.CallToolRequest, input CredentialExpiringInput) (*mcp.CallToolResult, CredentialExpiringOutput, error) {
	within := defaultExpiringDays
	if input.WithinDays != nil {
		within = *input.WithinDays
	}
	if within < 0 {
		return nil, CredentialExpiringOutput{}, errors.New("within_days must not be negative")
	}

	records, err := s.session.Records()
	if err != nil {
		return nil, CredentialExpiringOutput{}, toolError(err)
	}
	now := s.now()
	statuses := security.Expiring(records, now, within)
	out := CredentialExpiringOutput{Credentials: make([]CredentialInfo, 0, len(statuses))}
	for _, st := range statuses {
		out.Credentials = append(out.Credentials, describe(st.Record, now))
	}
	return nil, out, nil
}

func (s *Server) handleVaultHealth(_ context.Context, _ *mcp.CallToolRequest, input VaultHealthInput) (*mcp.CallToolResult, VaultHealthOutput, error) {
	records, err := s.session.Records()
	if err != nil {
		return nil, VaultHealthOutput{}, toolError(err)
	}
	report, err := security.Assess(records, s.now(), input.WarnDays)
	if err != nil {
		return nil, VaultHealthOutput{}, fmt.Errorf("failed to assess vault: %w", err)
	}
	return nil, VaultHealthOutput{
		Overall:     report.Overall,
		Components:  report.Components,
		Summary:     report.Summary,
		Issues:      report.Issues,
		Suggestions: report.Suggestions,
	}, nil
}

func (s *Server) handleCategoryList(ctx context.Context, _ *mcp.CallToolRequest, _ CategoryListInput) (*mcp.CallToolResult, CategoryListOutput, error) {
	categories, err := s.session.Categories(ctx)
	if err != nil {
		return nil, CategoryListOutput{}, toolError(err)
	}
	return nil, CategoryListOutput{Categories: categories}, nil
}

// describe drops the secret and keeps what an agent may see.
func describe(r model.Record, now time.Time) CredentialInfo {
	info := CredentialInfo{
		ID:             r.ID,
		Site:           r.Site,
		Username:       r.Username,
		Category:       r.Category,
		Type:           string(r.Kind),
		HasNote:        r.Note != "",
		Strength:       security.Strength(r.Secret).String(),
		ExpirationDays: r.ExpirationDays,
		Expired:        security.IsExpired(r, now),
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
	}
	if days, bounded := security.DaysRemaining(r, now); bounded {
		info.DaysRemaining = &days
	}
	return info
}

func toolError(err error) error {
	if errors.Is(err, vault.ErrLocked) {
		return errors.New("vault is locked; restart the MCP server")
	}
	return err
}
