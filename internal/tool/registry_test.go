package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "agent-platform/internal/errors"
	"agent-platform/pkg/logger"
)

func newSeededRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry(NewMemoryCatalog(), WithLogger(logger.Discard()))
	created, err := reg.Seed(context.Background(), Builtins())
	require.NoError(t, err)
	require.Equal(t, len(Builtins()), created)
	return reg
}

func TestSeedIsIdempotent(t *testing.T) {
	reg := newSeededRegistry(t)
	created, err := reg.Seed(context.Background(), Builtins())
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestSecurityLevelDominates(t *testing.T) {
	assert.True(t, LevelClassified.Dominates(LevelInternal))
	assert.True(t, LevelRestricted.Dominates(LevelRestricted))
	assert.False(t, LevelPublic.Dominates(LevelRestricted))
	assert.False(t, SecurityLevel("secret").Dominates(LevelPublic))

	level, ok := ParseSecurityLevel(" Internal ")
	assert.True(t, ok)
	assert.Equal(t, LevelInternal, level)
	_, ok = ParseSecurityLevel("secret")
	assert.False(t, ok)
}

func TestCheckAccess(t *testing.T) {
	ctx := context.Background()
	reg := newSeededRegistry(t)

	cases := []struct {
		name      string
		tool      string
		agentType string
		clearance SecurityLevel
		want      bool
	}{
		{"unknown tool", "does_not_exist", "custom", LevelClassified, false},
		{"public tool any clearance", "excel_reader", "pdf_analyzer", LevelPublic, true},
		{"restricted tool needs clearance", "database_connector", "financial_calculator", LevelPublic, false},
		{"restricted tool allowed type", "database_connector", "financial_calculator", LevelRestricted, true},
		{"restricted tool type not in allow-list", "database_connector", "custom", LevelClassified, false},
		{"higher tier includes lower", "api_client", "custom", LevelClassified, true},
		{"internal tool without allow-list", "security_scanner", "excel_processor", LevelInternal, true},
		{"internal tool insufficient clearance", "security_scanner", "excel_processor", LevelRestricted, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := reg.CheckAccess(ctx, tc.tool, tc.agentType, tc.clearance)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

type failingCatalog struct{ *MemoryCatalog }

func (failingCatalog) Get(context.Context, string) (Descriptor, error) {
	return Descriptor{}, errors.New("connection reset")
}

func TestCheckAccessSurfacesCatalogFailure(t *testing.T) {
	reg := NewRegistry(failingCatalog{NewMemoryCatalog()}, WithLogger(logger.Discard()))
	ok, err := reg.CheckAccess(context.Background(), "excel_reader", "custom", LevelPublic)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))
}

func TestRequestAccess(t *testing.T) {
	ctx := context.Background()
	reg := newSeededRegistry(t)

	approved, err := reg.RequestAccess(ctx, "excel_reader", "agent-1", "read invoices")
	require.NoError(t, err)
	assert.Equal(t, AccessApproved, approved.Status)
	assert.Empty(t, approved.RequestID)

	pending, err := reg.RequestAccess(ctx, "database_connector", "agent-1", "sync ledger")
	require.NoError(t, err)
	assert.Equal(t, AccessPending, pending.Status)
	assert.Equal(t, "req_database_connector_agent-1", pending.RequestID)
	assert.Equal(t, "24 hours", pending.EstimatedApproval)

	_, err = reg.RequestAccess(ctx, "missing", "agent-1", "")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestGetAvailableTools(t *testing.T) {
	ctx := context.Background()
	reg := newSeededRegistry(t)

	integration, err := reg.GetAvailableTools(ctx, "custom", CategoryIntegration, LevelRestricted)
	require.NoError(t, err)
	names := toolNames(integration)
	assert.Contains(t, names, "api_client")
	assert.Contains(t, names, "web_scraper")
	assert.NotContains(t, names, "database_connector")

	public, err := reg.GetAvailableTools(ctx, "custom", "", LevelPublic)
	require.NoError(t, err)
	publicNames := toolNames(public)
	assert.NotContains(t, publicNames, "api_client")
	assert.NotContains(t, publicNames, "security_scanner")
	assert.Contains(t, publicNames, "excel_reader")

	anyType, err := reg.GetAvailableTools(ctx, "", CategoryIntegration, LevelRestricted)
	require.NoError(t, err)
	assert.Contains(t, toolNames(anyType), "database_connector")
}

func TestRegisterCustomTool(t *testing.T) {
	ctx := context.Background()
	reg := newSeededRegistry(t)

	_, err := reg.RegisterCustomTool(ctx, Descriptor{Name: "ledger_sync"}, "alice")
	require.Error(t, err)
	assert.Equal(t, CodeToolValidation, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "tool_category")
	assert.Contains(t, err.Error(), "version")

	desc, err := reg.RegisterCustomTool(ctx, Descriptor{
		Name:        "ledger_sync",
		Category:    CategoryIntegration,
		Description: "Synchronise ledgers",
		Version:     "0.1.0",
	}, "alice")
	require.NoError(t, err)
	assert.Equal(t, LevelRestricted, desc.SecurityLevel)
	assert.True(t, desc.RequiresApproval)
	assert.Equal(t, "alice", desc.CreatedBy)

	_, err = reg.RegisterCustomTool(ctx, desc, "bob")
	assert.ErrorIs(t, err, ErrToolConflict)
}

func toolNames(tools []Descriptor) []string {
	names := make([]string, 0, len(tools))
	for _, d := range tools {
		names = append(names, d.Name)
	}
	return names
}
