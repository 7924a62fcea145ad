package inheritance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriton/trustgraph/internal/trust"
)

func TestRegisterRelationship(t *testing.T) {
	h := NewHandler(nil)

	require.NoError(t, h.RegisterInheritanceRelationship("root", "mid"))
	assert.Equal(t, []string{"root"}, h.GetParents("mid"))
	assert.Equal(t, []string{"mid"}, h.GetChildren("root"))
	assert.True(t, h.HasRelationship("root", "mid"))
	assert.False(t, h.HasRelationship("mid", "root"))
}

func TestRegisterRelationship_SelfEdgeRejected(t *testing.T) {
	h := NewHandler(nil)
	err := h.RegisterInheritanceRelationship("a", "a")
	require.Error(t, err)
	assert.True(t, trust.IsCycleError(err))
}

func TestRegisterRelationship_EmptyIDs(t *testing.T) {
	h := NewHandler(nil)
	assert.Error(t, h.RegisterInheritanceRelationship("", "b"))
	assert.Error(t, h.RegisterInheritanceRelationship("a", ""))
}

func TestUnregisterRelationship(t *testing.T) {
	h := NewHandler(nil)
	require.NoError(t, h.RegisterInheritanceRelationship("root", "mid"))

	require.NoError(t, h.UnregisterInheritanceRelationship("root", "mid"))
	assert.Empty(t, h.GetParents("mid"))
	assert.Empty(t, h.GetChildren("root"))

	assert.Error(t, h.UnregisterInheritanceRelationship("root", "mid"), "edge gone")
}

func TestAncestorsAndDescendants(t *testing.T) {
	h := NewHandler(nil)
	require.NoError(t, h.RegisterInheritanceRelationship("root", "mid"))
	require.NoError(t, h.RegisterInheritanceRelationship("mid", "leaf"))
	require.NoError(t, h.RegisterInheritanceRelationship("root", "other"))

	ancestors := h.Ancestors("leaf")
	assert.True(t, ancestors["mid"])
	assert.True(t, ancestors["root"])
	assert.False(t, ancestors["other"])

	descendants := h.Descendants("root")
	assert.True(t, descendants["mid"])
	assert.True(t, descendants["leaf"])
	assert.True(t, descendants["other"])
	assert.Empty(t, h.Descendants("leaf"))
}

func TestAttributeMirror(t *testing.T) {
	h := NewHandler(nil)

	_, ok := h.GetEntityAttributes("a")
	assert.False(t, ok)

	attr := trust.NewAttribute("a", 0.8, nil)
	require.NoError(t, h.SetEntityAttributes("a", attr))

	stored, ok := h.GetEntityAttributes("a")
	require.True(t, ok)
	assert.Equal(t, 0.8, stored.BaseScore)

	// Mirror holds a copy, not the caller's instance.
	attr.BaseScore = 0.1
	stored, _ = h.GetEntityAttributes("a")
	assert.Equal(t, 0.8, stored.BaseScore)

	assert.Error(t, h.SetEntityAttributes("a", nil))
}

func TestVerifyInheritanceChain(t *testing.T) {
	h := NewHandler(nil)
	require.NoError(t, h.RegisterInheritanceRelationship("root", "mid"))
	require.NoError(t, h.RegisterInheritanceRelationship("mid", "leaf"))

	attr := trust.NewAttribute("leaf", 0.5, nil)
	attr.InheritanceChain = []string{"mid", "root"}
	require.NoError(t, h.SetEntityAttributes("leaf", attr))
	assert.True(t, h.VerifyInheritanceChain("leaf"))

	// Unreachable ancestor fails.
	attr.InheritanceChain = []string{"mid", "stranger"}
	require.NoError(t, h.SetEntityAttributes("leaf", attr))
	assert.False(t, h.VerifyInheritanceChain("leaf"))

	// Duplicate entry fails.
	attr.InheritanceChain = []string{"mid", "mid"}
	require.NoError(t, h.SetEntityAttributes("leaf", attr))
	assert.False(t, h.VerifyInheritanceChain("leaf"))

	// Unknown entity fails.
	assert.False(t, h.VerifyInheritanceChain("ghost"))
}

func TestDeleteEntity_RemovesEdgesAndMirror(t *testing.T) {
	h := NewHandler(nil)
	require.NoError(t, h.RegisterInheritanceRelationship("root", "mid"))
	require.NoError(t, h.RegisterInheritanceRelationship("mid", "leaf"))
	require.NoError(t, h.SetEntityAttributes("mid", trust.NewAttribute("mid", 0.7, nil)))

	h.DeleteEntity("mid")

	_, ok := h.GetEntityAttributes("mid")
	assert.False(t, ok)
	assert.Empty(t, h.GetChildren("root"))
	assert.Empty(t, h.GetParents("leaf"))
}
