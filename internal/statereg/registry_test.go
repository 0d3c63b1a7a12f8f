package statereg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edms/lifecycle-core/internal/types"
)

func TestValidateTransition(t *testing.T) {
	require.NoError(t, ValidateTransition(types.StatusDraft, types.StatusPendingReview, TriggerAuthor))
	require.Error(t, ValidateTransition(types.StatusDraft, types.StatusEffective, TriggerAuthor))
	require.Error(t, ValidateTransition(types.StatusDraft, types.StatusPendingReview, TriggerReviewer))
}

func TestTerminateBlanketRule(t *testing.T) {
	require.NoError(t, ValidateTransition(types.StatusUnderReview, types.StatusTerminated, TriggerAuthor))
	require.Error(t, ValidateTransition(types.StatusEffective, types.StatusTerminated, TriggerAuthor))
	require.Error(t, ValidateTransition(types.StatusObsolete, types.StatusTerminated, TriggerAuthor))
	require.Error(t, ValidateTransition(types.StatusDraft, types.StatusTerminated, TriggerReviewer))
}

func TestAllowedTransitions(t *testing.T) {
	allowed := AllowedTransitions(types.StatusDraft)
	require.Contains(t, allowed, types.StatusPendingReview)
	require.Contains(t, allowed, types.StatusTerminated)
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(types.StatusObsolete))
	require.False(t, IsTerminal(types.StatusEffective))
	require.False(t, IsTerminal(types.StatusDraft))
}
