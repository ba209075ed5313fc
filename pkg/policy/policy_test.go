package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func lexicalConfig(mode ConflictResolutionMode) InterpretationConfig {
	return InterpretationConfig{
		InterpretationAuthority: "supervisor",
		ConflictResolutionMode:  mode,
		TieBreaker:              TieBreakerStableOrder,
		StableOrderMode:         StableOrderLexicalRuleID,
	}
}

func TestResolveOverlappingRules_DenyWins(t *testing.T) {
	matches := []RuleMatch{
		{RuleID: "z_rule", Effect: EffectAllow, Priority: 100},
		{RuleID: "block_rule", Effect: EffectBlock, Priority: 1},
	}
	d, err := ResolveOverlappingRules(matches, lexicalConfig(ModeDenyWins), nil)
	require.NoError(t, err)
	require.Equal(t, EffectBlock, d.Effect)
	require.Equal(t, "block_rule", d.SelectedRuleID)
	require.Equal(t, "deny_wins", d.Reason)
}

func TestResolveOverlappingRules_DenyWinsFallback(t *testing.T) {
	matches := []RuleMatch{
		{RuleID: "b", Effect: EffectWarn},
		{RuleID: "a", Effect: EffectAllow},
	}
	d, err := ResolveOverlappingRules(matches, lexicalConfig(ModeDenyWins), nil)
	require.NoError(t, err)
	require.Equal(t, "a", d.SelectedRuleID)
	require.Equal(t, "deny_wins_fallback", d.Reason)
}

func TestResolveOverlappingRules_MostSpecific(t *testing.T) {
	matches := []RuleMatch{
		{RuleID: "low", Effect: EffectAllow, Specificity: 1},
		{RuleID: "high", Effect: EffectBlock, Specificity: 5},
	}
	d, err := ResolveOverlappingRules(matches, lexicalConfig(ModeMostSpecific), nil)
	require.NoError(t, err)
	require.Equal(t, "high", d.SelectedRuleID)
	require.Equal(t, "most_specific", d.Reason)
}

func TestResolveOverlappingRules_ExplicitPriorityOrderIndexTieBreak(t *testing.T) {
	cfg := InterpretationConfig{
		InterpretationAuthority: "supervisor",
		ConflictResolutionMode:  ModeExplicitPriority,
		TieBreaker:              TieBreakerStableOrder,
		StableOrderMode:         StableOrderIndex,
	}
	matches := []RuleMatch{
		{RuleID: "z", Effect: EffectAllow, Priority: 10, OrderIndex: 2},
		{RuleID: "a", Effect: EffectBlock, Priority: 10, OrderIndex: 1},
	}
	d, err := ResolveOverlappingRules(matches, cfg, nil)
	require.NoError(t, err)
	require.Equal(t, "a", d.SelectedRuleID)
}

func TestResolveOverlappingRules_EmptyMatchSet(t *testing.T) {
	d, err := ResolveOverlappingRules(nil, lexicalConfig(ModeDenyWins), nil)
	require.NoError(t, err)
	require.Equal(t, EffectBlock, d.Effect)
	require.Equal(t, "", d.SelectedRuleID)
	require.Equal(t, "no_matching_rule", d.Reason)
}

func TestResolveOverlappingRules_PredicateFiltersIneligibleMatch(t *testing.T) {
	matches := []RuleMatch{
		{RuleID: "admin_block", Effect: EffectBlock, Predicate: `request.path == "/admin"`},
		{RuleID: "default_allow", Effect: EffectAllow},
	}
	ctx := map[string]any{"request": map[string]any{"path": "/public"}}
	d, err := ResolveOverlappingRules(matches, lexicalConfig(ModeDenyWins), ctx)
	require.NoError(t, err)
	require.Equal(t, "default_allow", d.SelectedRuleID)
	require.Equal(t, "deny_wins_fallback", d.Reason)

	ctx["request"] = map[string]any{"path": "/admin"}
	d, err = ResolveOverlappingRules(matches, lexicalConfig(ModeDenyWins), ctx)
	require.NoError(t, err)
	require.Equal(t, "admin_block", d.SelectedRuleID)
	require.Equal(t, "deny_wins", d.Reason)
}

func TestValidateInitialization_ReviewRequiresLedgerResolver(t *testing.T) {
	cfg := lexicalConfig(ModeDenyWins)
	err := ValidateInitialization(cfg, []Effect{EffectReview}, false)
	require.Error(t, err)

	err = ValidateInitialization(cfg, []Effect{EffectReview}, true)
	require.NoError(t, err)
}

func TestValidateInterpretationConfig_RejectsNonSupervisorAuthority(t *testing.T) {
	cfg := lexicalConfig(ModeDenyWins)
	cfg.InterpretationAuthority = "planner"
	require.Error(t, ValidateInterpretationConfig(cfg))
}

func TestValidateSecretInjection_RequiresExpiryPolicy(t *testing.T) {
	ref := SecretRef{Provider: SecretProviderVault, Key: "db-password"}
	result := ValidateSecretInjection(ref, InjectHeader, nil, nil)
	require.Equal(t, SecretInvalid, result)
}

func TestValidateSecretInjection_ReviewRequiredForExceptionListedMode(t *testing.T) {
	ttl := 3600
	ref := SecretRef{Provider: SecretProviderVault, Key: "db-password", RotationTTLSeconds: &ttl}
	disallowed := map[SecretInjectionMode]bool{InjectURLPath: true}
	exceptions := map[SecretInjectionMode]bool{InjectURLPath: true}
	result := ValidateSecretInjection(ref, InjectURLPath, disallowed, exceptions)
	require.Equal(t, SecretReviewRequired, result)
}

func TestResolveReviewArtifact_MismatchIsUnresolved(t *testing.T) {
	artifact := &ReviewArtifact{ReviewID: "r1", PolicyHash: "p1", RequestFingerprint: "f1", Decision: LedgerAllow}
	require.Equal(t, LedgerUnresolved, ResolveReviewArtifact(artifact, "r1", "f1", "different-policy"))
	require.Equal(t, LedgerAllow, ResolveReviewArtifact(artifact, "r1", "f1", "p1"))
}

func TestMatchesPredicate_EmptyAlwaysMatches(t *testing.T) {
	ok, err := MatchesPredicate(RuleMatch{RuleID: "r"}, map[string]any{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMatchesPredicate_EvaluatesCELExpression(t *testing.T) {
	m := RuleMatch{RuleID: "r", Predicate: `request.method == "POST"`}
	ok, err := MatchesPredicate(m, map[string]any{"request": map[string]any{"method": "POST"}})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = MatchesPredicate(m, map[string]any{"request": map[string]any{"method": "GET"}})
	require.NoError(t, err)
	require.False(t, ok)
}
