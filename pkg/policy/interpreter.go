// Package policy implements deterministic conflict resolution over
// overlapping policy rule matches, plus the egress, secret-injection, and
// review-ledger evaluators that share the same resolution discipline.
package policy

import (
	"sort"

	"github.com/forgeward/kernel/pkg/kernelerr"
)

// Effect is the outcome of a rule match or a resolved decision.
type Effect string

const (
	EffectAllow  Effect = "allow"
	EffectWarn   Effect = "warn"
	EffectReview Effect = "review"
	EffectBlock  Effect = "block"
)

// ConflictResolutionMode selects how overlapping matches are resolved.
type ConflictResolutionMode string

const (
	ModeDenyWins        ConflictResolutionMode = "deny_wins"
	ModeMostSpecific    ConflictResolutionMode = "most_specific"
	ModeExplicitPriority ConflictResolutionMode = "explicit_priority"
)

// TieBreaker is fixed to stable_order; represented as a type for clarity
// and forward compatibility, not because any other value is accepted.
type TieBreaker string

const TieBreakerStableOrder TieBreaker = "stable_order"

// StableOrderMode selects the total order used to break ties.
type StableOrderMode string

const (
	StableOrderLexicalRuleID StableOrderMode = "lexical_rule_id"
	StableOrderIndex         StableOrderMode = "order_index"
)

// InterpretationConfig governs resolve_overlapping_rules.
type InterpretationConfig struct {
	InterpretationAuthority string
	ConflictResolutionMode  ConflictResolutionMode
	TieBreaker              TieBreaker
	StableOrderMode         StableOrderMode
}

// RuleMatch is one candidate rule matched against a request.
type RuleMatch struct {
	RuleID      string
	Effect      Effect
	Specificity int
	Priority    int
	OrderIndex  int
	// Predicate, if non-empty, is a CEL boolean expression evaluated over
	// the request context before this match is considered eligible. An
	// empty Predicate always matches (parity with the flat-match original).
	Predicate string
}

// Decision is the resolved outcome of overlapping rule matches.
type Decision struct {
	Effect         Effect
	SelectedRuleID string
	Reason         string
}

func errInit(reason string) error {
	return kernelerr.New(kernelerr.ClassInputShape, "secure_layer.init.invalid", reason, nil)
}

// ValidateInterpretationConfig enforces the initialization guardrails:
// interpretation_authority must be "supervisor", conflict_resolution_mode
// and stable_order_mode must be within their enums, and tie_breaker must
// be stable_order.
func ValidateInterpretationConfig(c InterpretationConfig) error {
	if c.InterpretationAuthority != "supervisor" {
		return errInit("interpretation_authority must be supervisor")
	}
	switch c.ConflictResolutionMode {
	case ModeDenyWins, ModeMostSpecific, ModeExplicitPriority:
	default:
		return errInit("missing or invalid conflict_resolution_mode")
	}
	if c.TieBreaker != TieBreakerStableOrder {
		return errInit("tie_breaker must be stable_order")
	}
	switch c.StableOrderMode {
	case StableOrderLexicalRuleID, StableOrderIndex:
	default:
		return errInit("stable_order_mode")
	}
	return nil
}

// ValidateInitialization additionally requires a ledger resolver whenever
// "review" appears among the severities a caller intends to emit.
func ValidateInitialization(c InterpretationConfig, emittedSeverities []Effect, hasReviewLedgerResolver bool) error {
	if err := ValidateInterpretationConfig(c); err != nil {
		return err
	}
	for _, s := range emittedSeverities {
		if s == EffectReview && !hasReviewLedgerResolver {
			return errInit("review severity requires ledger resolver")
		}
	}
	return nil
}

// ResolveOverlappingRules deterministically resolves a set of rule matches
// according to config.ConflictResolutionMode, breaking ties with the
// configured stable order. Candidates carrying a CEL predicate are first
// filtered against requestContext; a match whose predicate does not hold
// against the current request never reaches conflict resolution. An
// empty match set, or one left empty after predicate filtering, always
// yields a closed decision (block, no_matching_rule).
func ResolveOverlappingRules(matches []RuleMatch, config InterpretationConfig, requestContext map[string]any) (Decision, error) {
	if err := ValidateInterpretationConfig(config); err != nil {
		return Decision{}, err
	}

	eligible := make([]RuleMatch, 0, len(matches))
	for _, m := range matches {
		ok, err := MatchesPredicate(m, requestContext)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			eligible = append(eligible, m)
		}
	}
	matches = eligible

	if len(matches) == 0 {
		return Decision{Effect: EffectBlock, SelectedRuleID: "", Reason: "no_matching_rule"}, nil
	}

	switch config.ConflictResolutionMode {
	case ModeDenyWins:
		if blocked := firstEffect(matches, EffectBlock, config); blocked != nil {
			return Decision{Effect: EffectBlock, SelectedRuleID: blocked.RuleID, Reason: "deny_wins"}, nil
		}
		selected := stablePick(matches, config)
		return Decision{Effect: selected.Effect, SelectedRuleID: selected.RuleID, Reason: "deny_wins_fallback"}, nil

	case ModeMostSpecific:
		maxSpecificity := matches[0].Specificity
		for _, m := range matches {
			if m.Specificity > maxSpecificity {
				maxSpecificity = m.Specificity
			}
		}
		var candidates []RuleMatch
		for _, m := range matches {
			if m.Specificity == maxSpecificity {
				candidates = append(candidates, m)
			}
		}
		selected := stablePick(candidates, config)
		return Decision{Effect: selected.Effect, SelectedRuleID: selected.RuleID, Reason: "most_specific"}, nil

	default: // explicit_priority
		maxPriority := matches[0].Priority
		for _, m := range matches {
			if m.Priority > maxPriority {
				maxPriority = m.Priority
			}
		}
		var candidates []RuleMatch
		for _, m := range matches {
			if m.Priority == maxPriority {
				candidates = append(candidates, m)
			}
		}
		selected := stablePick(candidates, config)
		return Decision{Effect: selected.Effect, SelectedRuleID: selected.RuleID, Reason: "explicit_priority"}, nil
	}
}

func firstEffect(matches []RuleMatch, effect Effect, config InterpretationConfig) *RuleMatch {
	var candidates []RuleMatch
	for _, m := range matches {
		if m.Effect == effect {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	picked := stablePick(candidates, config)
	return &picked
}

// stablePick never resolves ties by time, insertion order, or randomness:
// lexical_rule_id sorts by rule_id ascending; order_index sorts by
// (order_index, rule_id) ascending.
func stablePick(matches []RuleMatch, config InterpretationConfig) RuleMatch {
	sorted := make([]RuleMatch, len(matches))
	copy(sorted, matches)
	if config.StableOrderMode == StableOrderLexicalRuleID {
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].RuleID < sorted[j].RuleID })
	} else {
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].OrderIndex != sorted[j].OrderIndex {
				return sorted[i].OrderIndex < sorted[j].OrderIndex
			}
			return sorted[i].RuleID < sorted[j].RuleID
		})
	}
	return sorted[0]
}
