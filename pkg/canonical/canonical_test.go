package canonical

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytes_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": []any{1, 2, 3}}
	b := map[string]any{"c": []any{1, 2, 3}, "a": 2, "b": 1}

	ab, err := Bytes(a, false)
	require.NoError(t, err)
	bb, err := Bytes(b, false)
	require.NoError(t, err)
	require.Equal(t, string(ab), string(bb))
	require.Equal(t, `{"a":2,"b":1,"c":[1,2,3]}`, string(ab))
}

func TestBytes_RejectsFloat(t *testing.T) {
	_, err := Bytes(map[string]any{"x": 1.5}, false)
	require.Error(t, err)
}

func TestBytes_NoHTMLEscaping(t *testing.T) {
	b, err := Bytes(map[string]any{"a": "<tag>&"}, false)
	require.NoError(t, err)
	require.Contains(t, string(b), "<tag>&")
}

func TestDomainHash_DomainSeparation(t *testing.T) {
	obj := map[string]any{"x": "y"}
	h1, err := DomainHash("domain.one.v1", obj)
	require.NoError(t, err)
	h2, err := DomainHash("domain.two.v1", obj)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestDomainHash_EmptyDomainRejected(t *testing.T) {
	_, err := DomainHash("", map[string]any{"x": "y"})
	require.Error(t, err)
}

func TestDomainHash_RequiresMapping(t *testing.T) {
	_, err := DomainHash("domain.v1", []any{1, 2, 3})
	require.Error(t, err)
}

func TestPolicyHashInput_RejectsEmptyField(t *testing.T) {
	_, err := PolicyHashInput("", "v1", "deny_wins", "stable_order", "lexical_rule_id", "abc")
	require.Error(t, err)
}

func TestReviewDecisionInput_RejectsInvalidDecision(t *testing.T) {
	_, err := ReviewDecisionInput("rid", "ph", "rf", "warn", "alice", "sig")
	require.Error(t, err)
}

func TestAuditEventIdentityInput_RejectsNegativeSequence(t *testing.T) {
	_, err := AuditEventIdentityInput("e1", "policy.evaluated", "ph", "rf", -1, "stream-1", "")
	require.Error(t, err)
}
