package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// MatchesPredicate evaluates m.Predicate (a CEL boolean expression) against
// requestContext, returning true when Predicate is empty. This is an
// enrichment over the original flat-equality matching: rule authors may
// express richer match conditions ("request.path.startsWith('/admin') &&
// request.method == 'POST'") without the interpreter itself becoming
// stateful or nondeterministic — CEL evaluation is pure and side-effect
// free, preserving the resolver's determinism invariant.
func MatchesPredicate(m RuleMatch, requestContext map[string]any) (bool, error) {
	if m.Predicate == "" {
		return true, nil
	}

	decls := make([]cel.EnvOption, 0, len(requestContext))
	for k := range requestContext {
		decls = append(decls, cel.Variable(k, cel.DynType))
	}
	env, err := cel.NewEnv(decls...)
	if err != nil {
		return false, fmt.Errorf("policy: cel env: %w", err)
	}

	ast, issues := env.Compile(m.Predicate)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("policy: cel compile %q: %w", m.RuleID, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("policy: cel program %q: %w", m.RuleID, err)
	}

	out, _, err := prg.Eval(requestContext)
	if err != nil {
		return false, fmt.Errorf("policy: cel eval %q: %w", m.RuleID, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: predicate %q did not evaluate to bool", m.RuleID)
	}
	return b, nil
}
