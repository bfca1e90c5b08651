package filter

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"dispatchmon/internal/config"
	"dispatchmon/internal/dispatch"
)

// Filter decides whether a record is notification-worthy. A record matches
// when it carries the outreach flag or its call type is on the allow-list
// (case-normalized exact match). An optional expr rule further restricts
// the matches. Matches is pure; the only work at construction time is
// compiling the rule.
type Filter struct {
	outreachFlag string
	allow        map[string]struct{}
	rule         *vm.Program
}

func New(cfg config.FilterConfig) (*Filter, error) {
	f := &Filter{
		outreachFlag: strings.TrimSpace(cfg.OutreachFlag),
		allow:        make(map[string]struct{}, len(cfg.CallTypes)),
	}
	for _, ct := range cfg.CallTypes {
		f.allow[normalize(ct)] = struct{}{}
	}

	if rule := strings.TrimSpace(cfg.Rule); rule != "" {
		program, err := expr.Compile(rule, expr.Env(ruleEnv(dispatch.Record{})), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile filter rule: %w", err)
		}
		f.rule = program
	}
	return f, nil
}

func (f *Filter) Matches(r dispatch.Record) bool {
	matched := r.HasFlag(f.outreachFlag)
	if !matched {
		_, matched = f.allow[normalize(r.CallType)]
	}
	if !matched {
		return false
	}
	if f.rule == nil {
		return true
	}
	result, err := expr.Run(f.rule, ruleEnv(r))
	if err != nil {
		// The rule is an extra restriction on top of the base policy; a
		// broken rule must not suppress notifications the base policy
		// already selected.
		return true
	}
	keep, ok := result.(bool)
	return !ok || keep
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func ruleEnv(r dispatch.Record) map[string]interface{} {
	return map[string]interface{}{
		"call_type":    r.CallType,
		"flags":        r.Flags,
		"agency":       r.Agency,
		"neighborhood": r.Neighborhood,
		"priority":     r.Priority,
		"sensitive":    r.Sensitive,
	}
}
