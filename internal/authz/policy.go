package authz

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PolicyEffect is the outcome of a matched ABAC rule.
type PolicyEffect string

const (
	EffectAllow PolicyEffect = "allow"
	EffectDeny  PolicyEffect = "deny"
)

// PolicyRule is one ABAC rule: a side-effect-free condition expression
// over the evaluation context, and the effect to apply if it matches.
type PolicyRule struct {
	Effect    PolicyEffect
	Condition string
}

// Policy is an ordered list of rules; Evaluate applies first-match-wins,
// default deny.
type Policy struct {
	Rules []PolicyRule
}

// EvalContext is the environment an ABAC condition expression is
// evaluated against: the acting user, the target resource, and runtime
// environment attributes (time, ip, device).
type EvalContext struct {
	UserID         uuid.UUID
	TenantID       uuid.UUID
	UserAttributes map[string]string
	Resource       ScopeAttributes
	Now            time.Time
	IP             string
	Device         string
}

// Evaluate walks Rules in order and returns the effect of the first rule
// whose condition matches ctx. If no rule matches, the decision defaults
// to deny.
func (p Policy) Evaluate(ctx EvalContext) PolicyEffect {
	for _, rule := range p.Rules {
		if evalCondition(rule.Condition, ctx) {
			return rule.Effect
		}
	}
	return EffectDeny
}

// evalCondition evaluates a small side-effect-free expression language:
// a conjunction ("&&"-separated) of atoms of shape "field op value",
// where field is one of a fixed set of context attributes, op is one of
// "==", "!=", "<", ">", "<=", ">=", and value is a literal. This is
// intentionally not a general expression evaluator — policies describe
// attribute comparisons, nothing else, so there is no arbitrary code
// execution surface.
func evalCondition(expr string, ctx EvalContext) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "true" {
		return true
	}
	for _, atom := range strings.Split(expr, "&&") {
		if !evalAtom(strings.TrimSpace(atom), ctx) {
			return false
		}
	}
	return true
}

func evalAtom(atom string, ctx EvalContext) bool {
	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		if idx := strings.Index(atom, op); idx >= 0 {
			field := strings.TrimSpace(atom[:idx])
			value := strings.Trim(strings.TrimSpace(atom[idx+len(op):]), `"'`)
			return compare(fieldValue(field, ctx), op, value)
		}
	}
	return false
}

func fieldValue(field string, ctx EvalContext) string {
	switch field {
	case "user.id":
		return ctx.UserID.String()
	case "tenant.id":
		return ctx.TenantID.String()
	case "resource.owner_id":
		return ctx.Resource.OwnerID.String()
	case "resource.tenant_id":
		return ctx.Resource.TenantID.String()
	case "resource.organization_id":
		return ctx.Resource.OrganizationID.String()
	case "env.ip":
		return ctx.IP
	case "env.device":
		return ctx.Device
	case "env.hour":
		return strconv.Itoa(ctx.Now.Hour())
	default:
		if v, ok := ctx.UserAttributes[strings.TrimPrefix(field, "user.attr.")]; ok {
			return v
		}
		return ""
	}
}

func compare(actual, op, expected string) bool {
	switch op {
	case "==":
		return actual == expected
	case "!=":
		return actual != expected
	}
	a, errA := strconv.ParseFloat(actual, 64)
	b, errB := strconv.ParseFloat(expected, 64)
	if errA != nil || errB != nil {
		return false
	}
	switch op {
	case "<":
		return a < b
	case ">":
		return a > b
	case "<=":
		return a <= b
	case ">=":
		return a >= b
	}
	return false
}
