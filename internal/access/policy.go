package access

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
)

// PolicyFile is the YAML layout of a policy file:
//
//	default: deny
//	policies:
//	  - actions: [read]
//	    allow: "true"
//	    filter: "status = ?"
//	    filter_args: ['"published"']
//	    skip_filter: "authenticated"
//	  - actions: [create, update, delete]
//	    allow: 'authenticated && user.role == "admin"'
//
// Expressions see user (id, email, role), authenticated, action, kind,
// entity and resource (the row or payload).
type PolicyFile struct {
	Default  string       `yaml:"default"`
	Policies []PolicySpec `yaml:"policies"`
}

// PolicySpec is one rule. Empty Kinds, Entities or Actions match anything.
// The first matching rule decides.
type PolicySpec struct {
	Kinds    []schema.Kind `yaml:"kinds"`
	Entities []string      `yaml:"entities"`
	Actions  []Action      `yaml:"actions"`

	// Allow is a boolean expression deciding Can.
	Allow string `yaml:"allow"`

	// Filter is a SQL fragment with "?" markers AND-ed into list queries.
	// "{table}" is replaced by the quoted table name.
	Filter string `yaml:"filter"`
	// FilterArgs are expressions producing the marker values.
	FilterArgs []string `yaml:"filter_args"`
	// SkipFilter is a boolean expression; when true no filter is applied.
	SkipFilter string `yaml:"skip_filter"`
}

type policy struct {
	spec       PolicySpec
	allow      *vm.Program
	skipFilter *vm.Program
	filterArgs []*vm.Program
}

// PolicyAuthorizer evaluates expression policies loaded from YAML.
type PolicyAuthorizer struct {
	policies     []policy
	defaultAllow bool
	dialect      database.Dialect
	logger       *slog.Logger
}

// LoadPolicies reads and compiles the policy file at path.
func LoadPolicies(path string, d database.Dialect, logger *slog.Logger) (*PolicyAuthorizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return ParsePolicies(data, d, logger)
}

// ParsePolicies compiles a policy file. Every expression is compiled up front
// so a typo fails at startup rather than on the first request.
func ParsePolicies(data []byte, d database.Dialect, logger *slog.Logger) (*PolicyAuthorizer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var file PolicyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}

	a := &PolicyAuthorizer{dialect: d, logger: logger}
	switch file.Default {
	case "", "deny":
	case "allow":
		a.defaultAllow = true
	default:
		return nil, fmt.Errorf("policy default must be allow or deny, got %q", file.Default)
	}

	for i, spec := range file.Policies {
		p := policy{spec: spec}
		if spec.Allow == "" {
			return nil, fmt.Errorf("policy %d: allow expression is required", i)
		}
		if strings.Count(spec.Filter, "?") != len(spec.FilterArgs) {
			return nil, fmt.Errorf("policy %d: filter has %d markers but %d filter_args",
				i, strings.Count(spec.Filter, "?"), len(spec.FilterArgs))
		}

		var err error
		if p.allow, err = expr.Compile(spec.Allow, expr.AsBool()); err != nil {
			return nil, fmt.Errorf("policy %d: compiling allow: %w", i, err)
		}
		if spec.SkipFilter != "" {
			if p.skipFilter, err = expr.Compile(spec.SkipFilter, expr.AsBool()); err != nil {
				return nil, fmt.Errorf("policy %d: compiling skip_filter: %w", i, err)
			}
		}
		for j, arg := range spec.FilterArgs {
			prog, err := expr.Compile(arg)
			if err != nil {
				return nil, fmt.Errorf("policy %d: compiling filter_args[%d]: %w", i, j, err)
			}
			p.filterArgs = append(p.filterArgs, prog)
		}
		a.policies = append(a.policies, p)
	}
	return a, nil
}

func (a *PolicyAuthorizer) match(action Action, kind schema.Kind, entity string) *policy {
	for i := range a.policies {
		s := a.policies[i].spec
		if len(s.Kinds) > 0 && !slices.Contains(s.Kinds, kind) {
			continue
		}
		if len(s.Entities) > 0 && !slices.Contains(s.Entities, entity) {
			continue
		}
		if len(s.Actions) > 0 && !slices.Contains(s.Actions, action) {
			continue
		}
		return &a.policies[i]
	}
	return nil
}

func policyEnv(ctx context.Context, action Action, kind schema.Kind, entity string, resource map[string]any) map[string]any {
	user := map[string]any{}
	u := UserFromContext(ctx)
	if u != nil {
		user = map[string]any{"id": u.ID, "email": u.Email, "role": u.Role}
	}
	if resource == nil {
		resource = map[string]any{}
	}
	return map[string]any{
		"user":          user,
		"authenticated": u != nil,
		"action":        string(action),
		"kind":          string(kind),
		"entity":        entity,
		"resource":      resource,
	}
}

func runBool(prog *vm.Program, env map[string]any) (bool, error) {
	out, err := expr.Run(prog, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, not bool", out)
	}
	return b, nil
}

// Can implements Authorizer. Evaluation errors deny.
func (a *PolicyAuthorizer) Can(ctx context.Context, action Action, kind schema.Kind, resource Resource) bool {
	p := a.match(action, kind, resource.Entity)
	if p == nil {
		return a.defaultAllow
	}

	data := resource.Data
	if resource.ID != "" {
		data = make(map[string]any, len(resource.Data)+1)
		for k, v := range resource.Data {
			data[k] = v
		}
		data["id"] = resource.ID
	}

	ok, err := runBool(p.allow, policyEnv(ctx, action, kind, resource.Entity, data))
	if err != nil {
		a.logger.Warn("policy evaluation failed", "action", action, "kind", kind, "entity", resource.Entity, "error", err)
		return false
	}
	return ok
}

// QueryPredicate implements Authorizer. When the matching rule denies the
// action outright the predicate matches nothing.
func (a *PolicyAuthorizer) QueryPredicate(ctx context.Context, kind schema.Kind, table string, action Action) *database.Predicate {
	entity := strings.TrimPrefix(table, string(kind)+"_")
	p := a.match(action, kind, entity)
	if p == nil {
		if a.defaultAllow {
			return nil
		}
		return &database.Predicate{Clause: "1 = 0"}
	}

	env := policyEnv(ctx, action, kind, entity, nil)
	if ok, err := runBool(p.allow, env); err != nil || !ok {
		if err != nil {
			a.logger.Warn("policy evaluation failed", "action", action, "kind", kind, "entity", entity, "error", err)
		}
		return &database.Predicate{Clause: "1 = 0"}
	}

	if p.spec.Filter == "" {
		return nil
	}
	if p.skipFilter != nil {
		skip, err := runBool(p.skipFilter, env)
		if err != nil {
			a.logger.Warn("policy skip_filter failed", "entity", entity, "error", err)
		} else if skip {
			return nil
		}
	}

	args := make([]any, 0, len(p.filterArgs))
	for i, prog := range p.filterArgs {
		v, err := expr.Run(prog, env)
		if err != nil {
			a.logger.Warn("policy filter argument failed", "entity", entity, "index", i, "error", err)
			return &database.Predicate{Clause: "1 = 0"}
		}
		args = append(args, v)
	}

	clause := strings.ReplaceAll(p.spec.Filter, "{table}", a.dialect.QuoteIdent(table))
	return &database.Predicate{Clause: clause, Args: args}
}
