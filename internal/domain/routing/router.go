// Package routing decides who approves a request next.
//
// The router is a pure function of the acting employee, the request kind, the set of
// employees that already approved the request, and the directory. It never writes.
package routing

import (
	"context"
	"fmt"

	"github.com/garyjia/xpensure/internal/domain/entity"
)

// RulesVersion identifies the rule table below. Bump it whenever a row changes.
const RulesVersion = "2"

// Directory is the read-only view of the employee directory the router needs.
// Both methods return (nil, nil) when nothing matches.
type Directory interface {
	GetByEmployeeID(ctx context.Context, employeeID string) (*entity.Employee, error)
	FirstWithRole(ctx context.Context, role entity.Role) (*entity.Employee, error)
}

// Rule names which row of the table produced a decision.
type Rule string

const (
	RuleManagerChain   Rule = "manager_chain"
	RuleReportsToFixed Rule = "reports_to_checkpoint"
	RuleNoManager      Rule = "no_manager"
	RuleCycleBroken    Rule = "cycle_broken"
	RuleCheckpoint     Rule = "checkpoint"
	RuleTerminal       Rule = "terminal"
)

// Route is the input to a routing call.
type Route struct {
	Actor *entity.Employee
	Kind  entity.RequestKind
	// Visited holds employees that already approved this request. The actor is
	// always treated as visited.
	Visited map[string]bool
}

// Decision is the outcome of a routing call. An empty NextID means the chain ends.
type Decision struct {
	NextID  string
	Rule    Rule
	Version string
	// DeadEnd is set when a rule needed a role nobody holds.
	DeadEnd     bool
	MissingRole entity.Role
}

// Terminal reports whether no further approver exists.
func (d Decision) Terminal() bool {
	return d.NextID == ""
}

// Router applies the versioned rule table.
type Router struct {
	directory Directory
}

// NewRouter creates a router over directory.
func NewRouter(directory Directory) *Router {
	return &Router{directory: directory}
}

// InitialApprover returns the submitter's reports-to verbatim, or "" when unset.
func InitialApprover(submitter *entity.Employee) string {
	return submitter.ReportsTo
}

// NextApprover returns the employee who should act after route.Actor approves.
func (r *Router) NextApprover(ctx context.Context, route Route) (Decision, error) {
	if route.Actor == nil {
		return Decision{}, fmt.Errorf("route: %w: actor is required", entity.ErrValidation)
	}
	if !route.Kind.IsValid() {
		return Decision{}, entity.NewValidationError("kind", fmt.Sprintf("unknown request kind %q", route.Kind))
	}

	actor := route.Actor
	switch {
	case actor.Role.IsManagerLike():
		return r.fromManager(ctx, route)
	case actor.Role == entity.RoleFinanceVerification:
		if route.Kind == entity.KindAdvance {
			return r.checkpoint(ctx, entity.RoleHR)
		}
		return r.checkpoint(ctx, entity.RoleCEO)
	case actor.Role == entity.RoleHR:
		return r.checkpoint(ctx, entity.RoleCEO)
	case actor.Role == entity.RoleCEO:
		return r.checkpoint(ctx, entity.RoleFinancePayment)
	case actor.Role == entity.RoleFinancePayment:
		return terminal(), nil
	case actor.Role == entity.RoleFinance:
		return r.fromLegacyFinance(ctx, actor)
	}
	return Decision{}, entity.NewValidationError("role", fmt.Sprintf("unknown role %q", actor.Role))
}

func (r *Router) fromManager(ctx context.Context, route Route) (Decision, error) {
	actor := route.Actor
	if actor.ReportsTo == "" {
		return r.toVerification(ctx, RuleNoManager)
	}

	target, err := r.directory.GetByEmployeeID(ctx, actor.ReportsTo)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to resolve reports-to %s: %w", actor.ReportsTo, err)
	}
	if target == nil {
		return r.toVerification(ctx, RuleNoManager)
	}
	if target.EmployeeID == actor.EmployeeID || route.Visited[target.EmployeeID] {
		return r.toVerification(ctx, RuleCycleBroken)
	}

	if target.Role.IsManagerLike() {
		return Decision{NextID: target.EmployeeID, Rule: RuleManagerChain, Version: RulesVersion}, nil
	}
	if target.Role.IsCheckpoint() {
		return Decision{NextID: target.EmployeeID, Rule: RuleReportsToFixed, Version: RulesVersion}, nil
	}
	return r.toVerification(ctx, RuleNoManager)
}

// toVerification sends the request to Finance Verification. When nobody holds that
// role the chain ends in a dead end.
func (r *Router) toVerification(ctx context.Context, rule Rule) (Decision, error) {
	fv, err := r.directory.FirstWithRole(ctx, entity.RoleFinanceVerification)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to find %s: %w", entity.RoleFinanceVerification, err)
	}
	if fv == nil {
		return Decision{Rule: rule, Version: RulesVersion, DeadEnd: true, MissingRole: entity.RoleFinanceVerification}, nil
	}
	return Decision{NextID: fv.EmployeeID, Rule: rule, Version: RulesVersion}, nil
}

func (r *Router) checkpoint(ctx context.Context, role entity.Role) (Decision, error) {
	holder, err := r.directory.FirstWithRole(ctx, role)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to find %s: %w", role, err)
	}
	if holder == nil {
		return Decision{Rule: RuleCheckpoint, Version: RulesVersion, DeadEnd: true, MissingRole: role}, nil
	}
	return Decision{NextID: holder.EmployeeID, Rule: RuleCheckpoint, Version: RulesVersion}, nil
}

func (r *Router) fromLegacyFinance(ctx context.Context, actor *entity.Employee) (Decision, error) {
	if actor.ReportsTo == "" {
		return terminal(), nil
	}
	target, err := r.directory.GetByEmployeeID(ctx, actor.ReportsTo)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to resolve reports-to %s: %w", actor.ReportsTo, err)
	}
	if target != nil && target.Role == entity.RoleCEO {
		return Decision{NextID: target.EmployeeID, Rule: RuleReportsToFixed, Version: RulesVersion}, nil
	}
	return terminal(), nil
}

func terminal() Decision {
	return Decision{Rule: RuleTerminal, Version: RulesVersion}
}
