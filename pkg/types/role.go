package types

// Role identifies the kind of work an agent performs within a mission.
// The set is closed: the orchestrator only ever dispatches to these roles.
type Role string

const (
	RolePlanner    Role = "planner"    // RolePlanner turns a goal into a high-level plan.
	RoleDecomposer Role = "decomposer" // RoleDecomposer breaks a plan into a task DAG.
	RoleArchitect  Role = "architect"  // RoleArchitect produces a design document for a task.
	RoleCoder      Role = "coder"      // RoleCoder produces a code artifact for a task.
	RoleCritic     Role = "critic"     // RoleCritic reviews an artifact and produces notes.
	RoleTester     Role = "tester"     // RoleTester produces and reports test results.
	RoleEvaluator  Role = "evaluator"  // RoleEvaluator scores an output against criteria.
	RoleIntegrator Role = "integrator" // RoleIntegrator merges task outputs into the delivered artifact.
)

// Roles returns the closed set of known roles in dispatch order.
func Roles() []Role {
	return []Role{
		RolePlanner,
		RoleDecomposer,
		RoleArchitect,
		RoleCoder,
		RoleCritic,
		RoleTester,
		RoleEvaluator,
		RoleIntegrator,
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePlanner, RoleDecomposer, RoleArchitect, RoleCoder,
		RoleCritic, RoleTester, RoleEvaluator, RoleIntegrator:
		return true
	}
	return false
}

// Milestone is a named checkpoint requiring human disposition before the
// mission state machine may advance past it.
type Milestone string

const (
	// MilestoneMissionPlan gates progression from planning to decomposition.
	MilestoneMissionPlan Milestone = "mission_plan"

	// MilestoneDecompositionPlan optionally gates the task graph before execution.
	MilestoneDecompositionPlan Milestone = "decomposition_plan"

	// MilestoneFinalDelivery gates the integrated artifact before the mission succeeds.
	MilestoneFinalDelivery Milestone = "final_delivery"
)
