package models

// PlanStep is one ordered step of a run plan.
type PlanStep struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	ToolIntents []string `json:"tool_intents,omitempty"`
}

// PlanData is the materialized plan for a task. It is replaced wholesale
// whenever a new plan-ready event arrives.
type PlanData struct {
	GoalSummary        string     `json:"goal_summary"`
	Steps              []PlanStep `json:"steps"`
	CompletionCriteria string     `json:"completion_criteria,omitempty"`
}

// PlanResponse wraps the current plan (null when no plan has arrived).
type PlanResponse struct {
	Plan *PlanData `json:"plan"`
}
