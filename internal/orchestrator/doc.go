// Package orchestrator plans and runs multi-agent work for a scope.
//
// # Overview
//
// A goal is turned into a plan by a Planner: an ordered set of PlanSteps,
// each naming an AgentKind, the kinds it depends on, a priority and the
// tool calls to make after the agent responds. Orchestrate runs the plan
// sequentially:
//
//	sort by priority → check dependencies → enrich context → agent
//	→ tool calls (cached per run) → history
//
// # Dependencies and skips
//
// A step runs only when every dependency already has an execution in the
// same run. Otherwise it is skipped and listed in Result.Skipped with the
// reason; steps that depend on a skipped or failed step are skipped in turn.
// Skips never appear in Result.Errors.
//
// # Context enrichment
//
// Each run starts with the top memory hits for the goal. Every dependency's
// output is appended as a synthetic memory entry, and the list is capped at
// MaxEnrichment entries with the oldest dropped first. Tool results are
// folded into the context seen by later steps.
//
// # Failure handling
//
// Agent errors are collected in Result.Errors and do not stop the run; the
// failing step's tool calls are not made. Tool errors are captured in the
// tool's result entry. Orchestrate never fails because a step failed:
// callers read Result.Success, Result.Errors and Result.Skipped.
//
// # History
//
// Every execution is appended to a ring buffer keyed by scope and agent
// kind, holding the last HistoryCapacity executions.
package orchestrator
