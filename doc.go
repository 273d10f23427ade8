// Package ampere is a budgeted, multi-phase agent runtime: it specifies
// goals, plans tool-mediated steps, statically simulates plans, executes
// them against registered tools, critiques the outcome, and synthesises an
// answer, while enforcing token, cost, energy, tool-call, and wall-clock
// envelopes and recording a structured execution trace. Crews compose agents
// under sequential, parallel, graph, or hierarchical strategies over a
// shared blackboard.
//
// The composition root lives in pkg/runtime; hosts supply LLM providers
// (pkg/llms contract) and tools (pkg/tools), then call ExecuteTask,
// ExecuteTaskStream, ExecuteCrew, or ExecuteCrewStream.
package ampere
