// Package crew composes agents into sequential, parallel, graph, or
// hierarchical topologies over a shared blackboard, with per-agent budget
// shares, tool isolation, retries, aggregation, and streaming events.
package crew

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ampere-run/ampere/pkg/budget"
	"github.com/ampere-run/ampere/pkg/task"
)

// ErrCycleDetected marks an invalid crew graph.
var ErrCycleDetected = errors.New("cycle detected in crew graph")

// ErrValidation marks an invalid crew or agent definition.
var ErrValidation = errors.New("invalid crew definition")

// Tolerance on the budget-share sum check.
const shareEpsilon = 0.001

// ExecutionMode selects how an agent runs.
type ExecutionMode string

const (
	// ModeFull runs the deliberate state-machine executor.
	ModeFull ExecutionMode = "full"
	// ModeDirect runs the tight react loop. Default.
	ModeDirect ExecutionMode = "direct"
)

// Strategy selects the crew topology.
type Strategy string

const (
	StrategySequential   Strategy = "sequential"
	StrategyParallel     Strategy = "parallel"
	StrategyGraph        Strategy = "graph"
	StrategyHierarchical Strategy = "hierarchical"
)

// Aggregation selects how agent outputs combine into the crew output.
type Aggregation string

const (
	AggregationConcat Aggregation = "concat"
	AggregationLast   Aggregation = "last"
)

// AgentDefinition describes one crew member.
type AgentDefinition struct {
	ID            string         `yaml:"id" json:"id"`
	Role          string         `yaml:"role" json:"role"`
	Instructions  string         `yaml:"instructions" json:"instructions"`
	BudgetShare   float64        `yaml:"budget_share" json:"budget_share"`
	AllowedTools  []string       `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`
	OutputSchema  map[string]any `yaml:"output_schema,omitempty" json:"output_schema,omitempty"`
	ExecutionMode ExecutionMode  `yaml:"execution_mode,omitempty" json:"execution_mode,omitempty"`
	MaxIterations int            `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	MaxRetries    int            `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryDelay    time.Duration  `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
}

// Edge is one directed dependency of a graph crew. The optional condition is
// a boolean expression over the source agent's blackboard entry.
type Edge struct {
	From      string `yaml:"from" json:"from"`
	To        string `yaml:"to" json:"to"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// Definition describes a crew.
type Definition struct {
	Name        string            `yaml:"name" json:"name"`
	Strategy    Strategy          `yaml:"strategy" json:"strategy"`
	Agents      []AgentDefinition `yaml:"agents" json:"agents"`
	AgentOrder  []string          `yaml:"agent_order,omitempty" json:"agent_order,omitempty"`
	Graph       []Edge            `yaml:"graph,omitempty" json:"graph,omitempty"`
	Aggregation Aggregation       `yaml:"aggregation,omitempty" json:"aggregation,omitempty"`
}

// Validate checks the crew definition. Invalid crews never execute.
func (d *Definition) Validate() error {
	if len(d.Agents) == 0 {
		return fmt.Errorf("%w: crew needs at least one agent", ErrValidation)
	}

	ids := make(map[string]bool, len(d.Agents))
	shareSum := 0.0
	for _, agent := range d.Agents {
		if agent.ID == "" {
			return fmt.Errorf("%w: agent id cannot be empty", ErrValidation)
		}
		if ids[agent.ID] {
			return fmt.Errorf("%w: duplicate agent id '%s'", ErrValidation, agent.ID)
		}
		ids[agent.ID] = true

		if agent.BudgetShare < 0 || agent.BudgetShare > 1 {
			return fmt.Errorf("%w: agent '%s' budget share must be within [0, 1]", ErrValidation, agent.ID)
		}
		shareSum += agent.BudgetShare
	}
	if shareSum > 1+shareEpsilon {
		return fmt.Errorf("%w: budget shares sum to %.3f, exceeding 1", ErrValidation, shareSum)
	}

	for _, id := range d.AgentOrder {
		if !ids[id] {
			return fmt.Errorf("%w: agent order references unknown agent '%s'", ErrValidation, id)
		}
	}

	switch d.Strategy {
	case StrategySequential, StrategyParallel, StrategyHierarchical:
	case StrategyGraph:
		for _, edge := range d.Graph {
			if !ids[edge.From] {
				return fmt.Errorf("%w: graph edge references unknown agent '%s'", ErrValidation, edge.From)
			}
			if !ids[edge.To] {
				return fmt.Errorf("%w: graph edge references unknown agent '%s'", ErrValidation, edge.To)
			}
		}
		if _, err := topologicalOrder(d); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown strategy '%s'", ErrValidation, d.Strategy)
	}

	switch d.Aggregation {
	case "", AggregationConcat, AggregationLast:
	default:
		return fmt.Errorf("%w: unknown aggregation '%s'", ErrValidation, d.Aggregation)
	}

	return nil
}

// topologicalOrder returns agent IDs in a topological order of the graph,
// using definition order to break ties deterministically.
func topologicalOrder(d *Definition) ([]string, error) {
	position := make(map[string]int, len(d.Agents))
	for i, agent := range d.Agents {
		position[agent.ID] = i
	}

	indegree := make(map[string]int, len(d.Agents))
	successors := make(map[string][]string)
	for _, agent := range d.Agents {
		indegree[agent.ID] = 0
	}
	for _, edge := range d.Graph {
		successors[edge.From] = append(successors[edge.From], edge.To)
		indegree[edge.To]++
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })

	var order []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, next := range successors[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
		sort.Slice(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
	}

	if len(order) != len(d.Agents) {
		return nil, fmt.Errorf("%w: crew '%s'", ErrCycleDetected, d.Name)
	}
	return order, nil
}

// ============================================================================
// BLACKBOARD
// ============================================================================

// BlackboardEntry is one agent's terminal contribution.
type BlackboardEntry struct {
	AgentID   string    `json:"agent_id"`
	Result    string    `json:"result"`
	Status    string    `json:"status"` // "completed" or "failed"
	WrittenAt time.Time `json:"written_at"`
}

// Blackboard is the in-memory shared map of per-agent outputs. Writes happen
// only after an agent terminates; reads see a snapshot.
type Blackboard struct {
	mu      sync.RWMutex
	entries map[string]BlackboardEntry
}

// NewBlackboard creates an empty blackboard.
func NewBlackboard() *Blackboard {
	return &Blackboard{entries: make(map[string]BlackboardEntry)}
}

// Write records an agent's terminal entry.
func (b *Blackboard) Write(entry BlackboardEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry.WrittenAt = time.Now()
	b.entries[entry.AgentID] = entry
}

// Read returns one agent's entry.
func (b *Blackboard) Read(agentID string) (BlackboardEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.entries[agentID]
	return entry, ok
}

// Snapshot returns a copy of every entry.
func (b *Blackboard) Snapshot() map[string]BlackboardEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]BlackboardEntry, len(b.entries))
	for k, v := range b.entries {
		out[k] = v
	}
	return out
}

// Render produces a prompt-ready view of the blackboard, deterministic by
// agent ID.
func (b *Blackboard) Render() string {
	snapshot := b.Snapshot()
	if len(snapshot) == 0 {
		return ""
	}

	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := "Results from other agents:\n"
	for _, id := range ids {
		entry := snapshot[id]
		out += fmt.Sprintf("- %s (%s): %s\n", id, entry.Status, entry.Result)
	}
	return out
}

// ============================================================================
// RESULTS AND EVENTS
// ============================================================================

// AgentResult is one agent's terminal outcome within a crew.
type AgentResult struct {
	AgentID    string       `json:"agent_id"`
	Output     string       `json:"output"`
	Status     task.Status  `json:"status"`
	Error      string       `json:"error,omitempty"`
	Usage      budget.Usage `json:"usage"`
	TaskResult *task.Result `json:"task_result,omitempty"`
}

// Result is the crew's terminal outcome.
type Result struct {
	CrewName     string        `json:"crew_name"`
	Status       task.Status   `json:"status"`
	AgentResults []AgentResult `json:"agent_results"`
	Output       string        `json:"output,omitempty"`
	Error        string        `json:"error,omitempty"`
	Usage        budget.Usage  `json:"usage"`
}

// StreamEventType enumerates crew stream events.
type StreamEventType string

const (
	EventAgentStart    StreamEventType = "agent-start"
	EventAgentComplete StreamEventType = "agent-complete"
	EventCrewComplete  StreamEventType = "crew-complete"
)

// StreamEvent is one element of a crew event stream.
type StreamEvent struct {
	Type        StreamEventType `json:"type"`
	AgentID     string          `json:"agent_id,omitempty"`
	AgentResult *AgentResult    `json:"agent_result,omitempty"`
	CrewResult  *Result         `json:"crew_result,omitempty"`
}
