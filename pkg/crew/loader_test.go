package crew

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const crewYAML = `
name: research-pair
strategy: sequential
aggregation: last
agents:
  - id: researcher
    role: You research the topic.
    budget_share: 0.6
    allowed_tools: ["web_search"]
  - id: writer
    role: You write the summary.
    budget_share: 0.4
    max_retries: 1
`

func TestLoadDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crew.yaml")
	require.NoError(t, os.WriteFile(path, []byte(crewYAML), 0o644))

	def, err := LoadDefinition(path)
	require.NoError(t, err)

	assert.Equal(t, "research-pair", def.Name)
	assert.Equal(t, StrategySequential, def.Strategy)
	assert.Equal(t, AggregationLast, def.Aggregation)
	require.Len(t, def.Agents, 2)
	assert.Equal(t, []string{"web_search"}, def.Agents[0].AllowedTools)
	assert.Equal(t, 1, def.Agents[1].MaxRetries)
}

func TestLoadDefinition_Errors(t *testing.T) {
	_, err := LoadDefinition("")
	assert.Error(t, err)

	_, err = LoadDefinition("/nonexistent/crew.yaml")
	assert.Error(t, err)

	_, err = ParseDefinition([]byte("strategy: [broken"))
	assert.Error(t, err)

	// Decodes but fails validation.
	_, err = ParseDefinition([]byte("name: empty\nstrategy: sequential\nagents: []\n"))
	assert.Error(t, err)
}
