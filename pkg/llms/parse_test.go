package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONResponse(t *testing.T) {
	type payload struct {
		Goal string `json:"goal"`
	}

	tests := []struct {
		name     string
		content  string
		wantGoal string
		wantErr  bool
	}{
		{name: "bare object", content: `{"goal":"test"}`, wantGoal: "test"},
		{name: "fenced json", content: "```json\n{\"goal\":\"test\"}\n```", wantGoal: "test"},
		{name: "fenced without language", content: "```\n{\"goal\":\"test\"}\n```", wantGoal: "test"},
		{name: "prose around payload", content: "Here you go:\n{\"goal\":\"test\"}\nDone.", wantGoal: "test"},
		{name: "no payload", content: "I cannot answer that.", wantErr: true},
		{name: "broken payload", content: `{"goal": "test"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			err := ParseJSONResponse(tt.content, &p)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantGoal, p.Goal)
		})
	}
}
