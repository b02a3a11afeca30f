package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesFilter(t *testing.T) {
	data := map[string]any{
		"contact_id": "c-1",
		"amount":     1500,
		"deal":       map[string]any{"stage": "won", "owner": map[string]any{"id": "u-7"}},
		"tags":       []any{"vip", "renewal"},
		"flat.key":   true,
	}

	tests := []struct {
		name     string
		filter   map[string]any
		expected bool
	}{
		{"empty filter", nil, true},
		{"equal string", map[string]any{"contact_id": "c-1"}, true},
		{"different string", map[string]any{"contact_id": "c-2"}, false},
		{"int matches float", map[string]any{"amount": 1500.0}, true},
		{"nested path", map[string]any{"deal.stage": "won"}, true},
		{"deeply nested path", map[string]any{"deal.owner.id": "u-7"}, true},
		{"nested map value", map[string]any{"deal": map[string]any{"stage": "won", "owner": map[string]any{"id": "u-7"}}}, true},
		{"missing key", map[string]any{"region": "emea"}, false},
		{"path through scalar", map[string]any{"contact_id.value": "c-1"}, false},
		{"list equality", map[string]any{"tags": []any{"vip", "renewal"}}, true},
		{"literal dotted key", map[string]any{"flat.key": true}, true},
		{"all keys must match", map[string]any{"contact_id": "c-1", "deal.stage": "lost"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MatchesFilter(tt.filter, data))
		})
	}
}
