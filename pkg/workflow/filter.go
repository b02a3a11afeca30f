package workflow

import (
	"reflect"
	"strings"

	"github.com/dukex/autoflow/pkg/models"
)

// MatchesFilter reports whether every key of filter is present in data with
// an equal value. Keys may address nested maps with dots ("record.id").
// Both sides are normalized to their JSON form, so 1 and 1.0 are equal.
func MatchesFilter(filter, data map[string]any) bool {
	if len(filter) == 0 {
		return true
	}

	expected := models.CopyMap(filter)
	actual := models.CopyMap(data)

	for key, want := range expected {
		got, ok := lookup(actual, key)
		if !ok || !reflect.DeepEqual(want, got) {
			return false
		}
	}

	return true
}

func lookup(data map[string]any, path string) (any, bool) {
	if value, ok := data[path]; ok {
		return value, true
	}

	var current any = data

	for _, part := range strings.Split(path, ".") {
		fields, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = fields[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}
