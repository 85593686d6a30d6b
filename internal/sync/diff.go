package sync

import (
	"sort"

	"github.com/schaermu/helpsync/internal/model"
)

// changedFields lists the keys of want whose value differs from have. Values
// are compared exactly, without any text normalization.
func changedFields(want, have model.Fields) []string {
	var out []string
	for _, k := range sortedKeys(want) {
		if want[k] != have[k] {
			out = append(out, k)
		}
	}
	return out
}

func sortedKeys(m model.Fields) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
