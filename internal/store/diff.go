package store

import (
	"encoding/json"
	"reflect"
	"sort"

	"github.com/familienverein/meistereder/internal/models"
)

// Flatten serializes a registration and returns it as dotted-path → value.
// Lists are leaf values.
func Flatten(r models.Registration) map[string]any {
	b, err := json.Marshal(r)
	if err != nil {
		return map[string]any{}
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return map[string]any{}
	}
	out := make(map[string]any)
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out map[string]any, prefix string, doc map[string]any) {
	for k, v := range doc {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, path, nested)
			continue
		}
		out[path] = v
	}
}

// Diff lists every dotted path whose value differs between old and new.
func Diff(old, new models.Registration) map[string]models.Change {
	a, b := Flatten(old), Flatten(new)
	out := make(map[string]models.Change)
	for _, path := range unionKeys(a, b) {
		if !sameValue(a[path], b[path]) {
			out[path] = models.Change{Old: a[path], New: b[path]}
		}
	}
	return out
}

func unionKeys(a, b map[string]any) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sameValue treats a missing list and an empty list as equal.
func sameValue(a, b any) bool {
	if isEmptyList(a) && isEmptyList(b) {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func isEmptyList(v any) bool {
	if v == nil {
		return true
	}
	l, ok := v.([]any)
	return ok && len(l) == 0
}
