package diff

// SimpleMerge applies d to a plain map without prototypes or listeners.
//
// With reduceDiff, d itself is rewritten to hold only the keys that changed
// result; callers that reuse d across merges must pass false. With persist,
// nulls are ignored instead of deleting.
func SimpleMerge(result, d map[string]any, reduceDiff, persist bool) {
	for key, v := range d {
		switch val := v.(type) {
		case nil:
			if persist && reduceDiff {
				delete(d, key)
			}
			if !persist {
				delete(result, key)
			}
		case map[string]any:
			target, ok := result[key].(map[string]any)
			if !ok {
				target = make(map[string]any)
				result[key] = target
			}
			SimpleMerge(target, val, reduceDiff, false)
			if reduceDiff && len(val) == 0 {
				delete(d, key)
			}
		default:
			if old, ok := result[key]; ok && reduceDiff && Equal(old, val) {
				delete(d, key)
				continue
			}
			result[key] = cloneValue(val)
		}
	}
}

// IsKeyExist reports whether d holds a map at path containing any of keys.
// An empty keys list only checks that the path exists.
func IsKeyExist(d map[string]any, path []string, keys []string) bool {
	cur := d
	for _, p := range path {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return false
		}
		cur = next
	}
	if len(keys) == 0 {
		return true
	}
	for _, k := range keys {
		if _, ok := cur[k]; ok {
			return true
		}
	}
	return false
}

// Lookup returns the map stored at path inside d.
func Lookup(d map[string]any, path ...string) (map[string]any, bool) {
	cur := d
	for _, p := range path {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}
