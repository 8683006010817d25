package config

// Merge returns a new map holding dst overlaid with src.
// When both sides hold a map for the same key the two are merged recursively,
// any other src value (lists and nil included) replaces the dst value.
// Neither argument is modified.
func Merge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}

	for k, v := range src {
		srcMap, ok := v.(map[string]any)
		if ok {
			if dstMap, ok := out[k].(map[string]any); ok {
				out[k] = Merge(dstMap, srcMap)
				continue
			}
			// Copy so later merges into out never reach back into src
			out[k] = Merge(nil, srcMap)
			continue
		}
		out[k] = v
	}

	return out
}
