package config

import (
	"fmt"
	"strings"
)

// mergeStrict deep-merges src into dst. Nested maps merge; any other key
// present on both sides is a conflict. Layered documents may only add
// keys, never redefine them.
func mergeStrict(dst, src map[string]any, path []string) error {
	for k, srcVal := range src {
		dstVal, exists := dst[k]
		if !exists {
			dst[k] = srcVal
			continue
		}
		dstMap, dstIsMap := dstVal.(map[string]any)
		srcMap, srcIsMap := srcVal.(map[string]any)
		if dstIsMap && srcIsMap {
			if err := mergeStrict(dstMap, srcMap, append(path, k)); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("duplicate configuration key %q", strings.Join(append(path, k), "."))
	}
	return nil
}

// mergeOverlay deep-merges src over dst. Nested maps merge; for any other
// key src wins.
func mergeOverlay(dst, src map[string]any) {
	for k, srcVal := range src {
		dstMap, dstIsMap := dst[k].(map[string]any)
		srcMap, srcIsMap := srcVal.(map[string]any)
		if dstIsMap && srcIsMap {
			merged := cloneTreeMap(dstMap)
			mergeOverlay(merged, srcMap)
			dst[k] = merged
			continue
		}
		dst[k] = cloneTree(srcVal)
	}
}
