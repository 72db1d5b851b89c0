package main

import (
	"fmt"
	"strings"

	"voxelstore.ai/internal/core"
	"voxelstore.ai/internal/java"
)

// parseBlock reads "ns:name[k=v,...]". The namespace defaults to minecraft.
func parseBlock(s string, dataVersion int64) (core.Block, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.Block{}, fmt.Errorf("empty block")
	}
	name, rest, hasProps := strings.Cut(s, "[")
	var props map[string]string
	if hasProps {
		if !strings.HasSuffix(rest, "]") {
			return core.Block{}, fmt.Errorf("unterminated properties in %q", s)
		}
		props = map[string]string{}
		for _, kv := range strings.Split(strings.TrimSuffix(rest, "]"), ",") {
			if strings.TrimSpace(kv) == "" {
				continue
			}
			k, v, ok := strings.Cut(kv, "=")
			k, v = strings.TrimSpace(k), strings.TrimSpace(v)
			if !ok || k == "" {
				return core.Block{}, fmt.Errorf("bad property %q", kv)
			}
			props[k] = v
		}
	}
	ns, base, ok := strings.Cut(name, ":")
	if !ok {
		ns, base = "minecraft", name
	}
	if ns == "" || base == "" {
		return core.Block{}, fmt.Errorf("bad block name %q", name)
	}
	return core.NewBlock(java.Platform, dataVersion, ns, base, props), nil
}
