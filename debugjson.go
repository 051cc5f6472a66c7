// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	jsonv2 "github.com/go-json-experiment/json"

	"treewalk.zombiezen.dev/lua/internal/value"
)

// DebugJSON renders a Value graph as JSON, for test fixtures and the
// CLI's debug dump output. Tables become objects keyed by the display
// form of their keys; cyclic references are broken with a "$cycle"
// marker carrying the table's identity.
func DebugJSON(v Value) ([]byte, error) {
	return jsonv2.Marshal(debugTree(v, make(map[uint64]bool)))
}

func debugTree(v Value, seen map[uint64]bool) any {
	switch v := v.(type) {
	case nil:
		return nil
	case value.Boolean:
		return bool(v)
	case value.Integer:
		return int64(v)
	case value.Float:
		return float64(v)
	case value.String:
		return string(v)
	case *value.Table:
		if seen[v.ID()] {
			return map[string]any{"$cycle": v.ID()}
		}
		seen[v.ID()] = true
		m := make(map[string]any)
		for k, val, _ := v.Next(nil); k != nil; k, val, _ = v.Next(k) {
			m[value.ToString(k)] = debugTree(val, seen)
		}
		delete(seen, v.ID())
		return m
	default:
		return value.ToString(v)
	}
}
