// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package backend

// isValidName checks if a schema, table or field name matches ^[a-z0-9_]+$
func isValidName(name string) bool {
	if len(name) == 0 || len(name) > 63 {
		return false
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
			return false
		}
	}
	return true
}
