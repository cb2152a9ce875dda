// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package utils

import "strings"

// IsEmpty reports whether s is empty or all whitespace.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

// FirstNonEmpty returns the first non-blank string, or "".
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if !IsEmpty(v) {
			return v
		}
	}
	return ""
}
