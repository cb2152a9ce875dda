// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package sip_infra

import (
	"strings"
)

// CanonicalizeNumber prepares a dialed number for the trunk. The leading
// "+" always goes; the country-code prefix goes only when the remainder is
// still a full national number (>= 10 digits), so short codes and numbers
// that merely start with the same digits survive.
func CanonicalizeNumber(number, countryCodePrefix string) string {
	number = strings.TrimSpace(number)
	number = strings.TrimPrefix(number, "+")

	if countryCodePrefix != "" && strings.HasPrefix(number, countryCodePrefix) {
		remainder := number[len(countryCodePrefix):]
		if len(remainder) >= 10 {
			return remainder
		}
	}
	return number
}
