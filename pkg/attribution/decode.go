// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package attribution

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/luxfi/attribution/pkg/refconfig"
)

// ApplyDecode canonicalizes a grouping key per the platform's decode
// policy. Some exchanges percent-encode publisher domains once, some
// twice; device ids are normalized lowercase with dashes stripped.
// Unknown policies pass the value through unchanged.
func ApplyDecode(policy refconfig.DecodePolicy, value string) (string, error) {
	switch policy {
	case refconfig.DecodeNone, "":
		return value, nil
	case refconfig.DecodeURL:
		out, err := url.QueryUnescape(value)
		if err != nil {
			return "", fmt.Errorf("urldecode %q: %w", value, err)
		}
		return out, nil
	case refconfig.DecodeURLTwice:
		once, err := url.QueryUnescape(value)
		if err != nil {
			return "", fmt.Errorf("urldecode %q: %w", value, err)
		}
		out, err := url.QueryUnescape(once)
		if err != nil {
			return "", fmt.Errorf("urldecode pass 2 %q: %w", value, err)
		}
		return out, nil
	case refconfig.DecodeLowerNoDash:
		return strings.ToLower(strings.ReplaceAll(value, "-", "")), nil
	default:
		return value, nil
	}
}

// NormalizeAdvertiserName strips the numeric id prefix some agencies
// embed in advertiser names ("1480 - Acme Motors" -> "Acme Motors").
func NormalizeAdvertiserName(name string) string {
	idx := strings.Index(name, " - ")
	if idx <= 0 {
		return name
	}
	prefix := name[:idx]
	for _, r := range prefix {
		if !isAlnum(r) {
			return name
		}
	}
	return name[idx+len(" - "):]
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
