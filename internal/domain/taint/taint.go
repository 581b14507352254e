// Package taint tracks input provenance for tool-call requests and detects
// canary honeytokens inside argument payloads.
package taint

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Labels carries the provenance flags attached to a tool-call request.
type Labels struct {
	// FromUser marks requests derived from untrusted end-user input.
	FromUser bool `json:"from_user"`
	// FromRetrieved marks requests derived from content fetched via
	// search_docs/read_doc, i.e. the indirect-injection surface.
	FromRetrieved bool `json:"from_retrieved"`
	// ContainsCanary marks requests whose argument payload carries a known
	// honeytoken. The effective flag is never weaker than this declared value.
	ContainsCanary bool `json:"contains_canary"`
}

// minPartLen is the minimum length of an underscore-separated canary part
// considered meaningful for partial matching. Shorter parts produce too many
// false positives (e.g. "key" inside "canary_detected").
const minPartLen = 4

// Flatten converts an arbitrary payload into a single lowercased,
// space-separated text blob. Scalars stringify directly; map values and slice
// elements are visited recursively. Map values are visited in sorted key order
// so the blob is deterministic.
func Flatten(payload any) string {
	var b strings.Builder
	flattenInto(&b, payload)
	return strings.ToLower(b.String())
}

func flattenInto(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
	case string:
		writeSep(b)
		b.WriteString(x)
	case bool:
		writeSep(b)
		b.WriteString(strconv.FormatBool(x))
	case int:
		writeSep(b)
		b.WriteString(strconv.Itoa(x))
	case int64:
		writeSep(b)
		b.WriteString(strconv.FormatInt(x, 10))
	case float64:
		writeSep(b)
		b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenInto(b, x[k])
		}
	case []any:
		for _, item := range x {
			flattenInto(b, item)
		}
	case []string:
		for _, item := range x {
			writeSep(b)
			b.WriteString(item)
		}
	default:
		writeSep(b)
		fmt.Fprintf(b, "%v", x)
	}
}

func writeSep(b *strings.Builder) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
}

// Detect reports whether any canary token appears in the payload. Three match
// rules apply, in order:
//
//  1. the lowercased token is a substring of the flattened blob;
//  2. the base64 encoding of the token is a lowercased substring;
//  3. the token splits into at least two underscore-separated parts of length
//     >= 4 and every such part appears somewhere in the blob (any order).
//
// The detector is pure: it holds no state and never mutates its inputs.
func Detect(payload any, canaries []string) bool {
	if len(canaries) == 0 {
		return false
	}
	blob := Flatten(payload)
	for _, canary := range canaries {
		if canary == "" {
			continue
		}
		lower := strings.ToLower(canary)
		if strings.Contains(blob, lower) {
			return true
		}

		encoded := base64.StdEncoding.EncodeToString([]byte(canary))
		if strings.Contains(blob, strings.ToLower(encoded)) {
			return true
		}

		if partsMatch(blob, lower) {
			return true
		}
	}
	return false
}

// partsMatch implements the structured-partial rule: all meaningful
// underscore-separated parts of the token present in the blob, any order.
func partsMatch(blob, lowerCanary string) bool {
	var parts []string
	for _, p := range strings.Split(lowerCanary, "_") {
		if len(p) >= minPartLen {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if !strings.Contains(blob, p) {
			return false
		}
	}
	return true
}
