package tracker

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Per-operation byte budgets for results returned to a caller. Oversized
// results get cut at a line boundary with a continuation hint appended.
var resultLimits = map[string]int{
	"read":    50000,
	"search":  20000,
	"glob":    10000,
	"list":    8000,
	"execute": 30000,
}

const defaultResultLimit = 20000

// ResultLimit reports the byte budget for an operation's rendered result.
func ResultLimit(op string) int {
	if n, ok := resultLimits[op]; ok {
		return n
	}
	return defaultResultLimit
}

// TruncateResult enforces the byte budget for op on a rendered result.
// Truncation happens at the last full line inside the budget so callers
// never see a severed line, and the returned text ends with a hint telling
// the caller how to page through the remainder.
func TruncateResult(op, result string) string {
	limit := ResultLimit(op)
	if len(result) <= limit {
		return result
	}

	cut := result[:limit]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	} else {
		// Single oversized line: back off any multi-byte rune severed by the
		// byte cut.
		for len(cut) > 0 {
			r, size := utf8.DecodeLastRuneInString(cut)
			if r != utf8.RuneError || size > 1 {
				break
			}
			cut = cut[:len(cut)-1]
		}
	}

	kept := strings.Count(cut, "\n") + 1
	total := strings.Count(result, "\n") + 1
	hint := fmt.Sprintf(
		"\n\n... [%d of %d lines shown, %d bytes over the %d byte limit]",
		kept, total, len(result)-limit, limit,
	)
	if op == "read" {
		hint += fmt.Sprintf("\nUse offset=%d to continue reading.", kept)
	}
	return cut + hint
}
