// Package overlap implements the Overlap Matcher (C9): reconciling the
// tail of content already emitted before a retry with the head of the
// continuation the model produces afterward, so a retry never duplicates
// or drops text at the seam.
package overlap

import "strings"

// Options configures a Match call.
type Options struct {
	// MinOverlap is the shortest suffix/prefix match considered
	// significant; shorter accidental matches are ignored.
	MinOverlap int

	// MaxOverlap bounds how far back into prior and how far into the
	// continuation the scan looks, keeping it O(MaxOverlap) rather than
	// O(len(content)).
	MaxOverlap int

	// CaseFold makes the comparison case-insensitive.
	CaseFold bool

	// NormalizeWhitespace collapses runs of whitespace to a single
	// space before comparing, so a retried continuation that differs
	// only in spacing still lines up.
	NormalizeWhitespace bool
}

// DefaultOptions returns conservative matcher thresholds.
func DefaultOptions() Options {
	return Options{
		MinOverlap: 2,
		MaxOverlap: 500,
	}
}

// Result describes how prior and continuation were reconciled.
type Result struct {
	// OverlapLength is the number of characters of prior's suffix found
	// to match continuation's prefix, measured in the normalized text.
	OverlapLength int

	// Merged is prior with continuation appended, the detected overlap
	// sliced out of continuation so it contributes no duplication.
	Merged string

	// Matched reports whether any overlap at or above MinOverlap was found.
	Matched bool
}

// Match finds the longest suffix of prior that is also a prefix of
// continuation, within opts.MaxOverlap characters of the seam, and
// returns the reconciled merge. When no qualifying overlap is found,
// Merged is the simple concatenation of prior and continuation.
func Match(prior, continuation string, opts Options) Result {
	if opts.MinOverlap <= 0 {
		opts = DefaultOptions()
	}

	priorTail := lastN(prior, opts.MaxOverlap)
	contHead := firstN(continuation, opts.MaxOverlap)

	a := priorTail
	b := contHead
	var rawLenForNormalized []int
	if opts.NormalizeWhitespace {
		a = collapseWhitespace(a)
		b, rawLenForNormalized = collapseWhitespaceMapped(contHead)
	}
	if opts.CaseFold {
		a = strings.ToLower(a)
		b = strings.ToLower(b)
	}

	overlapLen := longestSuffixPrefixOverlap(a, b, opts.MinOverlap)
	if overlapLen == 0 {
		return Result{Merged: prior + continuation}
	}

	// overlapLen was measured on the (possibly normalized) comparison
	// strings; map it back to the raw continuation's rune count so the
	// slice we drop matches what was actually compared.
	contRunes := []rune(continuation)
	dropRunes := overlapLen
	if rawLenForNormalized != nil {
		dropRunes = rawLenForNormalized[overlapLen]
	}
	if dropRunes > len(contRunes) {
		dropRunes = len(contRunes)
	}

	return Result{
		OverlapLength: overlapLen,
		Matched:       true,
		Merged:        prior + string(contRunes[dropRunes:]),
	}
}

// longestSuffixPrefixOverlap returns the length (in runes) of the longest
// suffix of a that is also a prefix of b, no shorter than minOverlap.
func longestSuffixPrefixOverlap(a, b string, minOverlap int) int {
	ar := []rune(a)
	br := []rune(b)

	maxLen := len(ar)
	if len(br) < maxLen {
		maxLen = len(br)
	}

	for length := maxLen; length >= minOverlap; length-- {
		if string(ar[len(ar)-length:]) == string(br[:length]) {
			return length
		}
	}
	return 0
}

var whitespaceRun = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

func collapseWhitespace(s string) string {
	s = whitespaceRun.Replace(s)
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return s
}

// collapseWhitespaceMapped is collapseWhitespace plus a parallel index:
// rawLen[i] is how many runes of s were consumed to produce the first i
// runes of the normalized output, so a length measured on the normalized
// string can be mapped back to a slice point in the raw one.
func collapseWhitespaceMapped(s string) (string, []int) {
	raw := []rune(s)
	out := make([]rune, 0, len(raw))
	rawLen := make([]int, 1, len(raw)+1)

	prevWasSpace := false
	for _, r := range raw {
		c := r
		if c == '\t' || c == '\n' || c == '\r' {
			c = ' '
		}
		if c == ' ' {
			if prevWasSpace {
				rawLen[len(rawLen)-1]++
				continue
			}
			prevWasSpace = true
		} else {
			prevWasSpace = false
		}
		out = append(out, c)
		rawLen = append(rawLen, rawLen[len(rawLen)-1]+1)
	}

	return string(out), rawLen
}

func lastN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func firstN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
