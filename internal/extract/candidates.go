package extract

import "sort"

// span is a half-open byte range within a section.
type span struct {
	start, end int
}

// balancedSpans returns the outermost regions of text that open with open and
// close at the matching close byte. Only that one bracket kind is tracked, so
// a stray square bracket in near-JSON does not hide an object. Brackets inside
// double quoted strings are ignored and unterminated openers are dropped.
// The scan is a single pass with an explicit stack.
func balancedSpans(text string, open, close byte) []span {
	var (
		stack    []int
		pairs    []span
		inString bool
		escaped  bool
	)

	for idx := 0; idx < len(text); idx++ {
		ch := text[idx]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"', ch == '\n':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case open:
			stack = append(stack, idx)
		case close:
			if len(stack) == 0 {
				continue
			}
			start := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			pairs = append(pairs, span{start: start, end: idx + 1})
		}
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].start < pairs[j].start })

	outer := make([]span, 0, len(pairs))
	limit := -1
	for _, pair := range pairs {
		if pair.start < limit {
			continue
		}
		outer = append(outer, pair)
		limit = pair.end
	}
	return outer
}

// within reports whether s lies inside any of the outer spans.
func within(s span, outer []span) bool {
	for _, o := range outer {
		if o.start <= s.start && s.end <= o.end {
			return true
		}
	}
	return false
}

// maskSpans blanks the given regions while keeping line structure intact.
func maskSpans(text string, spans []span) string {
	if len(spans) == 0 {
		return text
	}
	buf := []byte(text)
	for _, s := range spans {
		for idx := s.start; idx < s.end; idx++ {
			if buf[idx] != '\n' {
				buf[idx] = ' '
			}
		}
	}
	return string(buf)
}
