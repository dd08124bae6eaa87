package sqlrest

import (
	"strconv"
	"strings"
)

type spanKind int

const (
	spanString spanKind = iota
	spanQuotedIdent
	spanDollarQuoted
	spanComment
	spanParam
)

// span is a region of SQL text that is not plain code. For spanParam, index
// is the 1-based placeholder number (0 when it does not fit an int).
type span struct {
	kind       spanKind
	start, end int
	index      int
}

// scan finds string literals, quoted identifiers, dollar-quoted bodies,
// comments and $n placeholders. Placeholders inside any of the other spans
// are not reported.
func scan(text string) []span {
	var spans []span
	n := len(text)

	for i := 0; i < n; {
		c := text[i]
		switch {
		case c == '\'':
			start := i
			backslashEscapes := i > 0 && (text[i-1] == 'e' || text[i-1] == 'E') && (i < 2 || !isIdentByte(text[i-2]))
			i++
			for i < n {
				if backslashEscapes && text[i] == '\\' {
					i += 2
					continue
				}
				if text[i] == '\'' {
					if i+1 < n && text[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			spans = append(spans, span{kind: spanString, start: start, end: min(i, n)})

		case c == '"':
			start := i
			i++
			for i < n {
				if text[i] == '"' {
					if i+1 < n && text[i+1] == '"' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			spans = append(spans, span{kind: spanQuotedIdent, start: start, end: min(i, n)})

		case c == '-' && i+1 < n && text[i+1] == '-':
			start := i
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				i = n
			} else {
				i += end
			}
			spans = append(spans, span{kind: spanComment, start: start, end: i})

		case c == '/' && i+1 < n && text[i+1] == '*':
			start := i
			depth := 0
			for i < n {
				if i+1 < n && text[i] == '/' && text[i+1] == '*' {
					depth++
					i += 2
					continue
				}
				if i+1 < n && text[i] == '*' && text[i+1] == '/' {
					depth--
					i += 2
					if depth == 0 {
						break
					}
					continue
				}
				i++
			}
			spans = append(spans, span{kind: spanComment, start: start, end: min(i, n)})

		case c == '$':
			// identifiers may contain '$' (foo$1 is a name, not a placeholder)
			if i > 0 && isIdentByte(text[i-1]) {
				i++
				continue
			}
			if i+1 < n && isDigit(text[i+1]) {
				j := i + 1
				for j < n && isDigit(text[j]) {
					j++
				}
				index, err := strconv.Atoi(text[i+1 : j])
				if err != nil {
					index = 0
				}
				spans = append(spans, span{kind: spanParam, start: i, end: j, index: index})
				i = j
				continue
			}
			if tag, ok := dollarTag(text, i); ok {
				start := i
				body := strings.Index(text[i+len(tag):], tag)
				if body < 0 {
					i = n
				} else {
					i += len(tag) + body + len(tag)
				}
				spans = append(spans, span{kind: spanDollarQuoted, start: start, end: i})
				continue
			}
			i++

		default:
			i++
		}
	}
	return spans
}

// dollarTag returns the opening tag ($$ or $name$) starting at text[i].
func dollarTag(text string, i int) (string, bool) {
	j := i + 1
	if j < len(text) && text[j] == '$' {
		return "$$", true
	}
	if j >= len(text) || !isIdentStart(text[j]) {
		return "", false
	}
	for j < len(text) && isIdentByte(text[j]) && text[j] != '$' {
		j++
	}
	if j < len(text) && text[j] == '$' {
		return text[i : j+1], true
	}
	return "", false
}

// mask returns text with the interior of literals and dollar-quoted bodies
// replaced by '_' and comments replaced by spaces. Byte offsets are preserved,
// so a match found in the masked text can be sliced out of the original.
func mask(text string) string {
	return maskSpans(text, scan(text))
}

func maskSpans(text string, spans []span) string {
	b := []byte(text)
	for _, s := range spans {
		switch s.kind {
		case spanString, spanDollarQuoted:
			for i := s.start + 1; i < s.end-1; i++ {
				b[i] = '_'
			}
		case spanComment:
			for i := s.start; i < s.end; i++ {
				if b[i] != '\n' {
					b[i] = ' '
				}
			}
		}
	}
	return string(b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '$'
}
