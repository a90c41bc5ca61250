// Package glob implements the shell-style pattern matching used by KEYS and PSUBSCRIBE.
//
// Supported syntax:
//
//	*       any run of bytes, including the empty one
//	?       exactly one byte
//	[abc]   one byte from the class; [^abc] or [!abc] negates, [a-z] is a range
//	\x      the literal byte x
//
// Matching is byte-wise and case-sensitive. Unlike path.Match, '/' has no special meaning.
package glob

import "errors"

// ErrBadPattern is returned by Validate when the pattern is malformed
var ErrBadPattern = errors.New("syntax error in glob pattern")

// Validate reports whether the pattern is well-formed: every class is closed and
// the pattern does not end with a lone escape
func Validate(pattern string) error {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			if i+1 >= len(pattern) {
				return ErrBadPattern
			}
			i++
		case '[':
			end, ok := classEnd(pattern, i+1)
			if !ok {
				return ErrBadPattern
			}
			i = end
		}
	}
	return nil
}

// classEnd returns the index of the ']' closing the class whose body starts at i
func classEnd(pattern string, i int) (int, bool) {
	if i < len(pattern) && (pattern[i] == '^' || pattern[i] == '!') {
		i++
	}
	// a ']' right after the opening bracket is a literal member
	if i < len(pattern) && pattern[i] == ']' {
		i++
	}
	for i < len(pattern) {
		switch pattern[i] {
		case '\\':
			i += 2
			continue
		case ']':
			return i, true
		}
		i++
	}
	return 0, false
}

// Match reports whether s matches pattern. A malformed pattern never matches
// past the malformed part; call Validate first to reject it explicitly
func Match(pattern, s string) bool {
	var p, n int
	// backtracking point for the most recent '*'
	starP, starN := -1, -1

	for n < len(s) {
		if p < len(pattern) {
			switch pattern[p] {
			case '*':
				// collapse consecutive stars
				for p < len(pattern) && pattern[p] == '*' {
					p++
				}
				if p == len(pattern) {
					return true
				}
				starP, starN = p, n
				continue
			case '?':
				p++
				n++
				continue
			case '[':
				end, ok := classEnd(pattern, p+1)
				if ok && matchClass(pattern[p+1:end], s[n]) {
					p = end + 1
					n++
					continue
				}
			case '\\':
				if p+1 < len(pattern) && pattern[p+1] == s[n] {
					p += 2
					n++
					continue
				}
			default:
				if pattern[p] == s[n] {
					p++
					n++
					continue
				}
			}
		}

		if starP < 0 {
			return false
		}
		// let the last star swallow one more byte and retry
		starN++
		p, n = starP, starN
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchClass matches c against a class body (the bytes between '[' and ']')
func matchClass(class string, c byte) bool {
	negate := false
	if len(class) > 0 && (class[0] == '^' || class[0] == '!') {
		negate = true
		class = class[1:]
	}

	matched := false
	for i := 0; i < len(class); i++ {
		lo := class[i]
		if lo == '\\' && i+1 < len(class) {
			i++
			lo = class[i]
		}

		if i+2 < len(class) && class[i+1] == '-' {
			hi := class[i+2]
			if hi == '\\' && i+3 < len(class) {
				hi = class[i+3]
				i++
			}
			i += 2
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			continue
		}

		if lo == c {
			matched = true
		}
	}

	return matched != negate
}
