package dispatch

// matchPattern implements the glob dialect used for pattern subscriptions:
// '*' matches any sequence, '?' any single character, '[...]' a character
// class (with '^' negation and 'a-z' ranges), '\' escapes the next
// character.
func matchPattern(pattern, s string) bool {
	p, n := 0, 0
	for p < len(pattern) {
		switch pattern[p] {
		case '*':
			// collapse consecutive stars
			for p+1 < len(pattern) && pattern[p+1] == '*' {
				p++
			}
			if p == len(pattern)-1 {
				return true
			}
			for i := n; i <= len(s); i++ {
				if matchPattern(pattern[p+1:], s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if n == len(s) {
				return false
			}
			p++
			n++
		case '[':
			if n == len(s) {
				return false
			}
			p++
			negate := p < len(pattern) && pattern[p] == '^'
			if negate {
				p++
			}
			matched := false
			for p < len(pattern) && pattern[p] != ']' {
				if pattern[p] == '\\' && p+1 < len(pattern) {
					p++
					if pattern[p] == s[n] {
						matched = true
					}
				} else if p+2 < len(pattern) && pattern[p+1] == '-' && pattern[p+2] != ']' {
					if pattern[p] <= s[n] && s[n] <= pattern[p+2] {
						matched = true
					}
					p += 2
				} else if pattern[p] == s[n] {
					matched = true
				}
				p++
			}
			if p < len(pattern) {
				p++ // consume ']'
			}
			if matched == negate {
				return false
			}
			n++
		case '\\':
			if p+1 < len(pattern) {
				p++
			}
			fallthrough
		default:
			if n == len(s) || pattern[p] != s[n] {
				return false
			}
			p++
			n++
		}
	}
	return n == len(s)
}
