package autofix

// stripJSONComments removes // line comments and /* */ block comments that
// appear outside string literals. Newlines ending line comments are kept so
// line numbers in later parse errors still match the upload.
func stripJSONComments(b []byte) ([]byte, int) {
	out := make([]byte, 0, len(b))
	removed := 0
	inString := false
	for i := 0; i < len(b); i++ {
		c := b[i]
		if inString {
			out = append(out, c)
			switch c {
			case '\\':
				if i+1 < len(b) {
					i++
					out = append(out, b[i])
				}
			case '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		if c == '/' && i+1 < len(b) {
			switch b[i+1] {
			case '/':
				removed++
				i += 2
				for i < len(b) && b[i] != '\n' {
					i++
				}
				if i < len(b) {
					out = append(out, '\n')
				}
				continue
			case '*':
				removed++
				i += 2
				for i+1 < len(b) && !(b[i] == '*' && b[i+1] == '/') {
					if b[i] == '\n' {
						out = append(out, '\n')
					}
					i++
				}
				i++ // land on the closing '/'
				continue
			}
		}
		out = append(out, c)
	}
	if removed == 0 {
		return b, 0
	}
	return out, removed
}

// stripTrailingCommas removes commas that are followed only by whitespace
// before a closing bracket or brace.
func stripTrailingCommas(b []byte) ([]byte, int) {
	out := make([]byte, 0, len(b))
	removed := 0
	inString := false
	for i := 0; i < len(b); i++ {
		c := b[i]
		if inString {
			out = append(out, c)
			switch c {
			case '\\':
				if i+1 < len(b) {
					i++
					out = append(out, b[i])
				}
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case ',':
			j := i + 1
			for j < len(b) && isSpace(b[j]) {
				j++
			}
			if j < len(b) && (b[j] == '}' || b[j] == ']') {
				removed++
				continue
			}
		}
		out = append(out, c)
	}
	if removed == 0 {
		return b, 0
	}
	return out, removed
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
