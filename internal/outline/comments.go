package outline

// StripComments blanks out // line comments and /* block */ comments,
// replacing every comment byte with a space while keeping line breaks, so
// byte offsets of the remaining text do not move. A backslash escapes the
// following character.
func StripComments(text string) string {
	out := []byte(text)
	const (
		code = iota
		line
		block
	)
	state := code
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch state {
		case code:
			switch {
			case c == '\\':
				i++
			case c == '/' && i+1 < len(out) && out[i+1] == '/':
				state = line
				out[i], out[i+1] = ' ', ' '
				i++
			case c == '/' && i+1 < len(out) && out[i+1] == '*':
				state = block
				out[i], out[i+1] = ' ', ' '
				i++
			}
		case line:
			if c == '\n' {
				state = code
				continue
			}
			if c != '\r' {
				out[i] = ' '
			}
		case block:
			if c == '*' && i+1 < len(out) && out[i+1] == '/' {
				out[i], out[i+1] = ' ', ' '
				i++
				state = code
				continue
			}
			if c != '\n' && c != '\r' {
				out[i] = ' '
			}
		}
	}
	return string(out)
}
