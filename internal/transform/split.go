package transform

// SplitFields splits line into space-delimited fields, honouring a leading
// backslash as an escape character and treating a `"…"` or `[…]` run as a
// single field regardless of embedded spaces. Ported from
// original_source/src/tail2kafka.cc's split().
func SplitFields(line string) []string {
	var fields []string
	var want byte // '"', ']' or 0
	esc := false
	pos := 0

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case esc:
			esc = false
		case c == '\\':
			esc = true
		case want == '"':
			if c == '"' {
				fields = append(fields, line[pos:i])
				want = 0
				pos = i + 1
			}
		case want == ']':
			if c == ']' {
				fields = append(fields, line[pos:i])
				want = 0
				pos = i + 1
			}
		default:
			switch c {
			case '"':
				want = '"'
				pos++
			case '[':
				want = ']'
				pos++
			case ' ':
				if i != pos {
					fields = append(fields, line[pos:i])
				}
				pos = i + 1
			}
		}
	}
	if pos != len(line) {
		fields = append(fields, line[pos:])
	}
	return fields
}

// AbsIndex resolves a 1-based field index, where a negative idx counts from
// the end of the field list (-1 is the last field). It returns -1 if the
// resolved index falls outside [0, total).
func AbsIndex(idx, total int) int {
	var abs int
	if idx > 0 {
		abs = idx - 1
	} else {
		abs = total + idx
	}
	if abs < 0 || abs >= total {
		return -1
	}
	return abs
}
