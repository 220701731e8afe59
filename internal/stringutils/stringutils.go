package stringutils

import "strings"

// IndentString prefixes each non-empty line of str with indent.
func IndentString(str, indent string) string {
	var sb strings.Builder

	for _, line := range strings.SplitAfter(str, "\n") {
		if line != "" && line != "\n" {
			sb.WriteString(indent)
		}
		sb.WriteString(line)
	}

	return sb.String()
}
