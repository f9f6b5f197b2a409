package compflow

import (
	"regexp"
	"strings"
)

// fencePattern matches the first Markdown code fence, with or without an
// info string.
var fencePattern = regexp.MustCompile("(?s)```[^\\n`]*\\n(.*?)```")

// extractCode returns the body of the first fenced block in content, or the
// whole trimmed content when there is none.
func extractCode(content string) string {
	if m := fencePattern.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(content)
}
