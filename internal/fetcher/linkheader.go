package fetcher

import (
	"fmt"
	"regexp"
	"strings"
)

var relRe = regexp.MustCompile(`^\s*rel="(\w+)"\s*$`)

// ParseLinkHeader parses the value of a HTTP Link header as sent by the GitHub
// API and returns a map of relation type to URL.
// Example value:
//
//	<https://api.github.com/repositories/1/pulls?page=2>; rel="next", <https://api.github.com/repositories/1/pulls?page=5>; rel="last"
//
// An empty string results in an empty map.
func ParseLinkHeader(hdr string) (map[string]string, error) {
	result := map[string]string{}
	remaining := strings.TrimSpace(hdr)

	for remaining != "" {
		sepIdx := strings.Index(remaining, ";")
		if sepIdx == -1 {
			return nil, fmt.Errorf("link entry %q has no ';' separator", remaining)
		}

		target := strings.TrimSpace(remaining[:sepIdx])
		if len(target) < 2 || target[0] != '<' || target[len(target)-1] != '>' {
			return nil, fmt.Errorf("link target %q is not enclosed in <>", target)
		}

		remaining = remaining[sepIdx+1:]

		var param string
		if endIdx := strings.Index(remaining, ","); endIdx == -1 {
			param = remaining
			remaining = ""
		} else {
			param = remaining[:endIdx]
			remaining = strings.TrimSpace(remaining[endIdx+1:])
		}

		matches := relRe.FindStringSubmatch(param)
		if len(matches) != 2 {
			return nil, fmt.Errorf("link parameter %q is not a rel=\"<word>\" parameter", param)
		}

		result[matches[1]] = target[1 : len(target)-1]
	}

	return result, nil
}
