package testrunner

import (
	"regexp"
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/simplesurance/nextmerge/internal/runrecord"
)

const (
	passMarker = "[OK]"
	failMarker = "[FAIL]"
)

var (
	// failCountRe matches the fixed-width bracketed failure count that the
	// test runner prints instead of [FAIL] for some test kinds.
	failCountRe = regexp.MustCompile(`     \[\d*\]`)
	xpassedRe   = regexp.MustCompile(`\s+_+\s+xpassed tests\s+_+\s+((?:[^\n]+\n)+)\n`)
)

// Classify extracts test results and unexpected passes from a test log.
// The name of a test is the first word of its result line.
func Classify(log string) (results []runrecord.TestResult, unexpectedPasses []string) {
	log = stripansi.Strip(log)

	for _, line := range strings.Split(log, "\n") {
		var passed bool

		switch {
		case strings.Contains(line, passMarker):
			passed = true
		case strings.Contains(line, failMarker), failCountRe.MatchString(line):
			passed = false
		default:
			continue
		}

		name, _, _ := strings.Cut(line, "[")
		fields := strings.Fields(name)
		if len(fields) == 0 {
			continue
		}

		results = append(results, runrecord.TestResult{
			Name:   fields[0],
			Passed: passed,
		})
	}

	if m := xpassedRe.FindStringSubmatch(log); m != nil {
		for _, line := range strings.Split(m[1], "\n") {
			if line = strings.TrimSpace(line); line != "" {
				unexpectedPasses = append(unexpectedPasses, line)
			}
		}
	}

	return results, unexpectedPasses
}
