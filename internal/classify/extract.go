package classify

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/splax/localvercel/intake/internal/domain"
)

var (
	filePattern = regexp.MustCompile(`[\w@./-]*[\w@-]\.(?:tsx|ts|jsx|js|mjs|cjs|vue|svelte|scss|css|json)\b`)
	linePattern = regexp.MustCompile(`:(\d+):`)
)

// ExtractDetails scans each line on its own for file paths, line markers and
// error lines. Context spanning several lines, such as stack traces, is not
// reconstructed.
func ExtractDetails(logs []string) domain.ErrorDetails {
	details := domain.ErrorDetails{
		Files:         []string{},
		LineNumbers:   []int{},
		ErrorMessages: []string{},
	}
	seenFiles := make(map[string]struct{})
	seenLines := make(map[int]struct{})

	for _, line := range logs {
		for _, file := range filePattern.FindAllString(line, -1) {
			if _, ok := seenFiles[file]; ok {
				continue
			}
			seenFiles[file] = struct{}{}
			details.Files = append(details.Files, file)
		}
		for _, match := range linePattern.FindAllStringSubmatch(line, -1) {
			n, err := strconv.Atoi(match[1])
			if err != nil {
				continue
			}
			if _, ok := seenLines[n]; ok {
				continue
			}
			seenLines[n] = struct{}{}
			details.LineNumbers = append(details.LineNumbers, n)
		}
		if len(details.ErrorMessages) < domain.MaxErrorMessages && strings.Contains(strings.ToLower(line), "error:") {
			details.ErrorMessages = append(details.ErrorMessages, strings.TrimSpace(line))
		}
	}
	sort.Ints(details.LineNumbers)
	return details
}

// TailLogs keeps the last n lines. Earlier lines are dropped.
func TailLogs(logs []string, n int) []string {
	if n <= 0 {
		return []string{}
	}
	if len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	out := make([]string, len(logs))
	copy(out, logs)
	return out
}
