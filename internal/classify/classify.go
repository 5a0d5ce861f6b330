// Package classify maps raw deployment logs onto the closed error taxonomy
// and mines line-local details out of them. Everything here is pure.
package classify

import (
	"strings"

	"github.com/splax/localvercel/intake/internal/domain"
)

type rule struct {
	errorType domain.ErrorType
	markers   []string
}

// rules are evaluated in order and the first hit wins. Specific failure modes
// come before the generic build marker so a type error inside a failed build
// reports as typescript.
var rules = []rule{
	{domain.ErrorTypeTypeScript, []string{"type error", "error ts", "typescript error"}},
	{domain.ErrorTypeMissingModule, []string{"module not found", "cannot find module", "can't resolve"}},
	{domain.ErrorTypeESLint, []string{"eslint", "lint error"}},
	{domain.ErrorTypeNPMInstall, []string{"npm err!", "npm error", "err_pnpm_"}},
	{domain.ErrorTypeBuildFailure, []string{"build failed", " exited with "}},
	{domain.ErrorTypeMemoryLimit, []string{"heap out of memory", "out of memory", "enomem", "oomkilled"}},
}

// Classify scans the logs and raw provider error for known markers.
func Classify(logs []string, rawError string) domain.ErrorType {
	text := strings.ToLower(strings.Join(logs, "\n") + "\n" + rawError)
	for _, r := range rules {
		for _, marker := range r.markers {
			if strings.Contains(text, marker) {
				return r.errorType
			}
		}
	}
	return domain.ErrorTypeUnknown
}

var defaultMessages = map[domain.ErrorType]string{
	domain.ErrorTypeTypeScript:    "TypeScript compilation failed",
	domain.ErrorTypeMissingModule: "Module resolution failed",
	domain.ErrorTypeESLint:        "Lint check failed",
	domain.ErrorTypeNPMInstall:    "Dependency installation failed",
	domain.ErrorTypeBuildFailure:  "Build failed",
	domain.ErrorTypeMemoryLimit:   "Build ran out of memory",
}

// Summarize picks the short human-readable message stored on a record.
func Summarize(errorType domain.ErrorType, details domain.ErrorDetails, rawError string) string {
	if msg := strings.TrimSpace(rawError); msg != "" {
		return msg
	}
	if len(details.ErrorMessages) > 0 {
		return details.ErrorMessages[0]
	}
	if msg, ok := defaultMessages[errorType]; ok {
		return msg
	}
	return "Deployment failed"
}
