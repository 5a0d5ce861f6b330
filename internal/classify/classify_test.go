package classify

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/localvercel/intake/internal/domain"
)

func TestClassifyPriority(t *testing.T) {
	cases := []struct {
		name string
		logs []string
		raw  string
		want domain.ErrorType
	}{
		{
			name: "typescript beats build failure",
			logs: []string{"Build failed", "./app/page.tsx:4:7", "Type error: Property 'x' does not exist"},
			want: domain.ErrorTypeTypeScript,
		},
		{
			name: "missing module",
			logs: []string{"Module not found: Can't resolve 'lodash'", "Build failed"},
			want: domain.ErrorTypeMissingModule,
		},
		{
			name: "eslint",
			logs: []string{"Failed to compile.", "ESLint: 'x' is defined but never used"},
			want: domain.ErrorTypeESLint,
		},
		{
			name: "npm install",
			logs: []string{"Running \"npm install\"", "npm ERR! code ERESOLVE"},
			want: domain.ErrorTypeNPMInstall,
		},
		{
			name: "plain npm install line is not a failure marker",
			logs: []string{"Running \"npm install\"", "added 300 packages"},
			want: domain.ErrorTypeUnknown,
		},
		{
			name: "generic build failure",
			logs: []string{"Error: Command \"npm run build\" exited with 1"},
			want: domain.ErrorTypeBuildFailure,
		},
		{
			name: "memory limit",
			logs: []string{"FATAL ERROR: Reached heap limit Allocation failed - JavaScript heap out of memory"},
			want: domain.ErrorTypeMemoryLimit,
		},
		{
			name: "raw error message participates",
			logs: nil,
			raw:  "Cannot find module 'next'",
			want: domain.ErrorTypeMissingModule,
		},
		{
			name: "no marker",
			logs: []string{"Cloning repository", "Done"},
			want: domain.ErrorTypeUnknown,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.logs, tc.raw))
		})
	}
}

func TestExtractDetails(t *testing.T) {
	logs := []string{
		"./src/app/page.tsx:12:5",
		"Type error: Type 'string' is not assignable to type 'number'.",
		"  at src/lib/util.ts:40:2",
		"./src/app/page.tsx:3:1",
		"warning: unused import in components/Button.jsx",
		"ERROR: failed to load next.config.js",
	}

	details := ExtractDetails(logs)
	assert.Equal(t, []string{"./src/app/page.tsx", "src/lib/util.ts", "components/Button.jsx", "next.config.js"}, details.Files)
	assert.Equal(t, []int{3, 12, 40}, details.LineNumbers)
	assert.Equal(t, []string{
		"Type error: Type 'string' is not assignable to type 'number'.",
		"ERROR: failed to load next.config.js",
	}, details.ErrorMessages)
}

func TestExtractDetailsIsDeterministic(t *testing.T) {
	logs := []string{"a.ts:9:1 error: x", "b.ts:2:2 error: y", "a.ts:9:1 error: x"}
	first := ExtractDetails(logs)
	second := ExtractDetails(logs)
	require.Equal(t, first, second)

	for i := 1; i < len(first.LineNumbers); i++ {
		require.Less(t, first.LineNumbers[i-1], first.LineNumbers[i])
	}
	require.Equal(t, []string{"a.ts", "b.ts"}, first.Files)
}

func TestExtractDetailsCapsMessages(t *testing.T) {
	logs := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		logs = append(logs, fmt.Sprintf("Error: failure %d", i))
	}
	details := ExtractDetails(logs)
	require.Len(t, details.ErrorMessages, domain.MaxErrorMessages)
	assert.Equal(t, "Error: failure 0", details.ErrorMessages[0])
	assert.Equal(t, "Error: failure 9", details.ErrorMessages[9])
}

func TestExtractDetailsEmpty(t *testing.T) {
	details := ExtractDetails(nil)
	assert.NotNil(t, details.Files)
	assert.NotNil(t, details.LineNumbers)
	assert.NotNil(t, details.ErrorMessages)
	assert.Empty(t, details.Files)
}

func TestTailLogs(t *testing.T) {
	logs := make([]string, 150)
	for i := range logs {
		logs[i] = fmt.Sprintf("line %d", i)
	}
	tail := TailLogs(logs, domain.MaxBuildLogLines)
	require.Len(t, tail, 100)
	assert.Equal(t, "line 50", tail[0])
	assert.Equal(t, "line 149", tail[99])

	short := TailLogs([]string{"a"}, 100)
	assert.Equal(t, []string{"a"}, short)
	assert.Empty(t, TailLogs(logs, 0))
}

func TestSummarize(t *testing.T) {
	details := domain.ErrorDetails{ErrorMessages: []string{"Error: first"}}
	assert.Equal(t, "raw", Summarize(domain.ErrorTypeUnknown, details, "  raw "))
	assert.Equal(t, "Error: first", Summarize(domain.ErrorTypeUnknown, details, ""))
	assert.Equal(t, "Build ran out of memory", Summarize(domain.ErrorTypeMemoryLimit, domain.ErrorDetails{}, ""))
	assert.Equal(t, "Deployment failed", Summarize(domain.ErrorTypeUnknown, domain.ErrorDetails{}, ""))
}
