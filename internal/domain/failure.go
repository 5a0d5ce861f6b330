package domain

import "time"

// Status is the remediation lifecycle state of a failure record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusFixing    Status = "fixing"
	StatusResolved  Status = "resolved"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAnalyzing, StatusFixing, StatusResolved, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFailed
}

// ErrorType is the closed classification set for deployment failures.
type ErrorType string

const (
	ErrorTypeTypeScript    ErrorType = "typescript"
	ErrorTypeMissingModule ErrorType = "missing-module"
	ErrorTypeESLint        ErrorType = "eslint"
	ErrorTypeNPMInstall    ErrorType = "npm-install"
	ErrorTypeBuildFailure  ErrorType = "build-failure"
	ErrorTypeMemoryLimit   ErrorType = "memory-limit"
	ErrorTypeUnknown       ErrorType = "unknown"
)

// Source identifies which provider payload shape produced a record.
type Source string

const (
	SourcePlatform      Source = "platform"
	SourceGitHubActions Source = "github-actions"
)

// Retention limits applied to every record.
const (
	MaxBuildLogLines     = 100
	MaxErrorMessages     = 10
	DefaultRetentionTime = 24 * time.Hour
)

// ErrorDetails is the structured extraction mined from build logs.
type ErrorDetails struct {
	Files         []string `json:"files"`
	LineNumbers   []int    `json:"lineNumbers"`
	ErrorMessages []string `json:"errorMessages"`
}

// Resolution describes the outcome of a finished remediation.
type Resolution struct {
	Description string `json:"description"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Success     bool   `json:"success"`
}

// FailureRecord is a single deployment failure tracked through remediation.
type FailureRecord struct {
	ID            string       `json:"id"`
	Timestamp     time.Time    `json:"timestamp"`
	ProjectName   string       `json:"projectName"`
	DeploymentID  string       `json:"deploymentId"`
	DeploymentURL string       `json:"deploymentUrl,omitempty"`
	Source        Source       `json:"source,omitempty"`
	ErrorType     ErrorType    `json:"errorType"`
	ErrorMessage  string       `json:"errorMessage"`
	ErrorDetails  ErrorDetails `json:"errorDetails"`
	BuildLogs     []string     `json:"buildLogs"`
	GitCommit     string       `json:"gitCommit,omitempty"`
	GitBranch     string       `json:"gitBranch,omitempty"`
	Status        Status       `json:"status"`
	Attempts      int          `json:"attempts"`
	LastAttemptAt *time.Time   `json:"lastAttemptAt,omitempty"`
	Resolution    *Resolution  `json:"resolution,omitempty"`
}

// Transition is one recorded status change of a failure record.
type Transition struct {
	ID        string    `json:"id"`
	ErrorID   string    `json:"errorId"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Attempt   int       `json:"attempt"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
