package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/splax/localvercel/intake/internal/domain"
)

var (
	// ErrInvalidJSON reports a body that is not a JSON object.
	ErrInvalidJSON = errors.New("intake: invalid JSON payload")
	// ErrUnrecognizedPayload reports JSON matching neither webhook shape.
	ErrUnrecognizedPayload = errors.New("intake: unrecognized payload shape")
)

var validate = validator.New()

// PayloadError lists fields that failed validation.
type PayloadError struct {
	Fields []string
}

func (e *PayloadError) Error() string {
	return "intake: invalid payload: " + strings.Join(e.Fields, ", ")
}

// Normalized is the source-independent view of a failure notification.
type Normalized struct {
	Source        domain.Source
	ProjectName   string `validate:"required,max=256"`
	DeploymentID  string `validate:"omitempty,max=256"`
	DeploymentURL string `validate:"omitempty,max=2048"`
	// Logs holds the entries as sent. Use Lines for per-line scanning.
	Logs          []string
	ErrorMessage  string
	GitCommit     string `validate:"omitempty,max=128"`
	GitBranch     string `validate:"omitempty,max=256"`
	RunID         string
	Workflow      string
}

const (
	eventDeploymentError  = "deployment.error"
	eventDeploymentFailed = "deployment.failed"
	sourceGitHubActions   = "github-actions"
)

type envelope struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

type platformPayload struct {
	Type    string `json:"type"`
	Payload *struct {
		Project struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"project"`
		Deployment struct {
			ID   string `json:"id"`
			URL  string `json:"url"`
			Name string `json:"name"`
			Meta struct {
				GitHubCommitSHA string `json:"githubCommitSha"`
				GitHubCommitRef string `json:"githubCommitRef"`
			} `json:"meta"`
		} `json:"deployment"`
		Logs  []string `json:"logs"`
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	} `json:"payload"`
}

type ciPayload struct {
	Source        string   `json:"source"`
	ProjectName   string   `json:"projectName"`
	DeploymentID  string   `json:"deploymentId"`
	DeploymentURL string   `json:"deploymentUrl"`
	Logs          []string `json:"logs"`
	ErrorMessage  string   `json:"errorMessage"`
	GitCommit     string   `json:"gitCommit"`
	GitBranch     string   `json:"gitBranch"`
	RunID         string   `json:"runId"`
	Workflow      string   `json:"workflow"`
}

// Normalize decodes a platform deployment event or a CI runner report.
func Normalize(body []byte) (Normalized, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Normalized{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	var (
		n   Normalized
		err error
	)
	switch {
	case env.Type == eventDeploymentError || env.Type == eventDeploymentFailed:
		n, err = normalizePlatform(body)
	case env.Source == sourceGitHubActions:
		n, err = normalizeCI(body)
	default:
		return Normalized{}, ErrUnrecognizedPayload
	}
	if err != nil {
		return Normalized{}, err
	}
	if err := validate.Struct(n); err != nil {
		return Normalized{}, payloadError(err)
	}
	return n, nil
}

func normalizePlatform(body []byte) (Normalized, error) {
	var p platformPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Normalized{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if p.Payload == nil {
		return Normalized{}, &PayloadError{Fields: []string{"payload"}}
	}
	name := strings.TrimSpace(p.Payload.Project.Name)
	if name == "" {
		name = strings.TrimSpace(p.Payload.Deployment.Name)
	}
	return Normalized{
		Source:        domain.SourcePlatform,
		ProjectName:   name,
		DeploymentID:  strings.TrimSpace(p.Payload.Deployment.ID),
		DeploymentURL: strings.TrimSpace(p.Payload.Deployment.URL),
		Logs:          p.Payload.Logs,
		ErrorMessage:  strings.TrimSpace(p.Payload.Error.Message),
		GitCommit:     strings.TrimSpace(p.Payload.Deployment.Meta.GitHubCommitSHA),
		GitBranch:     strings.TrimSpace(p.Payload.Deployment.Meta.GitHubCommitRef),
	}, nil
}

func normalizeCI(body []byte) (Normalized, error) {
	var p ciPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Normalized{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return Normalized{
		Source:        domain.SourceGitHubActions,
		ProjectName:   strings.TrimSpace(p.ProjectName),
		DeploymentID:  strings.TrimSpace(p.DeploymentID),
		DeploymentURL: strings.TrimSpace(p.DeploymentURL),
		Logs:          p.Logs,
		ErrorMessage:  strings.TrimSpace(p.ErrorMessage),
		GitCommit:     strings.TrimSpace(p.GitCommit),
		GitBranch:     strings.TrimSpace(p.GitBranch),
		RunID:         strings.TrimSpace(p.RunID),
		Workflow:      strings.TrimSpace(p.Workflow),
	}, nil
}

// Lines splits multi-line log entries so every element is one non-blank line.
func (n Normalized) Lines() []string {
	out := make([]string, 0, len(n.Logs))
	for _, entry := range n.Logs {
		for _, line := range strings.Split(strings.ReplaceAll(entry, "\r\n", "\n"), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			out = append(out, line)
		}
	}
	return out
}

func payloadError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("intake: validate payload: %w", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fieldName(fe.Field())+" "+fe.Tag())
	}
	return &PayloadError{Fields: fields}
}

func fieldName(field string) string {
	switch field {
	case "ProjectName":
		return "projectName"
	case "DeploymentID":
		return "deploymentId"
	case "DeploymentURL":
		return "deploymentUrl"
	case "GitCommit":
		return "gitCommit"
	case "GitBranch":
		return "gitBranch"
	default:
		return field
	}
}
