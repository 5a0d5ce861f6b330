package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/splax/localvercel/intake/internal/service/webhook"
	apiclient "github.com/splax/localvercel/intake/pkg/api/client"
	"github.com/splax/localvercel/intake/pkg/config"
	"github.com/splax/localvercel/intake/pkg/jwt"
)

const requestTimeout = 15 * time.Second

var buildVersion = "dev"

type cliConfig struct {
	BaseURL       string
	Token         string
	JWTSecret     string
	WebhookSecret string
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	_ = config.LoadDotEnv(".env")
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "list":
		err = commandList(args)
	case "show":
		err = commandShow(args)
	case "claim":
		err = commandClaim(args)
	case "transition":
		err = commandTransition(args)
	case "send":
		err = commandSend(args)
	case "token":
		err = commandToken(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() cliConfig {
	token := config.GetString("INTAKE_TOKEN", "")
	if token == "" {
		token = config.GetString("INTERNAL_API_TOKEN", "")
	}
	return cliConfig{
		BaseURL:       config.GetString("INTAKE_URL", "http://localhost:4100"),
		Token:         token,
		JWTSecret:     config.GetString("INTERNAL_JWT_SECRET", ""),
		WebhookSecret: config.GetString("DEPLOYMENT_WEBHOOK_SECRET", ""),
	}
}

// bearer returns the configured static token, or mints a short-lived service
// JWT when only the signing secret is available.
func (c cliConfig) bearer() (string, error) {
	if strings.TrimSpace(c.Token) != "" {
		return c.Token, nil
	}
	if strings.TrimSpace(c.JWTSecret) != "" {
		return jwt.GenerateToken("intakectl", "failures:operate", c.JWTSecret, 5*time.Minute)
	}
	return "", errors.New("set INTAKE_TOKEN, INTERNAL_API_TOKEN or INTERNAL_JWT_SECRET")
}

func newClient(cfg cliConfig) (*apiclient.Client, string, error) {
	token, err := cfg.bearer()
	if err != nil {
		return nil, "", err
	}
	client, err := apiclient.New(cfg.BaseURL)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func commandList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "pending", "Status filter (pending|analyzing|fixing|resolved|failed)")
	limit := fs.Int("limit", 0, "Maximum number of records")
	fs.Parse(args)

	client, token, err := newClient(loadConfig())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp, err := client.ListFailures(ctx, token, *status, *limit)
	if err != nil {
		return err
	}
	for _, f := range resp.Errors {
		fmt.Printf("%s\t%s\t%s\t%s\t%d\t%s\n", f.ID, f.ProjectName, f.ErrorType, f.Status, f.Attempts, f.Timestamp.Format(time.RFC3339))
	}
	return nil
}

func commandShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	id := fs.String("id", "", "Failure record identifier")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}

	client, token, err := newClient(loadConfig())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	detail, err := client.GetFailure(ctx, token, *id)
	if err != nil {
		return err
	}
	f := detail.Failure
	fmt.Printf("id:         %s\n", f.ID)
	fmt.Printf("project:    %s\n", f.ProjectName)
	fmt.Printf("deployment: %s %s\n", f.DeploymentID, f.DeploymentURL)
	fmt.Printf("type:       %s\n", f.ErrorType)
	fmt.Printf("message:    %s\n", f.ErrorMessage)
	fmt.Printf("status:     %s (attempts %d)\n", f.Status, f.Attempts)
	if len(f.ErrorDetails.Files) > 0 {
		fmt.Printf("files:      %s\n", strings.Join(f.ErrorDetails.Files, ", "))
	}
	if f.Resolution != nil {
		fmt.Printf("resolution: %s success=%t commit=%s\n", f.Resolution.Description, f.Resolution.Success, f.Resolution.CommitSHA)
	}
	for _, h := range detail.History {
		fmt.Printf("  %s\t%s -> %s\tattempt=%d\t%s\n", h.CreatedAt.Format(time.RFC3339), h.From, h.To, h.Attempt, h.Note)
	}
	return nil
}

func commandClaim(args []string) error {
	fs := flag.NewFlagSet("claim", flag.ExitOnError)
	id := fs.String("id", "", "Failure record identifier")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}

	client, token, err := newClient(loadConfig())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	rec, err := client.Claim(ctx, token, *id)
	if err != nil {
		return err
	}
	fmt.Printf("claimed %s (attempt %d)\n", rec.ID, rec.Attempts)
	return nil
}

func commandTransition(args []string) error {
	fs := flag.NewFlagSet("transition", flag.ExitOnError)
	id := fs.String("id", "", "Failure record identifier")
	status := fs.String("status", "", "Target status")
	note := fs.String("note", "", "Optional note stored in history")
	description := fs.String("description", "", "Resolution description (resolved|failed)")
	commit := fs.String("commit", "", "Resolution commit SHA")
	success := fs.Bool("success", false, "Resolution succeeded")
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	if strings.TrimSpace(*status) == "" {
		return errors.New("--status is required")
	}

	input := apiclient.TransitionInput{Status: *status, Note: *note}
	if *description != "" || *commit != "" || *success {
		input.Resolution = &apiclient.Resolution{
			Description: *description,
			CommitSHA:   *commit,
			Success:     *success,
		}
	}

	client, token, err := newClient(loadConfig())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	rec, err := client.Transition(ctx, token, *id, input)
	if err != nil {
		return err
	}
	fmt.Printf("%s is now %s\n", rec.ID, rec.Status)
	return nil
}

func commandSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	file := fs.String("file", "-", "Webhook payload file (- for stdin)")
	secret := fs.String("secret", "", "Signing secret (defaults to DEPLOYMENT_WEBHOOK_SECRET)")
	fs.Parse(args)

	var (
		body []byte
		err  error
	)
	if *file == "-" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(*file)
	}
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	cfg := loadConfig()
	signingSecret := *secret
	if signingSecret == "" {
		signingSecret = cfg.WebhookSecret
	}
	signature := ""
	if verifier := webhook.NewVerifier(signingSecret); verifier.Enabled() {
		signature = verifier.Sign(body)
	}

	client, err := apiclient.New(cfg.BaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp, err := client.SubmitFailure(ctx, body, signature, cfg.Token)
	if err != nil {
		return err
	}
	fmt.Printf("recorded %s\n", resp.ErrorID)
	return nil
}

func commandToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("subject", "intakectl", "Token subject")
	scope := fs.String("scope", "failures:operate", "Token scope")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	fs.Parse(args)

	cfg := loadConfig()
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("INTERNAL_JWT_SECRET is not set")
	}
	token, err := jwt.GenerateToken(*subject, *scope, cfg.JWTSecret, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func printUsage() {
	fmt.Printf("intakectl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	intakectl list [--status pending] [--limit N]
	intakectl show --id <error-id>
	intakectl claim --id <error-id>
	intakectl transition --id <error-id> --status <status> [--note text] [--description text] [--commit sha] [--success]
	intakectl send [--file payload.json] [--secret s]
	intakectl token [--subject name] [--scope scope] [--ttl 1h]
	intakectl version

Environment: INTAKE_URL, INTAKE_TOKEN or INTERNAL_API_TOKEN, INTERNAL_JWT_SECRET, DEPLOYMENT_WEBHOOK_SECRET
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
