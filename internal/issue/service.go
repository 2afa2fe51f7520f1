// Package issue turns issue-tracker URLs into planning instructions: it
// detects the provider, fetches the issue body through the provider CLI,
// and sanitizes it before it reaches an agent prompt. It can also close an
// issue once the work lands.
package issue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os/exec"
	"regexp"
	"strings"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/logging"
)

// Provider represents an issue tracking service.
type Provider string

const (
	ProviderGitHub  Provider = "github"
	ProviderLinear  Provider = "linear"
	ProviderNotion  Provider = "notion"
	ProviderUnknown Provider = "unknown"
)

// maxInstructionBytes caps a fetched issue body before it becomes a
// planning instruction.
const maxInstructionBytes = 16 << 10

var (
	gitHubRegex      = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)/issues/(\d+)$`)
	linearRegex      = regexp.MustCompile(`linear\.app/[^/]+/issue/([A-Z]+-\d+)`)
	htmlCommentRegex = regexp.MustCompile(`(?s)<!--.*?-->`)
	blankRunRegex    = regexp.MustCompile(`\n{3,}`)
)

// CommandRunner executes a provider CLI command.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecCommandRunner runs provider CLIs via os/exec.
type ExecCommandRunner struct{}

func (ExecCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Service fetches and closes issues across providers.
type Service struct {
	runner CommandRunner
	logger *logging.Logger
}

// NewService creates an issue service backed by the real provider CLIs.
func NewService(logger *logging.Logger) *Service {
	return NewServiceWithRunner(ExecCommandRunner{}, logger)
}

// NewServiceWithRunner creates an issue service with a custom command
// runner.
func NewServiceWithRunner(runner CommandRunner, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Service{runner: runner, logger: logger}
}

// DetectProvider determines the issue provider from a URL.
func DetectProvider(issueURL string) (Provider, error) {
	parsed, err := url.Parse(issueURL)
	if err != nil {
		return ProviderUnknown, errors.NewValidationError("issue URL").
			Add("not a parseable URL: %v", err)
	}

	host := strings.ToLower(parsed.Host)
	switch {
	case strings.Contains(host, "github.com"):
		return ProviderGitHub, nil
	case strings.Contains(host, "linear.app"):
		return ProviderLinear, nil
	case strings.Contains(host, "notion.so") || strings.Contains(host, "notion.site"):
		return ProviderNotion, nil
	default:
		return ProviderUnknown, nil
	}
}

// IsIssueURL reports whether the text looks like a fetchable issue URL
// rather than a literal instruction.
func IsIssueURL(text string) bool {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "http://") && !strings.HasPrefix(text, "https://") {
		return false
	}
	provider, err := DetectProvider(text)
	return err == nil && provider != ProviderUnknown
}

// Fetch retrieves the issue's title and body and sanitizes them into a
// planning instruction.
func (s *Service) Fetch(ctx context.Context, issueURL string) (string, error) {
	provider, err := DetectProvider(issueURL)
	if err != nil {
		return "", err
	}
	switch provider {
	case ProviderGitHub:
		return s.fetchGitHub(ctx, issueURL)
	default:
		return "", errors.NewValidationError("issue URL").
			Add("fetching from provider %q is not supported", provider)
	}
}

// fetchGitHub pulls the issue through the gh CLI.
func (s *Service) fetchGitHub(ctx context.Context, issueURL string) (string, error) {
	matches := gitHubRegex.FindStringSubmatch(issueURL)
	if len(matches) != 4 {
		return "", errors.NewValidationError("issue URL").
			Add("not a GitHub issue URL: %s", issueURL)
	}
	owner, repo, number := matches[1], matches[2], matches[3]
	repoPath := owner + "/" + repo

	output, err := s.runner.Run(ctx, "gh", "issue", "view", number,
		"--repo", repoPath, "--json", "title,body")
	if err != nil {
		return "", fmt.Errorf("fetching GitHub issue #%s from %s: %w\noutput: %s",
			number, repoPath, err, string(output))
	}

	var issue struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.Unmarshal(output, &issue); err != nil {
		return "", errors.NewTaskError("gh returned malformed issue JSON", errors.ErrParse)
	}

	s.logger.Info("fetched issue", "repo", repoPath, "issue", number)
	return Sanitize(issue.Title + "\n\n" + issue.Body), nil
}

// Sanitize strips an issue body down to plain instruction text: HTML
// comments and control characters go, blank-line runs collapse, and the
// result is capped at 16 KiB.
func Sanitize(text string) string {
	text = htmlCommentRegex.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var b strings.Builder
	for _, r := range text {
		if r == '\n' || r == '\t' || r >= 0x20 {
			b.WriteRune(r)
		}
	}
	text = blankRunRegex.ReplaceAllString(b.String(), "\n\n")
	text = strings.TrimSpace(text)

	if len(text) > maxInstructionBytes {
		cut := text[:maxInstructionBytes]
		// Do not leave a partial UTF-8 sequence at the cap.
		for len(cut) > 0 && cut[len(cut)-1] >= 0x80 && cut[len(cut)-1] < 0xC0 {
			cut = cut[:len(cut)-1]
		}
		text = cut
	}
	return text
}

// Close closes an issue given its URL. Returns nil when the URL is empty
// or the provider is unsupported; issue closing never fails the work that
// triggered it.
func (s *Service) Close(ctx context.Context, issueURL string) error {
	if issueURL == "" {
		return nil
	}

	provider, err := DetectProvider(issueURL)
	if err != nil {
		s.logger.Warn("failed to detect issue provider", "url", issueURL, "error", err.Error())
		return nil
	}

	switch provider {
	case ProviderGitHub:
		return s.closeGitHub(ctx, issueURL)
	case ProviderLinear:
		return s.closeLinear(ctx, issueURL)
	default:
		s.logger.Debug("unsupported issue provider", "url", issueURL, "provider", string(provider))
		return nil
	}
}

func (s *Service) closeGitHub(ctx context.Context, issueURL string) error {
	matches := gitHubRegex.FindStringSubmatch(issueURL)
	if len(matches) != 4 {
		return fmt.Errorf("invalid GitHub issue URL: %s", issueURL)
	}
	owner, repo, number := matches[1], matches[2], matches[3]
	repoPath := owner + "/" + repo

	output, err := s.runner.Run(ctx, "gh", "issue", "close", number, "--repo", repoPath)
	if err != nil {
		return fmt.Errorf("failed to close GitHub issue #%s: %w\noutput: %s", number, err, string(output))
	}
	s.logger.Info("closed GitHub issue", "repo", repoPath, "issue", number)
	return nil
}

func (s *Service) closeLinear(ctx context.Context, issueURL string) error {
	matches := linearRegex.FindStringSubmatch(issueURL)
	if len(matches) != 2 {
		return fmt.Errorf("invalid Linear issue URL: %s", issueURL)
	}
	issueID := matches[1]

	output, err := s.runner.Run(ctx, "linear", "issue", "close", issueID)
	if err != nil {
		// The linear CLI may simply not be installed.
		s.logger.Warn("failed to close Linear issue",
			"issue", issueID, "error", err.Error(), "output", string(output))
		return nil
	}
	s.logger.Info("closed Linear issue", "issue", issueID)
	return nil
}
