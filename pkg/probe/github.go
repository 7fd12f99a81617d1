package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/guardantio/guardant/pkg/service"
)

// GitHubExecutor implements the "github" probe type.
type GitHubExecutor struct {
	client *http.Client
}

// NewGitHubExecutor builds a GitHubExecutor.
func NewGitHubExecutor() *GitHubExecutor {
	return &GitHubExecutor{client: &http.Client{}}
}

type githubRepoResponse struct {
	StargazersCount int `json:"stargazers_count"`
	ForksCount      int `json:"forks_count"`
	OpenIssuesCount int `json:"open_issues_count"`
}

func (e *GitHubExecutor) Execute(ctx context.Context, cmd Command) Result {
	cfg, err := service.DecodeGitHubConfig(cmd.ServiceSnapshot.TypeConfig)
	if err != nil {
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(ErrorClassValidation)}
	}

	url := fmt.Sprintf("https://api.github.com/repos/%s", cmd.ServiceSnapshot.Target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(ErrorClassValidation)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		class := ErrorClassConnect
		if ctx.Err() != nil {
			class = ErrorClassTimeout
		}
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(class)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{
			Status:     StatusDown,
			StatusCode: statusCode(resp.StatusCode),
			Message:    msg(fmt.Sprintf("unexpected status: %d", resp.StatusCode)),
			ErrorClass: errClass(ErrorClassHTTPStatus),
		}
	}

	var repo githubRepoResponse
	if err := json.NewDecoder(resp.Body).Decode(&repo); err != nil {
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(ErrorClassInternal)}
	}

	return Result{
		Status:     StatusUp,
		StatusCode: statusCode(resp.StatusCode),
		Details: marshalDetails(map[string]any{
			"stars":      repo.StargazersCount,
			"forks":      repo.ForksCount,
			"openIssues": repo.OpenIssuesCount,
		}),
	}
}
