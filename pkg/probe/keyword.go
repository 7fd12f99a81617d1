package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/guardantio/guardant/pkg/service"
)

// KeywordExecutor implements the "keyword" probe type: a web probe whose
// up/down verdict is based on body content rather than status code alone.
type KeywordExecutor struct {
	client *http.Client
}

// NewKeywordExecutor builds a KeywordExecutor.
func NewKeywordExecutor() *KeywordExecutor {
	return &KeywordExecutor{client: &http.Client{}}
}

func (e *KeywordExecutor) Execute(ctx context.Context, cmd Command) Result {
	cfg, err := service.DecodeWebConfig(cmd.ServiceSnapshot.TypeConfig)
	if err != nil {
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(ErrorClassValidation)}
	}
	if cfg.Method == "HEAD" {
		cfg.Method = "GET" // keyword inspection requires a body
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cmd.ServiceSnapshot.Target, nil)
	if err != nil {
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(ErrorClassValidation)}
	}
	req.Header.Set("User-Agent", userAgent)

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

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(ErrorClassInternal)}
	}

	haystack, needle := string(body), cfg.Keyword
	if !cfg.CaseSens {
		haystack, needle = strings.ToLower(haystack), strings.ToLower(needle)
	}
	present := strings.Contains(haystack, needle)

	if present == cfg.ShouldHave {
		return Result{Status: StatusUp, StatusCode: statusCode(resp.StatusCode)}
	}
	return Result{
		Status:     StatusDown,
		StatusCode: statusCode(resp.StatusCode),
		Message:    msg(fmt.Sprintf("keyword presence mismatch: want contain=%v", cfg.ShouldHave)),
		ErrorClass: errClass(ErrorClassValidation),
	}
}
