package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/guardantio/guardant/pkg/service"
)

// UptimeAPIExecutor implements the "uptime-api" probe type: GET a URL, parse
// JSON per a dotted typeConfig.jsonPath, compare to an expected value.
type UptimeAPIExecutor struct {
	client *http.Client
}

// NewUptimeAPIExecutor builds an UptimeAPIExecutor.
func NewUptimeAPIExecutor() *UptimeAPIExecutor {
	return &UptimeAPIExecutor{client: &http.Client{}}
}

func (e *UptimeAPIExecutor) Execute(ctx context.Context, cmd Command) Result {
	cfg, err := service.DecodeUptimeAPIConfig(cmd.ServiceSnapshot.TypeConfig)
	if err != nil {
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(ErrorClassValidation)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(ErrorClassValidation)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

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

	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(ErrorClassInternal)}
	}

	value, ok := jsonPathLookup(body, cfg.JSONPath)
	if !ok {
		return Result{
			Status:     StatusDown,
			StatusCode: statusCode(resp.StatusCode),
			Message:    msg(fmt.Sprintf("jsonPath %q not found in response", cfg.JSONPath)),
			ErrorClass: errClass(ErrorClassValidation),
		}
	}

	if fmt.Sprintf("%v", value) != cfg.ExpectedValue {
		return Result{
			Status:     StatusDown,
			StatusCode: statusCode(resp.StatusCode),
			Message:    msg(fmt.Sprintf("jsonPath %q = %v, expected %v", cfg.JSONPath, value, cfg.ExpectedValue)),
			ErrorClass: errClass(ErrorClassValidation),
		}
	}

	return Result{Status: StatusUp, StatusCode: statusCode(resp.StatusCode)}
}

// jsonPathLookup traverses a decoded JSON value along a dotted path, with
// numeric segments indexing into arrays (e.g. "items.0.status").
func jsonPathLookup(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
