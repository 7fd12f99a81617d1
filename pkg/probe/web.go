package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/guardantio/guardant/pkg/service"
)

const userAgent = "GuardAnt-Monitor/1.0 (+https://guardant.io)"

// WebExecutor implements the "web" and (via KeywordExecutor) "keyword" probe types.
type WebExecutor struct {
	client *http.Client
}

// NewWebExecutor builds a WebExecutor whose client follows at most 5
// redirects (§4.1); past that the last redirect response is returned and
// reported as degraded.
func NewWebExecutor() *WebExecutor {
	return &WebExecutor{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

func (e *WebExecutor) Execute(ctx context.Context, cmd Command) Result {
	cfg, err := service.DecodeWebConfig(cmd.ServiceSnapshot.TypeConfig)
	if err != nil {
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(ErrorClassValidation)}
	}
	return e.probe(ctx, cmd.ServiceSnapshot.Target, cfg)
}

func (e *WebExecutor) probe(ctx context.Context, target string, cfg service.WebConfig) Result {
	req, err := http.NewRequestWithContext(ctx, cfg.Method, target, nil)
	if err != nil {
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(ErrorClassValidation)}
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		class := ErrorClassConnect
		switch {
		case ctx.Err() != nil:
			class = ErrorClassTimeout
		case isTLSError(err):
			class = ErrorClassTLS
		}
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(class)}
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	details := webDetails(resp)

	switch {
	case code >= 200 && code < 300:
		return Result{Status: StatusUp, StatusCode: statusCode(code), Details: details}
	case code >= 300 && code < 400:
		return Result{
			Status:     StatusDegraded,
			StatusCode: statusCode(code),
			Message:    msg(fmt.Sprintf("redirect not resolved: %d", code)),
			ErrorClass: errClass(ErrorClassHTTPStatus),
			Details:    details,
		}
	case code >= 400 && code < 500 && containsInt(cfgDegradedOn(cfg), code):
		return Result{
			Status:     StatusDegraded,
			StatusCode: statusCode(code),
			Message:    msg(fmt.Sprintf("degraded status: %d", code)),
			ErrorClass: errClass(ErrorClassHTTPStatus),
			Details:    details,
		}
	default:
		return Result{
			Status:     StatusDown,
			StatusCode: statusCode(code),
			Message:    msg(fmt.Sprintf("unexpected status: %d", code)),
			ErrorClass: errClass(ErrorClassHTTPStatus),
			Details:    details,
		}
	}
}

func cfgDegradedOn(cfg service.WebConfig) []int { return cfg.DegradedOn }

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func isTLSError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	return strings.Contains(err.Error(), "tls") || strings.Contains(err.Error(), "x509")
}

func webDetails(resp *http.Response) []byte {
	finalURL := resp.Request.URL.String()
	var tlsExpiryDays *int
	if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		days := int(time.Until(resp.TLS.PeerCertificates[0].NotAfter).Hours() / 24)
		tlsExpiryDays = &days
	}
	return marshalDetails(map[string]any{
		"finalUrl":      finalURL,
		"tlsExpiryDays": tlsExpiryDays,
	})
}
