package probe

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/guardantio/guardant/pkg/service"
)

// DNSExecutor implements the "dns" probe type.
type DNSExecutor struct {
	resolver *net.Resolver
}

// NewDNSExecutor builds a DNSExecutor.
func NewDNSExecutor() *DNSExecutor {
	return &DNSExecutor{resolver: net.DefaultResolver}
}

func (e *DNSExecutor) Execute(ctx context.Context, cmd Command) Result {
	cfg, err := service.DecodeDNSConfig(cmd.ServiceSnapshot.TypeConfig)
	if err != nil {
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(ErrorClassValidation)}
	}

	values, err := e.resolve(ctx, cmd.ServiceSnapshot.Target, cfg.RecordType)
	if err != nil {
		class := ErrorClassDNS
		if ctx.Err() != nil {
			class = ErrorClassTimeout
		}
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(class)}
	}
	if len(values) == 0 {
		return Result{Status: StatusDown, Message: msg("no records returned"), ErrorClass: errClass(ErrorClassDNS)}
	}

	if cfg.ExpectedValue != "" {
		matched := false
		for _, v := range values {
			if strings.EqualFold(v, cfg.ExpectedValue) {
				matched = true
				break
			}
		}
		if !matched {
			return Result{
				Status:     StatusDown,
				Message:    msg(fmt.Sprintf("expected value %q not found among %v", cfg.ExpectedValue, values)),
				ErrorClass: errClass(ErrorClassValidation),
				Details:    marshalDetails(map[string]any{"records": values}),
			}
		}
	}

	return Result{Status: StatusUp, Details: marshalDetails(map[string]any{"records": values})}
}

func (e *DNSExecutor) resolve(ctx context.Context, host, recordType string) ([]string, error) {
	switch strings.ToUpper(recordType) {
	case "A", "AAAA":
		ips, err := e.resolver.LookupIP(ctx, ipNetwork(recordType), host)
		if err != nil {
			return nil, err
		}
		out := make([]string, len(ips))
		for i, ip := range ips {
			out[i] = ip.String()
		}
		return out, nil
	case "MX":
		mxs, err := e.resolver.LookupMX(ctx, host)
		if err != nil {
			return nil, err
		}
		out := make([]string, len(mxs))
		for i, mx := range mxs {
			out[i] = mx.Host
		}
		return out, nil
	case "TXT":
		return e.resolver.LookupTXT(ctx, host)
	default:
		return nil, fmt.Errorf("unsupported dns record type %q", recordType)
	}
}

func ipNetwork(recordType string) string {
	if strings.EqualFold(recordType, "AAAA") {
		return "ip6"
	}
	return "ip4"
}
