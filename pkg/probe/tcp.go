package probe

import (
	"context"
	"net"
)

// TCPExecutor implements the "tcp" and "port" probe types: a bare connect check.
type TCPExecutor struct {
	dialer *net.Dialer
}

// NewTCPExecutor builds a TCPExecutor.
func NewTCPExecutor() *TCPExecutor {
	return &TCPExecutor{dialer: &net.Dialer{}}
}

func (e *TCPExecutor) Execute(ctx context.Context, cmd Command) Result {
	conn, err := e.dialer.DialContext(ctx, "tcp", cmd.ServiceSnapshot.Target)
	if err != nil {
		class := ErrorClassConnect
		if ctx.Err() != nil {
			class = ErrorClassTimeout
		}
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(class)}
	}
	_ = conn.Close()
	return Result{Status: StatusUp}
}
