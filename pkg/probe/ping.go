package probe

import (
	"context"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// PingExecutor implements the "ping" probe type: an ICMP echo, falling back
// to an unprivileged UDP-datagram echo when raw sockets aren't available
// (e.g. no CAP_NET_RAW in a container) — §4.1.
type PingExecutor struct{}

// NewPingExecutor builds a PingExecutor.
func NewPingExecutor() *PingExecutor {
	return &PingExecutor{}
}

func (e *PingExecutor) Execute(ctx context.Context, cmd Command) Result {
	host := cmd.ServiceSnapshot.Target
	deadline, _ := ctx.Deadline()
	if deadline.IsZero() {
		deadline = time.Now().Add(5 * time.Second)
	}

	ok, err := e.echo(host, deadline, "ip4:icmp")
	if err != nil {
		// Raw socket unavailable — fall back to the unprivileged UDP ping.
		ok, err = e.echo(host, deadline, "udp4")
	}
	if err != nil {
		class := ErrorClassConnect
		if ctx.Err() != nil {
			class = ErrorClassTimeout
		}
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(class)}
	}
	if !ok {
		return Result{Status: StatusDown, Message: msg("no echo reply within timeout"), ErrorClass: errClass(ErrorClassTimeout)}
	}
	return Result{Status: StatusUp}
}

func (e *PingExecutor) echo(host string, deadline time.Time, network string) (bool, error) {
	conn, err := icmp.ListenPacket(network, "0.0.0.0")
	if err != nil {
		return false, err
	}
	defer conn.Close()

	dst, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return false, err
	}

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("guardant"),
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return false, err
	}
	// Unprivileged datagram endpoints take a UDP address, raw ones an IP address.
	var addr net.Addr = dst
	if network == "udp4" {
		addr = &net.UDPAddr{IP: dst.IP}
	}
	if _, err := conn.WriteTo(wb, addr); err != nil {
		return false, err
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return false, err
	}
	rb := make([]byte, 1500)
	n, _, err := conn.ReadFrom(rb)
	if err != nil {
		return false, nil // timeout counts as no-reply, not a hard error
	}

	reply, err := icmp.ParseMessage(1, rb[:n])
	if err != nil {
		return false, err
	}
	return reply.Type == ipv4.ICMPTypeEchoReply, nil
}
