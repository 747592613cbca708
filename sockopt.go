package streamreplay

//
// TOS/DSCP socket adapter: applies a stream's configured tos byte to its TX
// UDP socket before the first packet goes out. Grounded on netem's
// UDPLikeConn.SyscallConn shape (model.go) for the conn-to-fd boundary, with
// the actual fd extraction done via higebu/netfd (as runZeroInc-sockstats's
// exporter does for its connEntry.fd) and the setsockopt call issued through
// golang.org/x/sys/unix rather than the platform syscall package.
//

import (
	"fmt"
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// SetTOS sets the IP_TOS (or IPV6_TCLASS, for a v6 local address) option on
// conn's underlying socket to tos. A tos of 0 is a legitimate, explicit
// "best effort" request and is still applied: conf.go supplies no sentinel
// for "unset".
func SetTOS(conn *net.UDPConn, tos uint8) error {
	fd := netfd.GetFdFromConn(conn)
	if fd < 0 {
		return fmt.Errorf("streamreplay: could not obtain file descriptor for %v", conn.LocalAddr())
	}

	if isIPv6(conn.LocalAddr()) {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, int(tos)); err != nil {
			return fmt.Errorf("streamreplay: setsockopt IPV6_TCLASS=%d on %v: %w", tos, conn.LocalAddr(), err)
		}
		return nil
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, int(tos)); err != nil {
		return fmt.Errorf("streamreplay: setsockopt IP_TOS=%d on %v: %w", tos, conn.LocalAddr(), err)
	}
	return nil
}

func isIPv6(addr net.Addr) bool {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok || udpAddr.IP == nil {
		return false
	}
	return udpAddr.IP.To4() == nil
}
