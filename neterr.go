package streamreplay

//
// Shared non-blocking-socket error classification. spec.md §7 treats
// EWOULDBLOCK as a distinct, expected outcome ("retry after brief
// back-off; set blocked-flag"), detected via errors.Is against the
// stdlib syscall package — no ecosystem wrapper improves on this single
// comparison (see DESIGN.md).
//

import (
	"errors"
	"syscall"
)

// isWouldBlock reports whether err ultimately wraps EWOULDBLOCK/EAGAIN,
// the expected outcome of a non-blocking send or receive hitting a full
// kernel socket buffer.
func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN)
}
