package streamreplay

//
// Link naming: every dispatcher worker gets a unique, process-wide name
// for log lines and metric labels, rather than a bare slice index that
// collides across streams. Adapted from netem's nic.go newNICName
// (atomic counter -> "ethN"); here the counter names dispatcher links
// instead of emulated NICs.
//

import (
	"fmt"
	"sync/atomic"
)

var linkID = &atomic.Int64{}

// newLinkName returns a unique name of the form "link3", used wherever a
// dispatcher worker needs to identify itself in a log line.
func newLinkName() string {
	return fmt.Sprintf("link%d", linkID.Add(1))
}
