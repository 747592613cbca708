package streamreplay

//
// Link dispatcher: one non-blocking sending worker per configured physical
// link, draining a packet queue and writing datagrams to that link's UDP
// socket. Ported in shape from netem's linkForward/linkForwardingState
// (link.go): one goroutine per direction, a shared sync.WaitGroup for
// teardown, context cancellation instead of a close channel. See
// SPEC_FULL.md §4.5.
//

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// dispatchItem is one queued send: the already-tagged packet plus the
// peer address it is destined for.
type dispatchItem struct {
	dst net.Addr
	pkt Packet
}

// linkWorker owns one outbound UDP socket and the queue feeding it.
type linkWorker struct {
	index   int
	name    string
	conn    *net.UDPConn
	items   chan dispatchItem
	blocked atomic.Bool
	logger  Logger
}

// newLinkWorker opens a UDP socket bound to txLocalAddr (the destination
// varies per packet via dispatchItem.dst, since the port is echoed from
// the burst's descriptor) and applies tos via the TOS/DSCP adapter.
func newLinkWorker(index int, txLocalAddr string, tos uint8, logger Logger) (*linkWorker, error) {
	name := newLinkName()
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(txLocalAddr, "0"))
	if err != nil {
		return nil, fmt.Errorf("streamreplay: resolving %s local addr %q: %w", name, txLocalAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("streamreplay: opening %s socket on %q: %w", name, txLocalAddr, err)
	}
	if err := SetTOS(conn, tos); err != nil {
		logger.Warnf("streamreplay: %s: %s", name, err.Error())
	}
	return &linkWorker{
		index:  index,
		name:   name,
		conn:   conn,
		items:  make(chan dispatchItem, 4096),
		logger: logger,
	}, nil
}

// Blocked reports whether this worker's last sendto attempt returned
// EWOULDBLOCK, the signal the source engine inspects (through
// LinkDispatcher.Blocked) to pause draining its throttler (spec.md §4.5).
func (w *linkWorker) Blocked() bool { return w.blocked.Load() }

func (w *linkWorker) send(item dispatchItem) {
	buf, err := Encode(&item.pkt)
	if err != nil {
		w.logger.Warnf("streamreplay: %s: encode: %s", w.name, err.Error())
		return
	}
	_, err = w.conn.WriteTo(buf, item.dst)
	if err == nil {
		w.blocked.Store(false)
		return
	}
	if errors.Is(err, net.ErrClosed) {
		return
	}
	if isWouldBlock(err) {
		w.blocked.Store(true)
		return
	}
	w.logger.Errorf("streamreplay: %s: sendto %v: %s", w.name, item.dst, err.Error())
}

// run is the tight try-drain loop spec.md §4.5 calls for: no sleep while
// the queue is non-empty, a short park otherwise.
func (w *linkWorker) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer w.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-w.items:
			w.send(item)
			for drained := true; drained; {
				select {
				case next := <-w.items:
					w.send(next)
				default:
					drained = false
				}
			}
		case <-time.After(time.Millisecond):
			// short park when the queue is empty; avoids a hot spin while
			// still noticing ctx.Done() promptly.
		}
	}
}

// LinkDispatcher fans packets for a stream out across its configured
// physical links, one non-blocking sender goroutine each.
type LinkDispatcher struct {
	workers []*linkWorker
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewLinkDispatcher opens one UDP socket per tx_local_ip in links and
// spawns its draining goroutine. tos is applied to every socket uniformly
// (one stream, one DSCP marking, per spec.md §3's stream descriptor).
func NewLinkDispatcher(links []LinkPair, tos uint8, logger Logger) (*LinkDispatcher, error) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &LinkDispatcher{cancel: cancel}

	for i, lp := range links {
		w, err := newLinkWorker(i, lp.TxIPAddr, tos, logger)
		if err != nil {
			cancel()
			d.wg.Wait()
			return nil, err
		}
		d.workers = append(d.workers, w)
		d.wg.Add(1)
		go w.run(ctx, &d.wg)
	}
	return d, nil
}

// Dispatch routes p to the link its Indicator belongs to (via sc) and
// enqueues it for that link's worker, addressed to peerIPs[link]:p.Port.
func (d *LinkDispatcher) Dispatch(sc *SplitController, peerIPs []string, p Packet) {
	idx := sc.LinkIndex(p.Indicator)
	if idx < 0 || idx >= len(d.workers) {
		idx = 0
	}
	addr := &net.UDPAddr{IP: net.ParseIP(peerIPs[idx]), Port: int(p.Port)}
	d.workers[idx].items <- dispatchItem{dst: addr, pkt: p}
}

// Blocked reports whether link index i last saw EWOULDBLOCK.
func (d *LinkDispatcher) Blocked(i int) bool {
	if i < 0 || i >= len(d.workers) {
		return false
	}
	return d.workers[i].Blocked()
}

// Close stops every worker goroutine and closes their sockets,
// deterministically, matching netem's Link.Close sync.Once+WaitGroup
// teardown.
func (d *LinkDispatcher) Close() error {
	d.cancel()
	d.wg.Wait()
	return nil
}
