package streamreplay

//
// Control plane: a single UDP socket accepting JSON requests to
// reconfigure a running set of streams at runtime. Ported from ipc.rs's
// IPCDaemon, widened to the Throttle/TxPart/Statistics command set named
// in spec.md §4.9 — TxPart does not exist in the original, which only
// has throttle/statistics/stop. JSON is stdlib encoding/json, not an
// ecosystem library (see DESIGN.md for why this one boundary stays on
// the standard library).
//

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// StreamStatistics is the per-stream payload of a Statistics reply,
// spec.md §4.9's {rtt, channel_rtts, outage_rate, ch_outage_rates,
// throughput, tx_parts} shape.
type StreamStatistics struct {
	RTT           float64   `json:"rtt"`
	ChannelRTTs   []float64 `json:"channel_rtts"`
	OutageRate    float64   `json:"outage_rate"`
	ChOutageRates []float64 `json:"ch_outage_rates"`
	Throughput    float64   `json:"throughput"`
	TxParts       []float64 `json:"tx_parts"`
}

// StreamHandle is the subset of StreamManager the control plane needs,
// kept as an interface so ipc.go has no import-time dependency on
// stream.go's concrete lifecycle type.
type StreamHandle interface {
	SetThrottle(mbps float64)
	SetTxParts(parts []float64) error
	Active(now time.Time) bool
	Statistics() StreamStatistics
}

// ipcRequest is the wire shape of every inbound command.
type ipcRequest struct {
	Cmd  string          `json:"cmd"`
	Body json.RawMessage `json:"body"`
}

// ipcResponse is the wire shape of every reply. Throttle/TxPart never
// reply (spec.md §4.9: "no reply"); only Statistics populates Body.
type ipcResponse struct {
	Cmd  string `json:"cmd"`
	Body any    `json:"body,omitempty"`
}

// IPCDaemon is the control-plane listener for one TX run. It never
// mutates the data plane directly: every effect goes through a
// StreamHandle method, so a malformed or malicious request can only ever
// reach the same surface a correct one would.
type IPCDaemon struct {
	conn     *net.UDPConn
	streams  map[string]StreamHandle
	deadline time.Time
	logger   Logger
}

// NewIPCDaemon binds 127.0.0.1:port (matching the original's loopback-only
// bind) and returns a daemon that serves streams until deadline.
func NewIPCDaemon(port int, streams map[string]StreamHandle, deadline time.Time, logger Logger) (*IPCDaemon, error) {
	laddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("streamreplay: ipc: resolving 127.0.0.1:%d: %w", port, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("streamreplay: ipc: binding 127.0.0.1:%d: %w", port, err)
	}
	return &IPCDaemon{conn: conn, streams: streams, deadline: deadline, logger: logger}, nil
}

// Serve runs the request loop until wall-clock passes d.deadline, polling
// the socket every ~10ms (spec.md §4.9's "idle poll ~10 ms") so the
// deadline is noticed promptly without busy-waiting.
func (d *IPCDaemon) Serve() {
	buf := make([]byte, 2048)
	for time.Now().Before(d.deadline) {
		d.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		n, src, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			continue
		}
		d.handle(buf[:n], src)
	}
}

func (d *IPCDaemon) handle(raw []byte, src *net.UDPAddr) {
	var req ipcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		d.logger.Warnf("streamreplay: ipc: malformed request from %v: %s", src, err.Error())
		return
	}

	switch req.Cmd {
	case "Throttle":
		d.handleThrottle(req.Body)
	case "TxPart":
		d.handleTxPart(req.Body)
	case "Statistics":
		d.handleStatistics(req, src)
	default:
		d.logger.Warnf("streamreplay: ipc: unknown command %q from %v", req.Cmd, src)
	}
}

func (d *IPCDaemon) handleThrottle(body json.RawMessage) {
	var updates map[string]float64
	if err := json.Unmarshal(body, &updates); err != nil {
		d.logger.Warnf("streamreplay: ipc: Throttle: malformed body: %s", err.Error())
		return
	}
	for name, mbps := range updates {
		if s, ok := d.streams[name]; ok {
			s.SetThrottle(mbps)
		}
	}
}

func (d *IPCDaemon) handleTxPart(body json.RawMessage) {
	var updates map[string][]float64
	if err := json.Unmarshal(body, &updates); err != nil {
		d.logger.Warnf("streamreplay: ipc: TxPart: malformed body: %s", err.Error())
		return
	}
	for name, parts := range updates {
		s, ok := d.streams[name]
		if !ok {
			continue
		}
		if err := s.SetTxParts(parts); err != nil {
			d.logger.Warnf("streamreplay: ipc: TxPart %s: %s", name, err.Error())
		}
	}
}

func (d *IPCDaemon) handleStatistics(req ipcRequest, src *net.UDPAddr) {
	var names map[string]any
	_ = json.Unmarshal(req.Body, &names)

	now := time.Now()
	reply := make(map[string]StreamStatistics, len(names))
	for name := range names {
		s, ok := d.streams[name]
		if !ok || !s.Active(now) {
			continue
		}
		reply[name] = s.Statistics()
	}

	res := ipcResponse{Cmd: req.Cmd, Body: reply}
	out, err := json.Marshal(res)
	if err != nil {
		d.logger.Errorf("streamreplay: ipc: marshaling statistics reply: %s", err.Error())
		return
	}
	if _, err := d.conn.WriteToUDP(out, src); err != nil {
		d.logger.Warnf("streamreplay: ipc: sending reply to %v: %s", src, err.Error())
	}
}

// Close releases the control-plane socket.
func (d *IPCDaemon) Close() error {
	return d.conn.Close()
}
