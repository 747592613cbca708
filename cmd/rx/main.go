// Command rx listens for one replayed stream's fragments and, when
// calc_rtt is set, reassembles bursts and echoes ACKs back toward
// whichever link delivered each half, matching spec.md §6's "prog port
// duration calc_rtt rx_mode --src-ipaddrs ip1,ip2". Without calc_rtt only
// arrival times and byte counts are tracked; no burst is reassembled or
// counted as received.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"

	"github.com/netreplay/streamreplay"
	"github.com/netreplay/streamreplay/cmd/internal/apexadapter"
)

func main() {
	srcIPAddrs := flag.String("src-ipaddrs", "", "comma-separated list of sender IPs this receiver accepts fragments from")
	configPath := flag.String("config", "", "optional runtime YAML config (log level, metrics addr)")
	flag.Parse()

	if flag.NArg() < 4 {
		fmt.Fprintln(os.Stderr, "usage: rx port duration calc_rtt rx_mode --src-ipaddrs ip1,ip2")
		os.Exit(1)
	}
	args := flag.Args()
	// flags may also follow the four positional arguments
	flag.CommandLine.Parse(args[4:])
	port, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rx: invalid port %q: %s\n", args[0], err)
		os.Exit(1)
	}
	runDuration, err := parseDurationArg(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "rx: invalid duration %q: %s\n", args[1], err)
		os.Exit(1)
	}
	calcRTT, err := strconv.ParseBool(args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "rx: invalid calc_rtt %q: %s\n", args[2], err)
		os.Exit(1)
	}
	rxMode, err := strconv.ParseBool(args[3])
	if err != nil {
		fmt.Fprintf(os.Stderr, "rx: invalid rx_mode %q: %s\n", args[3], err)
		os.Exit(1)
	}

	var allowed map[string]bool
	if *srcIPAddrs != "" {
		allowed = make(map[string]bool)
		for _, ip := range strings.Split(*srcIPAddrs, ",") {
			allowed[strings.TrimSpace(ip)] = true
		}
	}

	runID := xid.New().String()
	cfg := runtimeConfigOrDefault(*configPath)
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logger := apexadapter.New(level, log.Fields{"run": runID, "port": port})

	laddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Errorf("rx: resolving :%d: %s", port, err.Error())
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		logger.Errorf("rx: binding :%d: %s", port, err.Error())
		os.Exit(1)
	}
	defer conn.Close()

	var ack streamreplay.AckSender
	if calcRTT {
		ackConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
		if err != nil {
			logger.Errorf("rx: binding ack socket: %s", err.Error())
			os.Exit(1)
		}
		defer ackConn.Close()
		ack = newExportedAckSender(ackConn)
	}

	stutter := streamreplay.NewStutterTracker()
	reassembler := streamreplay.NewReassembler(calcRTT, rxMode, ack, stutter, logger)

	name := fmt.Sprintf("%d", port)
	streams := map[string]*streamreplay.Reassembler{name: reassembler}

	if cfg.MetricsAddr != "" {
		startReassemblerMetricsServer(cfg.MetricsAddr, streams, logger)
	}

	deadline := time.Now().Add(runDuration)
	buf := make([]byte, 65536)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		srcIP := src.IP.String()
		if allowed != nil && !allowed[srcIP] {
			continue
		}
		p, err := streamreplay.Decode(buf[:n])
		if err == streamreplay.ErrInvalidIndicator {
			panic(fmt.Sprintf("rx: datagram from %s: %s", srcIP, err.Error()))
		}
		if err != nil {
			logger.Warnf("rx: decode from %s: %s", srcIP, err.Error())
			continue
		}
		reassembler.Ingest(*p, srcIP, int(port))
	}

	stats := reassembler.Snapshot()
	logger.Infof("rx: done, received=%d loss_rate=%.4f stuttering=%.4f",
		stats.Received, stats.LossRate(), stutter.Stuttering())
}

func parseDurationArg(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	var secs float64
	if _, err := fmt.Sscanf(s, "%f", &secs); err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func runtimeConfigOrDefault(path string) streamreplay.RuntimeConfig {
	if path == "" {
		return streamreplay.RuntimeConfig{LogLevel: "info", LogInterval: 5}
	}
	cfg, err := streamreplay.LoadRuntimeConfig(path)
	if err != nil {
		log.Warnf("rx: runtime config: %s", err.Error())
		return streamreplay.RuntimeConfig{LogLevel: "info", LogInterval: 5}
	}
	return *cfg
}

// exportedAckSender adapts a *net.UDPConn to streamreplay.AckSender for
// cmd/rx; the streamreplay package's own equivalent (udpAckSender) is
// unexported, so this one is what main actually wires up.
type exportedAckSender struct {
	conn *net.UDPConn
}

func newExportedAckSender(conn *net.UDPConn) *exportedAckSender {
	return &exportedAckSender{conn: conn}
}

func (s *exportedAckSender) SendAck(dstIP string, port int, p streamreplay.Packet) error {
	buf, err := streamreplay.Encode(&p)
	if err != nil {
		return err
	}
	addr := &net.UDPAddr{IP: net.ParseIP(dstIP), Port: port}
	_, err = s.conn.WriteTo(buf, addr)
	return err
}

// reassemblerCollector exposes one RX stream's counters as prometheus
// gauges, the RX-side counterpart of metrics.go's StreamCollector.
type reassemblerCollector struct {
	streams  map[string]*streamreplay.Reassembler
	received *prometheus.Desc
	lossRate *prometheus.Desc
}

func newReassemblerCollector(streams map[string]*streamreplay.Reassembler) *reassemblerCollector {
	return &reassemblerCollector{
		streams: streams,
		received: prometheus.NewDesc(
			"streamreplay_rx_received_total", "Number of complete bursts received.",
			[]string{"stream"}, nil),
		lossRate: prometheus.NewDesc(
			"streamreplay_rx_loss_rate", "(last_seq - received) / last_seq.",
			[]string{"stream"}, nil),
	}
}

func (c *reassemblerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.received
	ch <- c.lossRate
}

func (c *reassemblerCollector) Collect(ch chan<- prometheus.Metric) {
	for name, r := range c.streams {
		stats := r.Snapshot()
		ch <- prometheus.MustNewConstMetric(c.received, prometheus.GaugeValue, float64(stats.Received), name)
		ch <- prometheus.MustNewConstMetric(c.lossRate, prometheus.GaugeValue, stats.LossRate(), name)
	}
}

func startReassemblerMetricsServer(addr string, streams map[string]*streamreplay.Reassembler, logger streamreplay.Logger) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(newReassemblerCollector(streams))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warnf("rx: metrics server on %s: %s", addr, err.Error())
		}
	}()
}
