// Command spokid runs the capture-to-probe pipeline: raw-socket
// capture threads feed the classifier and shard router, shard workers
// consult their spoofing stores and schedule probes, the broker talks
// to external probing daemons, and collectors persist the three CSV
// streams.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/olekukonko/tablewriter"

	"github.com/inetrg/spoki/internal/broker"
	"github.com/inetrg/spoki/internal/collector"
	"github.com/inetrg/spoki/internal/config"
	"github.com/inetrg/spoki/internal/iptime"
	"github.com/inetrg/spoki/internal/metrics"
	"github.com/inetrg/spoki/internal/packet"
	"github.com/inetrg/spoki/internal/probe"
	"github.com/inetrg/spoki/internal/proto"
	"github.com/inetrg/spoki/internal/rawprobe"
	"github.com/inetrg/spoki/internal/scamper"
	"github.com/inetrg/spoki/internal/scheduler"
	"github.com/inetrg/spoki/internal/shardrouter"
	"github.com/inetrg/spoki/internal/spoofing"
)

//
// Command line flags
//
var configPath = flag.String("config", "", "Path to a YAML configuration file")
var network = flag.String("network", "192.0.2.0/24", "The subnet considered ours (CIDR)")
var outDir = flag.String("outDir", ".", "Directory for rotated CSV outputs")
var numShards = flag.Int("numShards", 4, "The number of shard workers")
var batchSize = flag.Int("batchSize", 1, "Packets batched per shard before dispatch")
var enableFilters = flag.Bool("enableFilters", false, "Apply source/destination address filters")
var scamperDaemons = flag.String("scamperDaemons", "", "Comma-separated host:port list of probing daemons")
var sweepPrefix = flag.Int("sweepPrefix", -1, "Leading octet for destination sweep mode, -1 to disable")
var probeRate = flag.Float64("probeRate", 256, "Probe requests admitted per second per shard")
var metricsAddr = flag.String("metricsAddr", "", "Listen address for the metrics endpoint, empty to disable")
var rotateEvery = flag.Duration("rotateEvery", 5*time.Minute, "Spoofing store rotation interval")
var maxGenerations = flag.Int("maxGenerations", 12, "Spoofing store generations retained")
var influxAddr = flag.String("influxAddr", "", "InfluxDB HTTP address for trace statistics, empty to disable")
var influxDB = flag.String("influxDB", "spoki", "InfluxDB database for trace statistics")
var influxUser = flag.String("influxUser", "", "InfluxDB username")
var influxPass = flag.String("influxPass", "", "InfluxDB password")

// captureStats are the per-capture-thread counters snapshotted onto
// the trace statistics stream.
type captureStats struct {
	accepted uint64
	filtered uint64
	captured uint64
	errors   uint64
}

func (s *captureStats) snapshot() collector.TraceStats {
	return collector.TraceStats{
		Accepted: atomic.LoadUint64(&s.accepted),
		Filtered: atomic.LoadUint64(&s.filtered),
		Captured: atomic.LoadUint64(&s.captured),
		Errors:   atomic.LoadUint64(&s.errors),
	}
}

// shardWorker owns one shard's scheduler (and through it the shard's
// spoofing store) and is its sole mutator.
type shardWorker struct {
	name  string
	sched *scheduler.Scheduler
	in    chan []packet.Packet
	brk   *broker.Broker
	udp   *rawprobe.Runner
	raw   chan<- collector.Record

	processed uint64
	completed uint64
}

// Probed implements broker.ReplyHandler: a completed probe marks the
// source's belief entry consistent.
func (w *shardWorker) Probed(req probe.Request) {
	atomic.AddUint64(&w.completed, 1)
	w.sched.Beliefs().Insert(req.Saddr, spoofing.Entry{TS: iptime.Now(), Consistent: true})
	glog.V(2).Infof("%s: probe %d (%s) completed", w.name, req.UserID, req.Method)
}

func (w *shardWorker) run(ctx context.Context) {
	rotate := time.NewTicker(*rotateEvery)
	defer rotate.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rotate.C:
			w.sched.RotateBeliefs(*maxGenerations)
		case batch, ok := <-w.in:
			if !ok {
				return
			}
			for _, p := range batch {
				w.handle(p)
			}
		}
	}
}

func (w *shardWorker) handle(p packet.Packet) {
	atomic.AddUint64(&w.processed, 1)
	tk := p.TargetKey()

	// First sighting of a source starts out unconfirmed; a completed
	// probe later flips it.
	if !w.sched.Beliefs().Contains(p.Saddr) {
		w.sched.Beliefs().Insert(p.Saddr, spoofing.Entry{TS: p.Observed, Consistent: false})
	}

	ev := collector.RawEvent{Pkt: p}
	if tk.ScannerLike {
		if req, ok := w.sched.Evaluate(p); ok {
			ev.Probed = true
			ev.Method = req.Method
			ev.ProbeAnum = req.Anum
			ev.NumProbes = req.NumProbes
			w.dispatch(p, req)
		}
	}
	w.raw <- collector.Record{UnixTS: p.Observed.Unix(), Line: collector.RawEventRow(ev)}
}

// dispatch routes a scheduled probe: UDP reflection goes out the raw
// transmitter with the darknet address as source; everything else
// goes through the broker.
func (w *shardWorker) dispatch(p packet.Packet, req probe.Request) {
	if req.Method == proto.ProbeUDP && w.udp != nil && p.UDP != nil {
		w.udp.Enqueue(rawprobe.Request{
			Saddr:   p.Daddr,
			Daddr:   p.Saddr,
			Sport:   p.UDP.Dport,
			Dport:   p.UDP.Sport,
			Payload: p.UDP.Payload,
		})
		atomic.AddUint64(&w.completed, 1)
		return
	}
	if w.brk != nil {
		w.brk.Submit(req, w)
	}
}

// capture reads IPv4 packets off a raw socket for one transport
// protocol and pushes them through the classifier and router.
func capture(ctx context.Context, ipProto int, name string, filters packet.Filters,
	router *shardrouter.Router, stats *captureStats, wg *sync.WaitGroup) {
	defer wg.Done()

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_RAW, ipProto)
	if err != nil {
		glog.Fatalf("capture %s: socket: %v", name, err)
	}
	defer syscall.Close(fd)
	tv := syscall.NsecToTimeval((500 * time.Millisecond).Nanoseconds())
	syscall.SetsockoptTimeval(fd, syscall.SOL_SOCKET, syscall.SO_RCVTIMEO, &tv)

	buf := make([]byte, 65535)
	for {
		if ctx.Err() != nil {
			routerStats := router.Stop()
			glog.V(1).Infof("capture %s stopping: %+v", name, routerStats)
			return
		}
		n, err := syscall.Read(fd, buf)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK || err == syscall.EINTR {
				continue
			}
			atomic.AddUint64(&stats.errors, 1)
			continue
		}
		atomic.AddUint64(&stats.captured, 1)

		frame := packet.Frame{
			Ethertype: 0x0800,
			Payload:   append([]byte(nil), buf[:n]...),
			Observed:  iptime.Now(),
		}
		p, err := packet.Classify(frame, filters)
		if err != nil {
			atomic.AddUint64(&stats.filtered, 1)
			continue
		}
		atomic.AddUint64(&stats.accepted, 1)
		router.Route(p)
	}
}

// replySink adapts the scamper-responses collector to the broker.
type replySink struct {
	out chan<- collector.Record
}

func (s replySink) ScamperResponse(r scamper.PingReply) {
	s.out <- collector.Record{UnixTS: r.StartSec, Line: collector.ScamperResponseRow(r)}
}

func loadConfig() config.Config {
	cfg := config.Default()
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			glog.Fatalf("reading config: %v", err)
		}
		cfg, err = config.Load(data)
		if err != nil {
			glog.Fatalf("parsing config: %v", err)
		}
	}
	if cfg.Network == "" {
		cfg.Network = *network
	}
	if cfg.Collectors.OutDir == "" {
		cfg.Collectors.OutDir = *outDir
	}
	if *numShards > 0 {
		cfg.NumShards = *numShards
	}
	if *batchSize > 0 {
		cfg.BatchSize = *batchSize
	}
	if *enableFilters {
		cfg.EnableFilters = true
	}
	if *scamperDaemons != "" {
		cfg.ProbeDaemons = strings.Split(*scamperDaemons, ",")
	}
	return cfg
}

func newStreamCollector(dir, stream, header string) *collector.Collector {
	w, err := collector.NewDirWriter(dir, stream, header)
	if err != nil {
		glog.Fatalf("%v", err)
	}
	return collector.New(w, stream, header)
}

func main() {
	flag.Parse()

	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	subnet, _ := cfg.Subnet()
	filters := packet.Filters{Enabled: cfg.EnableFilters, Local: subnet}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	// Collectors for the three output streams. The raw and scamper
	// streams are channel-fed mailboxes; the trace-stats collector is
	// owned by the reporting goroutine below.
	rawCol := newStreamCollector(cfg.Collectors.OutDir, "raw", collector.RawCSVHeader)
	rawCh := make(chan collector.Record, 4096)
	scamCol := newStreamCollector(cfg.Collectors.OutDir, "scamper-responses", collector.ScamperCSVHeader)
	scamCh := make(chan collector.Record, 4096)
	traceCol := newStreamCollector(cfg.Collectors.OutDir, "trace-stats", collector.TraceCSVHeader)

	var colWG sync.WaitGroup
	for _, pair := range []struct {
		c  *collector.Collector
		ch chan collector.Record
	}{{rawCol, rawCh}, {scamCol, scamCh}} {
		colWG.Add(1)
		go func(c *collector.Collector, ch chan collector.Record) {
			defer colWG.Done()
			c.Run(ctx, ch)
		}(pair.c, pair.ch)
	}

	// Trace statistics fan out to the CSV stream and, when configured,
	// an influx sink.
	traceSinks := []collector.TraceStatsSink{collector.CSVTraceStats{C: traceCol}}
	if *influxAddr != "" {
		ifx, err := collector.NewInfluxTraceStats(*influxAddr, *influxUser, *influxPass, *influxDB)
		if err != nil {
			glog.Fatalf("influx trace-stats sink: %v", err)
		}
		defer ifx.Close()
		traceSinks = append(traceSinks, ifx)
	}

	// Probe broker.
	var brk *broker.Broker
	if len(cfg.ProbeDaemons) > 0 {
		brk = broker.New(replySink{out: scamCh}, func() broker.PingDecoder {
			return scamper.NewPingReader()
		})
		if *sweepPrefix >= 0 && *sweepPrefix <= 255 {
			brk.EnableSweep(byte(*sweepPrefix))
		}
		go brk.Run(ctx)
		for _, d := range cfg.ProbeDaemons {
			host, portStr, err := net.SplitHostPort(strings.TrimSpace(d))
			if err != nil {
				glog.Fatalf("bad daemon address %q: %v", d, err)
			}
			port, err := strconv.ParseUint(portStr, 10, 16)
			if err != nil {
				glog.Fatalf("bad daemon port %q: %v", portStr, err)
			}
			if err := brk.Connect(host, uint16(port)); err != nil {
				glog.Errorf("%v", err)
			}
		}
	}

	// Raw UDP transmitter for reflection probes.
	table := rawprobe.PayloadTable{}
	for _, port := range cfg.RawSourcePorts {
		table[uint16(port)] = []byte{0x0A}
	}
	var udpTx *rawprobe.Runner
	if sock, err := rawprobe.OpenRawSocket(); err != nil {
		glog.Errorf("raw transmitter disabled: %v", err)
	} else {
		fdsock, ok := sock.(interface{ Fd() int })
		if !ok {
			glog.Fatalf("raw socket does not expose a descriptor")
		}
		udpTx, err = rawprobe.NewRunner(rawprobe.New(sock, table), fdsock.Fd())
		if err != nil {
			glog.Fatalf("raw transmit loop: %v", err)
		}
		defer udpTx.Stop()
	}

	// Shard workers.
	workers := make([]*shardWorker, cfg.NumShards)
	shards := make([]shardrouter.Shard, cfg.NumShards)
	var shardWG sync.WaitGroup
	for i := range workers {
		w := &shardWorker{
			name:  fmt.Sprintf("shard-%d", i),
			sched: scheduler.New(cfg.Cache, *probeRate),
			in:    make(chan []packet.Packet, 1024),
			brk:   brk,
			udp:   udpTx,
			raw:   rawCh,
		}
		workers[i] = w
		shards[i] = shardrouter.Shard{Name: w.name, In: w.in}
		shardWG.Add(1)
		go func() {
			defer shardWG.Done()
			w.run(ctx)
		}()
	}

	// Capture threads, one per transport protocol.
	stats := &captureStats{}
	var capWG sync.WaitGroup
	for _, c := range []struct {
		proto int
		name  string
	}{
		{syscall.IPPROTO_ICMP, "icmp"},
		{syscall.IPPROTO_TCP, "tcp"},
		{syscall.IPPROTO_UDP, "udp"},
	} {
		capWG.Add(1)
		go capture(ctx, c.proto, c.name, filters,
			shardrouter.New(shards, cfg.BatchSize), stats, &capWG)
	}

	// Periodic trace statistics. This goroutine is the trace-stats
	// collector's sole owner.
	var traceWG sync.WaitGroup
	traceWG.Add(1)
	go func() {
		defer traceWG.Done()
		tick := time.NewTicker(time.Minute)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				now := time.Now().Unix()
				s := stats.snapshot()
				for _, sink := range traceSinks {
					sink.RecordTraceStats(now, s)
				}
			}
		}
	}()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				glog.Errorf("metrics endpoint: %v", err)
			}
		}()
	}

	glog.Infof("spokid running: network %s, %d shards, %d daemons",
		subnet, cfg.NumShards, len(cfg.ProbeDaemons))

	<-sig
	glog.Info("shutting down")
	cancel()
	capWG.Wait()
	shardWG.Wait()
	close(rawCh)
	close(scamCh)
	colWG.Wait()
	traceWG.Wait()
	rawCol.Flush()
	scamCol.Flush()
	traceCol.Flush()

	printSummary(workers, stats)
	glog.Flush()
}

// printSummary renders the per-shard totals at exit.
func printSummary(workers []*shardWorker, stats *captureStats) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Shard", "Processed", "Probes Completed"})
	for _, w := range workers {
		table.Append([]string{
			w.name,
			fmt.Sprint(atomic.LoadUint64(&w.processed)),
			fmt.Sprint(atomic.LoadUint64(&w.completed)),
		})
	}
	s := stats.snapshot()
	table.SetFooter([]string{"capture",
		fmt.Sprintf("accepted %d", s.Accepted),
		fmt.Sprintf("filtered %d errors %d", s.Filtered, s.Errors)})
	table.Render()
}
