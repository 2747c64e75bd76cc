package metrics

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultNamespace  = "ftransfer"
	subsystemTransfer = "transfer"
)

type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// TransferCollector accumulates the counters of one file transfer and exposes
// them through a private Prometheus registry.
type TransferCollector struct {
	mu        sync.RWMutex
	namespace string
	role      Role
	registry  *prometheus.Registry

	startTime       time.Time
	bytesSent       uint64
	bytesRetransmit uint64
	bytesReceived   uint64
	diskReadBytes   uint64
	diskWriteBytes  uint64
	packetsSent     uint64
	packetsReceived uint64
	retransmissions uint64
	duplicates      uint64
	violations      uint64
	ackSamples      uint64
	lastAckMs       float64
	rttAvgMs        float64
	jitterMs        float64
}

type TransferSnapshot struct {
	Role            Role
	Elapsed         time.Duration
	BytesSent       uint64
	BytesReceived   uint64
	DiskReadBytes   uint64
	DiskWriteBytes  uint64
	BytesRetransmit uint64
	PacketsSent     uint64
	PacketsReceived uint64
	Retransmissions uint64
	Duplicates      uint64
	Violations      uint64
	AckSamples      uint64
	ThroughputBps   float64
	GoodputBps      float64
	ThroughputMbps  float64
	GoodputMbps     float64
	DiskReadBps     float64
	DiskWriteBps    float64
	RetransmitRate  float64
	RttMs           float64
	JitterMs        float64
}

func NewTransferCollector(namespace string, role Role) *TransferCollector {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	tc := &TransferCollector{
		namespace: namespace,
		role:      role,
		registry:  prometheus.NewRegistry(),
	}
	tc.registerMetrics()
	return tc
}

func (c *TransferCollector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *TransferCollector) Role() Role { return c.role }

// ObserveSend records chunk payload bytes put on the data channel. Resent
// chunks are tracked separately so goodput excludes them.
func (c *TransferCollector) ObserveSend(bytes int, retransmit bool) {
	if c == nil || bytes < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureStartTimeLocked()
	if retransmit {
		c.bytesRetransmit += uint64(bytes)
		c.retransmissions++
		return
	}
	c.bytesSent += uint64(bytes)
}

// ObserveReceive records chunk payload bytes accepted into the reassembly
// buffer. Duplicates are counted by ObserveDuplicate instead.
func (c *TransferCollector) ObserveReceive(bytes int) {
	if c == nil || bytes <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureStartTimeLocked()
	c.bytesReceived += uint64(bytes)
}

func (c *TransferCollector) ObserveDuplicate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ensureStartTimeLocked()
	c.duplicates++
	c.mu.Unlock()
}

// ObserveViolation counts messages dropped as malformed or out of place.
func (c *TransferCollector) ObserveViolation() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.violations++
	c.mu.Unlock()
}

func (c *TransferCollector) ObservePacketSend() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ensureStartTimeLocked()
	c.packetsSent++
	c.mu.Unlock()
}

func (c *TransferCollector) ObservePacketReceive() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ensureStartTimeLocked()
	c.packetsReceived++
	c.mu.Unlock()
}

func (c *TransferCollector) ObserveDiskRead(bytes int) {
	if c == nil || bytes <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureStartTimeLocked()
	c.diskReadBytes += uint64(bytes)
}

func (c *TransferCollector) ObserveDiskWrite(bytes int) {
	if c == nil || bytes <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureStartTimeLocked()
	c.diskWriteBytes += uint64(bytes)
}

// ObserveAck folds one chunk round trip (send to matching ack) into the
// running RTT average and jitter estimate.
func (c *TransferCollector) ObserveAck(d time.Duration) {
	if c == nil || d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureStartTimeLocked()
	sample := float64(d) / float64(time.Millisecond)
	if c.ackSamples == 0 {
		c.rttAvgMs = sample
		c.jitterMs = 0
	} else {
		diff := math.Abs(sample - c.lastAckMs)
		if c.jitterMs == 0 {
			c.jitterMs = diff
		} else {
			c.jitterMs = c.jitterMs*0.7 + diff*0.3
		}
		c.rttAvgMs = (c.rttAvgMs*float64(c.ackSamples) + sample) / float64(c.ackSamples+1)
	}
	c.lastAckMs = sample
	c.ackSamples++
}

func (c *TransferCollector) Snapshot() TransferSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buildSnapshotLocked(time.Now())
}

func (c *TransferCollector) buildSnapshotLocked(now time.Time) TransferSnapshot {
	primary, resent := c.bytesSent, c.bytesRetransmit
	if c.role == RoleReceiver {
		primary, resent = c.bytesReceived, 0
	}

	var elapsed time.Duration
	if !c.startTime.IsZero() {
		elapsed = now.Sub(c.startTime)
	}

	throughput := rateFromBytes(primary+resent, elapsed)
	goodput := rateFromBytes(primary, elapsed)

	var retransRatio float64
	if primary+resent > 0 {
		retransRatio = float64(resent) / float64(primary+resent)
	}

	return TransferSnapshot{
		Role:            c.role,
		Elapsed:         elapsed,
		BytesSent:       c.bytesSent,
		BytesReceived:   c.bytesReceived,
		DiskReadBytes:   c.diskReadBytes,
		DiskWriteBytes:  c.diskWriteBytes,
		BytesRetransmit: c.bytesRetransmit,
		PacketsSent:     c.packetsSent,
		PacketsReceived: c.packetsReceived,
		Retransmissions: c.retransmissions,
		Duplicates:      c.duplicates,
		Violations:      c.violations,
		AckSamples:      c.ackSamples,
		ThroughputBps:   throughput,
		GoodputBps:      goodput,
		ThroughputMbps:  throughput * 8 / 1e6,
		GoodputMbps:     goodput * 8 / 1e6,
		DiskReadBps:     rateFromBytes(c.diskReadBytes, elapsed),
		DiskWriteBps:    rateFromBytes(c.diskWriteBytes, elapsed),
		RetransmitRate:  retransRatio,
		RttMs:           c.rttAvgMs,
		JitterMs:        c.jitterMs,
	}
}

func (c *TransferCollector) registerMetrics() {
	constLabels := prometheus.Labels{"role": string(c.role)}

	gauge := func(name, help string, valueFn func(TransferSnapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.namespace,
			Subsystem:   subsystemTransfer,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return valueFn(c.buildSnapshotLocked(time.Now()))
		})
	}

	counter := func(name, help string, field *uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   c.namespace,
			Subsystem:   subsystemTransfer,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return float64(*field)
		})
	}

	c.registry.MustRegister(
		gauge("throughput_bytes_per_second",
			"Chunk payload rate including retransmissions.",
			func(s TransferSnapshot) float64 { return s.ThroughputBps }),
		gauge("goodput_bytes_per_second",
			"Chunk payload rate excluding retransmissions.",
			func(s TransferSnapshot) float64 { return s.GoodputBps }),
		gauge("disk_read_bytes_per_second",
			"Local file read rate.",
			func(s TransferSnapshot) float64 { return s.DiskReadBps }),
		gauge("disk_write_bytes_per_second",
			"Local file write rate.",
			func(s TransferSnapshot) float64 { return s.DiskWriteBps }),
		gauge("rtt_milliseconds",
			"Average chunk to ack round trip.",
			func(s TransferSnapshot) float64 { return s.RttMs }),
		gauge("jitter_milliseconds",
			"Smoothed variation between ack round trips.",
			func(s TransferSnapshot) float64 { return s.JitterMs }),
		gauge("retransmission_ratio",
			"Share of sent payload bytes that were resends.",
			func(s TransferSnapshot) float64 { return s.RetransmitRate }),

		counter("bytes_sent_total", "First-transmission chunk payload bytes.", &c.bytesSent),
		counter("bytes_retransmitted_total", "Chunk payload bytes resent after a timeout.", &c.bytesRetransmit),
		counter("bytes_received_total", "Chunk payload bytes accepted by the receiver.", &c.bytesReceived),
		counter("disk_read_bytes_total", "Bytes read from the source file.", &c.diskReadBytes),
		counter("disk_write_bytes_total", "Bytes written to the destination file.", &c.diskWriteBytes),
		counter("packets_sent_total", "Protocol messages sent.", &c.packetsSent),
		counter("packets_received_total", "Protocol messages received.", &c.packetsReceived),
		counter("retransmissions_total", "Chunk resends triggered by the ack timeout.", &c.retransmissions),
		counter("duplicate_chunks_total", "Chunks received for an already buffered sequence.", &c.duplicates),
		counter("protocol_violations_total", "Messages dropped as malformed or unexpected.", &c.violations),
	)
}

func (c *TransferCollector) ensureStartTimeLocked() {
	if c.startTime.IsZero() {
		c.startTime = time.Now()
	}
}

func rateFromBytes(bytes uint64, elapsed time.Duration) float64 {
	if bytes == 0 || elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}
