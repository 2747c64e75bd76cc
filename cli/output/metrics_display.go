package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mixx99/file-transfer/pkg/metrics"
	"github.com/pterm/pterm"
)

// MetricsDisplay prints a transfer's collected metrics as a pterm table.
type MetricsDisplay struct {
	title     string
	collector *metrics.TransferCollector
	writer    io.Writer
}

func NewMetricsDisplay(title string, collector *metrics.TransferCollector) *MetricsDisplay {
	if strings.TrimSpace(title) == "" {
		title = "Transfer Metrics"
	}
	return &MetricsDisplay{title: title, collector: collector, writer: os.Stdout}
}

func (d *MetricsDisplay) WithWriter(w io.Writer) *MetricsDisplay {
	d.writer = w
	return d
}

func (d *MetricsDisplay) PrintSummary() {
	if d == nil || d.collector == nil {
		return
	}
	snap := d.collector.Snapshot()
	if snap.PacketsSent == 0 && snap.PacketsReceived == 0 {
		return
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(tableData(snap)).Srender()
	if err != nil {
		return
	}
	fmt.Fprintln(d.writer, pterm.DefaultSection.Sprint(d.title))
	fmt.Fprintln(d.writer, table)
	fmt.Fprintf(d.writer, "Elapsed: %s    Role: %s\n",
		formatDuration(snap.Elapsed), strings.ToUpper(string(snap.Role)))
}

func tableData(snap metrics.TransferSnapshot) pterm.TableData {
	data := pterm.TableData{{"Metric", "Value"}}
	if snap.Role == metrics.RoleSender {
		data = append(data,
			[]string{"Throughput", formatMbps(snap.ThroughputMbps)},
			[]string{"Goodput", formatMbps(snap.GoodputMbps)},
			[]string{"Goodput Efficiency", formatPercent(ratioOrZero(snap.GoodputBps, snap.ThroughputBps))},
			[]string{"Chunk RTT", formatMillis(snap.RttMs)},
			[]string{"Jitter", formatMillis(snap.JitterMs)},
			[]string{"Retransmissions", fmt.Sprintf("%d (%s)", snap.Retransmissions, formatPercent(snap.RetransmitRate))},
			[]string{"Retransmitted Bytes", formatBytes(snap.BytesRetransmit)},
			[]string{"Bytes Sent", formatBytes(snap.BytesSent)},
			[]string{"Disk Read", formatBytes(snap.DiskReadBytes)},
		)
	} else {
		data = append(data,
			[]string{"Goodput", formatMbps(snap.GoodputMbps)},
			[]string{"Bytes Received", formatBytes(snap.BytesReceived)},
			[]string{"Duplicate Chunks", fmt.Sprintf("%d", snap.Duplicates)},
			[]string{"Disk Write", formatBytes(snap.DiskWriteBytes)},
		)
	}
	return append(data,
		[]string{"Packets Sent", fmt.Sprintf("%d", snap.PacketsSent)},
		[]string{"Packets Received", fmt.Sprintf("%d", snap.PacketsReceived)},
		[]string{"Protocol Violations", fmt.Sprintf("%d", snap.Violations)},
	)
}

func formatMbps(mbps float64) string {
	if mbps <= 0 {
		return "--"
	}
	return fmt.Sprintf("%.2f Mb/s", mbps)
}

func formatMillis(ms float64) string {
	if ms <= 0 {
		return "--"
	}
	return fmt.Sprintf("%.2f ms", ms)
}

func formatBytes(b uint64) string {
	const kb = 1024
	const mb = kb * 1024
	const gb = mb * 1024
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	if d < time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	}
	return d.Truncate(100 * time.Millisecond).String()
}

func formatPercent(ratio float64) string {
	if ratio <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", ratio*100)
}

func ratioOrZero(num, denom float64) float64 {
	if denom <= 0 {
		return 0
	}
	return num / denom
}
