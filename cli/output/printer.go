package output

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/mixx99/file-transfer/pkg/receipt"
	"github.com/mixx99/file-transfer/pkg/xferclient"
	"github.com/mixx99/file-transfer/pkg/xferserver"
	"github.com/pterm/pterm"
)

// Printer renders transfer outcomes for the terminal. It is separate from
// the structured logger so results stay readable at any log level.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter() *Printer {
	return &Printer{w: os.Stdout}
}

func (p *Printer) WithWriter(w io.Writer) *Printer {
	p.w = w
	return p
}

func (p *Printer) Info(msg string, fields map[string]any) {
	p.printWith(pterm.Info, msg, fields)
}

func (p *Printer) Success(msg string, fields map[string]any) {
	p.printWith(pterm.Success, msg, fields)
}

func (p *Printer) Error(msg string, fields map[string]any) {
	p.printWith(pterm.Error, msg, fields)
}

func (p *Printer) Warn(msg string, fields map[string]any) {
	p.printWith(pterm.Warning, msg, fields)
}

// SendResult reports the client side of a transfer. res may be nil when the
// transfer never got as far as a session.
func (p *Printer) SendResult(res *xferclient.Result, err error) {
	if err != nil {
		fields := map[string]any{"error": err.Error()}
		if res != nil {
			fields["state"] = res.State.String()
			fields["chunks_acked"] = res.Chunks
		}
		p.Error("transfer failed", fields)
		return
	}
	p.Success("transfer complete", map[string]any{
		"transfer_id":     res.TransferID.String(),
		"bytes":           res.Bytes,
		"chunks":          res.Chunks,
		"retransmissions": res.Retransmissions,
		"digest":          receipt.FormatDigest(res.Digest),
		"elapsed":         roundElapsed(res.Elapsed),
	})
}

// ReceiveResult reports the server side. A digest mismatch or a missing
// Final is a warning, not a failure: the file is on disk either way.
func (p *Printer) ReceiveResult(res *xferserver.Result, err error) {
	if err != nil {
		fields := map[string]any{"error": err.Error()}
		if res != nil {
			fields["chunks_buffered"] = res.Chunks
			fields["session_id"] = res.SessionID.String()
		}
		p.Error("transfer aborted", fields)
		return
	}

	fields := map[string]any{
		"session_id": res.SessionID.String(),
		"path":       res.Path,
		"bytes":      res.Bytes,
		"chunks":     res.Chunks,
		"duplicates": res.Duplicates,
		"digest":     receipt.FormatDigest(res.ActualDigest),
		"elapsed":    roundElapsed(res.Elapsed),
	}
	if len(res.Gaps) > 0 {
		fields["missing_chunks"] = res.Gaps
	}
	if res.ReceiptPath != "" {
		fields["receipt"] = res.ReceiptPath
	}
	switch {
	case res.Verified:
		p.Success("file received and verified", fields)
		return
	case !res.FinalReceived:
		p.Warn("client left before sending its digest; file is unverified", fields)
		return
	}
	fields["expected_digest"] = receipt.FormatDigest(res.ExpectedDigest)
	p.Warn("file received but digest does not match", fields)
}

func (p *Printer) printWith(prefix pterm.PrefixPrinter, msg string, fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.w, prefix.Sprintln(msg))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(p.w, "  %s: %v\n", k, fields[k])
	}
}

func roundElapsed(d time.Duration) string {
	return d.Truncate(time.Millisecond).String()
}
