package output

import (
	"math"
	"strings"
	"sync"

	"github.com/pterm/pterm"
)

// TransferProgress is a single pterm bar counting acknowledged chunks.
type TransferProgress struct {
	title string
	total int

	mu   sync.Mutex
	bar  *pterm.ProgressbarPrinter
	done int
}

func NewTransferProgress(title string, totalChunks int64) *TransferProgress {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "sending"
	}
	return &TransferProgress{title: title, total: clampToInt(totalChunks)}
}

func (p *TransferProgress) Start() error {
	if p == nil {
		return nil
	}
	bar, err := pterm.DefaultProgressbar.
		WithTitle(p.title).
		WithTotal(p.total).
		WithShowCount(true).
		WithShowElapsedTime(true).
		WithRemoveWhenDone(true).
		Start()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.bar = bar
	p.mu.Unlock()
	return nil
}

// Update moves the bar to acked chunks; it matches xferclient.ProgressFunc.
func (p *TransferProgress) Update(acked, _ uint32) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	if delta := int(acked) - p.done; delta > 0 {
		p.bar.Add(delta)
		p.done = int(acked)
	}
}

func (p *TransferProgress) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	bar := p.bar
	p.bar = nil
	p.mu.Unlock()
	if bar != nil {
		_, _ = bar.Stop()
	}
}

func clampToInt(v int64) int {
	if v <= 0 {
		return 1
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}
