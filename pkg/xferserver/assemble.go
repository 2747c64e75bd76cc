package xferserver

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mixx99/file-transfer/internal"
	"github.com/mixx99/file-transfer/pkg/checksum"
	"github.com/mixx99/file-transfer/pkg/receipt"
)

// assemble writes the buffered chunks in sequence order to the destination
// directory and checks the result against the digest from Final. Both
// listeners have stopped by the time it runs. Without a Final there is
// nothing to compare against and the file is reported unverified.
func (s *session) assemble() (*Result, error) {
	s.mu.Lock()
	filename, expected, duplicates, finalSeen := s.filename, s.expected, s.duplicates, s.finalSeen
	s.mu.Unlock()

	gaps := s.buf.Gaps()
	if len(gaps) > 0 {
		internal.Warn("chunk sequence has gaps", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldSeq:     gaps,
		})
	}
	count := s.buf.Len()
	chunks := s.buf.DrainOrdered()

	if err := os.MkdirAll(s.opts.Directory, 0o755); err != nil {
		return s.partialResult(), fmt.Errorf("create %s: %w", s.opts.Directory, err)
	}
	path := filepath.Join(s.opts.Directory, filename)
	written, err := writeChunks(path, chunks)
	if err != nil {
		return s.partialResult(), err
	}
	s.opts.Metrics.ObserveDiskWrite(int(written))

	actual, err := checksum.File(path)
	if err != nil {
		return s.partialResult(), fmt.Errorf("digest: %w", err)
	}

	res := &Result{
		SessionID:      s.id,
		Peer:           s.conn.RemoteAddr().String(),
		Path:           path,
		Bytes:          written,
		Chunks:         count,
		Duplicates:     duplicates,
		Gaps:           gaps,
		ExpectedDigest: expected,
		ActualDigest:   actual,
		FinalReceived:  finalSeen,
		Verified:       finalSeen && actual == expected,
		Elapsed:        time.Since(s.started),
	}

	switch {
	case !finalSeen:
		internal.Warn("file assembled without final digest", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldPath:    path,
			internal.FieldBytes:   written,
			internal.FieldDigest:  receipt.FormatDigest(actual),
		})
	case res.Verified:
		internal.Info("file received", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldPath:    path,
			internal.FieldBytes:   written,
			internal.FieldDigest:  receipt.FormatDigest(actual),
		})
	default:
		internal.Error("file received with bad digest", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldPath:    path,
			internal.FieldDigest:  receipt.FormatDigest(actual),
			internal.FieldError: fmt.Sprintf("%v: expected %s", ErrIntegrityMismatch,
				receipt.FormatDigest(expected)),
		})
	}

	if s.opts.ReceiptDir != "" {
		s.writeReceipt(res, filename)
	}
	return res, nil
}

func writeChunks(path string, chunks [][]byte) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	var written int64
	for _, c := range chunks {
		n, err := w.Write(c)
		written += int64(n)
		if err != nil {
			f.Close()
			return written, fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return written, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return written, fmt.Errorf("close %s: %w", path, err)
	}
	return written, nil
}

// writeReceipt failures are logged; the transfer itself already succeeded.
func (s *session) writeReceipt(res *Result, filename string) {
	gaps := res.Gaps
	if gaps == nil {
		gaps = []uint32{}
	}
	path, err := receipt.Write(s.opts.ReceiptDir, receipt.Receipt{
		SessionID:      res.SessionID.String(),
		File:           filename,
		Path:           res.Path,
		Peer:           res.Peer,
		Bytes:          res.Bytes,
		Chunks:         res.Chunks,
		Duplicates:     res.Duplicates,
		Gaps:           gaps,
		ExpectedDigest: receipt.FormatDigest(res.ExpectedDigest),
		ActualDigest:   receipt.FormatDigest(res.ActualDigest),
		FinalReceived:  res.FinalReceived,
		Verified:       res.Verified,
		StartedAt:      s.started.UTC(),
		CompletedAt:    s.started.Add(res.Elapsed).UTC(),
		ElapsedMs:      res.Elapsed.Milliseconds(),
	})
	if err != nil {
		internal.Warn("receipt not written", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldError:   err.Error(),
		})
		return
	}
	res.ReceiptPath = path
	internal.Info("receipt written", internal.Fields{
		internal.ReceiptPath: path,
	})
}
