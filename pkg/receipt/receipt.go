package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Receipt is the record a server keeps for one completed transfer.
type Receipt struct {
	SessionID      string    `toml:"session_id" yaml:"session_id" json:"session_id"`
	File           string    `toml:"file" yaml:"file" json:"file"`
	Path           string    `toml:"path" yaml:"path" json:"path"`
	Peer           string    `toml:"peer" yaml:"peer" json:"peer"`
	Bytes          int64     `toml:"bytes" yaml:"bytes" json:"bytes"`
	Chunks         int       `toml:"chunks" yaml:"chunks" json:"chunks"`
	Duplicates     int       `toml:"duplicates" yaml:"duplicates" json:"duplicates"`
	Gaps           []uint32  `toml:"gaps" yaml:"gaps" json:"gaps"`
	ExpectedDigest string    `toml:"expected_digest" yaml:"expected_digest" json:"expected_digest"`
	ActualDigest   string    `toml:"actual_digest" yaml:"actual_digest" json:"actual_digest"`
	FinalReceived  bool      `toml:"final_received" yaml:"final_received" json:"final_received"`
	Verified       bool      `toml:"verified" yaml:"verified" json:"verified"`
	StartedAt      time.Time `toml:"started_at" yaml:"started_at" json:"started_at"`
	CompletedAt    time.Time `toml:"completed_at" yaml:"completed_at" json:"completed_at"`
	ElapsedMs      int64     `toml:"elapsed_ms" yaml:"elapsed_ms" json:"elapsed_ms"`
}

type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var ErrUnknownFormat = errors.New("unknown receipt format")

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTOML, FormatYAML, FormatJSON:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

func FormatDigest(d uint32) string {
	return fmt.Sprintf("%08x", d)
}

// Write stores r as <dir>/<session_id>.toml and returns the file path.
func Write(dir string, r Receipt) (string, error) {
	if r.SessionID == "" {
		return "", errors.New("receipt must have a session id")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(r); err != nil {
		return "", fmt.Errorf("encode receipt: %w", err)
	}
	path := filepath.Join(dir, r.SessionID+".toml")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to save receipt: %w", err)
	}
	return path, nil
}

func Load(path string) (*Receipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := toml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode receipt %s: %w", path, err)
	}
	return &r, nil
}

// Render writes r to w in the requested format.
func Render(w io.Writer, r *Receipt, f Format) error {
	switch f {
	case FormatTOML:
		return toml.NewEncoder(w).Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}
