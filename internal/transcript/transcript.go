// Package transcript replays a recorded conversation, described in YAML,
// into capture files. It drives the same capture.Writer the daemon uses, so
// a transcript produces byte-for-byte what live interception would.
package transcript

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"firestige.xyz/synthcap/internal/core"
)

// Endpoint fields shared by defaults and entries.
type Endpoint struct {
	SrcAddr string `yaml:"src_addr"`
	DstAddr string `yaml:"dst_addr"`
	SrcPort uint16 `yaml:"src_port"`
	DstPort uint16 `yaml:"dst_port"`
}

// Entry is one intercepted write. At most one of Data and Hex is set;
// with neither the payload is empty.
type Entry struct {
	Endpoint `yaml:",inline"`

	File      string         `yaml:"file"`
	Direction core.Direction `yaml:"direction"`
	Data      *string        `yaml:"data"`
	Hex       string         `yaml:"hex"`
}

// Transcript is the decoded document.
type Transcript struct {
	// File is used by entries that name none.
	File     string   `yaml:"file"`
	Defaults Endpoint `yaml:"defaults"`
	Chunks   []Entry  `yaml:"chunks"`
}

// ChunkWriter is satisfied by *capture.Writer.
type ChunkWriter interface {
	Write(ctx context.Context, c core.Chunk) error
}

// Load reads and decodes a transcript file.
func Load(path string) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a transcript and checks every entry.
func Decode(r io.Reader) (*Transcript, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var t Transcript
	if err := dec.Decode(&t); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("transcript is empty")
		}
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if _, err := t.Resolve(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Resolve applies defaults and decodes payloads, in document order.
func (t *Transcript) Resolve() ([]core.Chunk, error) {
	chunks := make([]core.Chunk, 0, len(t.Chunks))
	for i, e := range t.Chunks {
		c, err := t.resolve(e)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func (t *Transcript) resolve(e Entry) (core.Chunk, error) {
	c := core.Chunk{
		File:      firstNonEmpty(e.File, t.File),
		Direction: e.Direction,
		SrcAddr:   firstNonEmpty(e.SrcAddr, t.Defaults.SrcAddr),
		DstAddr:   firstNonEmpty(e.DstAddr, t.Defaults.DstAddr),
		SrcPort:   firstNonZero(e.SrcPort, t.Defaults.SrcPort),
		DstPort:   firstNonZero(e.DstPort, t.Defaults.DstPort),
	}

	switch {
	case e.Data != nil && e.Hex != "":
		return c, errors.New("data and hex are mutually exclusive")
	case e.Data != nil:
		c.Payload = []byte(*e.Data)
	case e.Hex != "":
		p, err := hex.DecodeString(strings.Join(strings.Fields(e.Hex), ""))
		if err != nil {
			return c, fmt.Errorf("invalid hex payload: %w", err)
		}
		c.Payload = p
	}
	return c, nil
}

// Result counts what Replay wrote per capture file.
type Result struct {
	File   string
	Chunks int
	Bytes  int
}

// Replay writes the transcript through w. Chunks of one file are written in
// document order; different files are replayed concurrently, at most
// parallel at a time (0 means unlimited). The first error cancels the rest.
func (t *Transcript) Replay(ctx context.Context, w ChunkWriter, parallel int) ([]Result, error) {
	chunks, err := t.Resolve()
	if err != nil {
		return nil, err
	}

	var order []string
	byFile := make(map[string][]core.Chunk)
	for _, c := range chunks {
		if _, ok := byFile[c.File]; !ok {
			order = append(order, c.File)
		}
		byFile[c.File] = append(byFile[c.File], c)
	}

	results := make([]Result, len(order))
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, file := range order {
		g.Go(func() error {
			res := &results[i]
			res.File = file
			for _, c := range byFile[file] {
				if err := w.Write(ctx, c); err != nil {
					return fmt.Errorf("replay %s chunk %d: %w", file, res.Chunks, err)
				}
				res.Chunks++
				res.Bytes += len(c.Payload)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonZero(a, b uint16) uint16 {
	if a != 0 {
		return a
	}
	return b
}
