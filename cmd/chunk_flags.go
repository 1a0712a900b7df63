package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"firestige.xyz/synthcap/internal/core"
)

// chunkFlags describes one chunk on the command line; shared by write and send.
type chunkFlags struct {
	file      string
	direction string
	data      string
	hexData   string
	srcAddr   string
	dstAddr   string
	srcPort   uint16
	dstPort   uint16
}

func (f *chunkFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.file, "file", "f", "", "capture file identifier, relative to capture.output_dir (required)")
	fs.StringVarP(&f.direction, "direction", "d", "sent", "sent|received (also out|in)")
	fs.StringVar(&f.data, "data", "", "payload as text")
	fs.StringVar(&f.hexData, "hex", "", "payload as hex, whitespace ignored")
	fs.StringVar(&f.srcAddr, "src-addr", "", "source IPv4 address (capture.address_mode=caller)")
	fs.StringVar(&f.dstAddr, "dst-addr", "", "destination IPv4 address (capture.address_mode=caller)")
	fs.Uint16Var(&f.srcPort, "src-port", 0, "source TCP port")
	fs.Uint16Var(&f.dstPort, "dst-port", 0, "destination TCP port")
}

// chunk builds the chunk; without --data or --hex the payload is read from stdin.
func (f *chunkFlags) chunk(fs *pflag.FlagSet, stdin io.Reader) (core.Chunk, error) {
	dir, err := core.ParseDirection(f.direction)
	if err != nil {
		return core.Chunk{}, err
	}
	payload, err := readPayload(fs.Changed("data"), f.data, f.hexData, stdin)
	if err != nil {
		return core.Chunk{}, err
	}
	c := core.Chunk{
		File:      f.file,
		Payload:   payload,
		Direction: dir,
		SrcAddr:   f.srcAddr,
		DstAddr:   f.dstAddr,
		SrcPort:   f.srcPort,
		DstPort:   f.dstPort,
	}
	return c, c.Validate()
}

func readPayload(dataSet bool, data, hexData string, stdin io.Reader) ([]byte, error) {
	switch {
	case dataSet && hexData != "":
		return nil, errors.New("--data and --hex are mutually exclusive")
	case dataSet:
		return []byte(data), nil
	case hexData != "":
		p, err := hex.DecodeString(strings.Join(strings.Fields(hexData), ""))
		if err != nil {
			return nil, fmt.Errorf("invalid --hex payload: %w", err)
		}
		return p, nil
	default:
		// One byte over the limit so Validate reports the oversize.
		p, err := io.ReadAll(io.LimitReader(stdin, core.MaxPayload+1))
		if err != nil {
			return nil, fmt.Errorf("read payload from stdin: %w", err)
		}
		return p, nil
	}
}
