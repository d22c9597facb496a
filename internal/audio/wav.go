package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Static errors for container parsing and splicing.
var (
	// ErrFormat is returned when a file is not a RIFF/WAVE container or has no data chunk.
	ErrFormat = errors.New("audio: invalid WAV container")
	// ErrNoInputs is returned when Splice is called without input files.
	ErrNoInputs = errors.New("audio: no input files")
	// ErrFormatMismatch is returned when inputs do not share the same fmt chunk.
	ErrFormatMismatch = errors.New("audio: inputs have different sample formats")
)

const (
	riffHeaderSize  = 12 // "RIFF" + size + "WAVE"
	chunkHeaderSize = 8  // id + size
	riffSizeOffset  = 4
)

// Container is a parsed single-track WAV file.
//
// Header holds every byte before the sample data, including the "data"
// chunk id and size field, and is copied verbatim when the container is
// written back. Data owns the raw sample bytes.
type Container struct {
	Header []byte
	Data   []byte

	// format is the payload of the "fmt " chunk, used to compare containers.
	format []byte
}

// Parse reads a RIFF/WAVE container from buf.
//
// Chunks are walked from the end of the RIFF header until the "data" chunk
// is found; odd-sized chunks are followed by one pad byte. A data chunk
// whose declared size runs past the end of buf (as written by streaming
// encoders) is truncated to the bytes actually present.
func Parse(buf []byte) (*Container, error) {
	if len(buf) < riffHeaderSize || string(buf[0:4]) != "RIFF" || string(buf[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrFormat)
	}

	var format []byte
	offset := riffHeaderSize
	for offset+chunkHeaderSize <= len(buf) {
		id := string(buf[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(buf[offset+4 : offset+8]))
		start := offset + chunkHeaderSize

		if id == "data" {
			end := start + size
			if size < 0 || end > len(buf) {
				end = len(buf)
			}
			return &Container{
				Header: bytes.Clone(buf[:start]),
				Data:   bytes.Clone(buf[start:end]),
				format: format,
			}, nil
		}

		if id == "fmt " && start+size <= len(buf) {
			format = bytes.Clone(buf[start : start+size])
		}
		offset = start + size + size%2
	}

	return nil, fmt.Errorf("%w: data chunk not found", ErrFormat)
}

// Bytes serializes the container, patching the RIFF size and data size fields.
func (c *Container) Bytes() []byte {
	out := make([]byte, 0, len(c.Header)+len(c.Data))
	out = append(out, c.Header...)
	out = append(out, c.Data...)

	binary.LittleEndian.PutUint32(out[riffSizeOffset:], uint32(len(out)-8))
	binary.LittleEndian.PutUint32(out[len(c.Header)-4:], uint32(len(c.Data)))
	return out
}

// Concat joins the sample data of containers in order under the header of
// the first one. Every container must carry the same fmt chunk.
func Concat(containers []*Container) (*Container, error) {
	if len(containers) == 0 {
		return nil, ErrNoInputs
	}

	first := containers[0]
	total := 0
	for i, c := range containers {
		if !bytes.Equal(c.format, first.format) {
			return nil, fmt.Errorf("%w: input %d differs from input 0", ErrFormatMismatch, i)
		}
		total += len(c.Data)
	}

	data := make([]byte, 0, total)
	for _, c := range containers {
		data = append(data, c.Data...)
	}

	return &Container{
		Header: bytes.Clone(first.Header),
		Data:   data,
		format: first.format,
	}, nil
}

// Compile-time check that WAVSplicer implements Splicer.
var _ Splicer = (*WAVSplicer)(nil)

// WAVSplicer implements Splicer for uncompressed PCM WAV files by
// rewriting the container directly, without an external encoder.
type WAVSplicer struct{}

// NewWAVSplicer creates a new WAVSplicer.
func NewWAVSplicer() *WAVSplicer {
	return &WAVSplicer{}
}

// Splice implements Splicer.Splice.
func (s *WAVSplicer) Splice(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return ErrNoInputs
	}

	containers := make([]*Container, 0, len(inputs))
	for _, path := range inputs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}

		buf, err := os.ReadFile(path) // #nosec G304 - paths come from the synthesizer's own temp dir
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		c, err := Parse(buf)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		containers = append(containers, c)
	}

	merged, err := Concat(containers)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(output), 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(output, merged.Bytes(), 0600); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	return nil
}
