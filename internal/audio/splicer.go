// Package audio provides interfaces and implementations for audio processing.
package audio

import "context"

// Splicer defines the interface for joining audio fragments into one file.
type Splicer interface {
	// Splice concatenates the sample data of inputs, in order, into a single
	// container written to output. The header of the first input is used as
	// the template for the output header.
	//
	// All inputs must share the same sample format. Returns ErrNoInputs when
	// inputs is empty and ErrFormat when an input is not a valid container.
	Splice(ctx context.Context, inputs []string, output string) error
}
