// Package frame splits byte streams into frames delimited by a length prefix.
package frame

import "encoding/binary"

// Option is a function that will set up option.
type Option func(opts *Options)

// Options configure the frame decoders and prependers.
type Options struct {
	// Order is the byte order of fixed-size length fields, big-endian by default.
	Order binary.ByteOrder

	// LengthAdjustment is added to the value of the length field to get the number of bytes
	// that follow the field.
	LengthAdjustment int

	// InitialBytesToStrip is the number of leading bytes removed from each decoded frame.
	InitialBytesToStrip int

	// LengthIncludesLengthField makes a prepender count the length field itself.
	LengthIncludesLengthField bool
}

func loadOptions(options ...Option) *Options {
	opts := &Options{Order: binary.BigEndian}
	for _, option := range options {
		option(opts)
	}
	return opts
}

// WithByteOrder sets up the byte order of the length field.
func WithByteOrder(order binary.ByteOrder) Option {
	return func(opts *Options) {
		opts.Order = order
	}
}

// WithLengthAdjustment sets up the compensation added to the length field value.
func WithLengthAdjustment(adjustment int) Option {
	return func(opts *Options) {
		opts.LengthAdjustment = adjustment
	}
}

// WithInitialBytesToStrip sets up how many leading bytes are removed from decoded frames.
func WithInitialBytesToStrip(n int) Option {
	return func(opts *Options) {
		opts.InitialBytesToStrip = n
	}
}

// WithLengthIncludesLengthField makes the prepended length count the length field.
func WithLengthIncludesLengthField(include bool) Option {
	return func(opts *Options) {
		opts.LengthIncludesLengthField = include
	}
}
