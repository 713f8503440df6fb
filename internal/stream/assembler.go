package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
)

// Fragment is one line of a newline-delimited generate response. Fields the server adds beyond these are
// ignored.
type Fragment struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// DefaultChunkSize is the read buffer size used when an Assembler is created without WithChunkSize.
const DefaultChunkSize = 4096

const errLoggerKey = "err"

// Assembler reassembles a chunked byte stream of JSON lines into the sequence of text fragments they carry.
// The zero value reads DefaultChunkSize bytes at a time and discards its logs.
type Assembler struct {
	chunkSize int
	logger    *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithChunkSize sets how many bytes are requested from the reader per read.
func WithChunkSize(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.chunkSize = n
		}
	}
}

// WithLogger sets the logger that receives malformed-line reports.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAssembler creates an Assembler. Without options it reads DefaultChunkSize bytes at a time and discards
// its logs.
func NewAssembler(opts ...Option) Assembler {
	a := Assembler{
		chunkSize: DefaultChunkSize,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&a)
	}
	a.logger = a.logger.With(slog.String("module", "stream"))
	return a
}

// Consume is a shorthand for NewAssembler(WithLogger(logger)).Consume(r).
func Consume(r io.Reader, logger *slog.Logger) iter.Seq2[string, error] {
	return NewAssembler(WithLogger(logger)).Consume(r)
}

// Consume returns an iterator over the non-empty response texts found in r, in the order they appear in
// the stream. The next chunk is only read after every fragment of the previous one has been yielded, and
// nothing more is read once the caller stops iterating.
//
// Lines that are not valid JSON are logged and skipped. A line left unterminated when r reaches io.EOF is
// still parsed. Any other read error is yielded once, with an empty text, and ends the sequence; the
// partial line buffered at that point is dropped. Consume never closes r.
func (a Assembler) Consume(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if a.chunkSize <= 0 {
			a.chunkSize = DefaultChunkSize
		}
		if a.logger == nil {
			a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		}

		var (
			dec     Decoder
			pending strings.Builder
			chunk   = make([]byte, a.chunkSize)
		)

		for {
			n, err := r.Read(chunk)
			if n > 0 {
				pending.WriteString(dec.Decode(chunk[:n]))

				buffered := pending.String()
				last := strings.LastIndexByte(buffered, '\n')
				if last >= 0 {
					pending.Reset()
					pending.WriteString(buffered[last+1:])
					for _, line := range strings.Split(buffered[:last], "\n") {
						if !a.emit(line, yield) {
							return
						}
					}
				}
			}

			if errors.Is(err, io.EOF) {
				pending.WriteString(dec.Flush())
				a.emit(pending.String(), yield)
				return
			}
			if err != nil {
				yield("", fmt.Errorf("error reading stream: %w", err))
				return
			}
		}
	}
}

// emit parses a single line and yields its text if it has any. It reports false when the caller asked to
// stop.
func (a Assembler) emit(line string, yield func(string, error) bool) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}

	var f Fragment
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		a.logger.Warn("Skipping malformed fragment line",
			slog.String("line", line),
			slog.String(errLoggerKey, err.Error()))
		return true
	}

	if f.Response == "" {
		return true
	}
	return yield(f.Response, nil)
}
