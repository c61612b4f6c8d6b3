// Package wire implements the newline-delimited JSON framing protocol
// used on the daemon's unix socket (spec §4.1, §6). The rolling-buffer
// line reader is adapted from the teacher's cmd/ao/stream_parser.go
// streamLineReader, generalized from a one-shot io.Reader scan into a
// continuous feed(bytes) API that a connection handler calls as data
// arrives off the socket.
package wire

import (
	"bytes"
	"encoding/json"
	"log/slog"
)

// DefaultCumulativeByteGuard bounds how many unparsed bytes a connection
// may accumulate between successful dispatches before it is considered
// abusive. It is advisory — the caller decides what to do when it trips.
const DefaultCumulativeByteGuard = 1 << 20 // 1 MiB

// Consumer is invoked once per successfully parsed line.
type Consumer func(map[string]any)

// Framer parses a continuous byte stream into JSON objects separated by
// '\n'. It is not safe for concurrent use by multiple goroutines; each
// connection owns one Framer.
type Framer struct {
	buf      []byte
	consume  Consumer
	log      *slog.Logger
	since    int // bytes fed since the last successful dispatch
}

// New returns a Framer that invokes consume for each parsed line.
func New(consume Consumer, log *slog.Logger) *Framer {
	if log == nil {
		log = slog.Default()
	}
	return &Framer{consume: consume, log: log}
}

// Feed appends data to the rolling buffer and dispatches every complete
// line it finds. Parse failures are logged once and skipped; they never
// abort the stream.
func (f *Framer) Feed(data []byte) {
	f.buf = append(f.buf, data...)
	f.since += len(data)

	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(f.buf[:idx])
		f.buf = f.buf[idx+1:]

		if len(line) == 0 {
			continue
		}

		var msg map[string]any
		if err := json.Unmarshal(line, &msg); err != nil {
			f.log.Warn("wire: skipping unparsable line", "error", err)
			continue
		}
		f.since = 0
		f.consume(msg)
	}
}

// CumulativeBytes reports bytes fed since the last successful dispatch,
// for callers that want to enforce DefaultCumulativeByteGuard themselves.
func (f *Framer) CumulativeBytes() int { return f.since }

// Encode serializes v as compact JSON terminated by '\n'. Embedded
// newlines in string fields are JSON-escaped by encoding/json and never
// appear raw in the output.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
