package provider

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
)

type StreamState int

const (
	StreamIdle StreamState = iota
	StreamReceiving
	StreamComplete
	StreamFailed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamReceiving:
		return "receiving"
	case StreamComplete:
		return "complete"
	case StreamFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ChunkDecoder extracts the content delta from one SSE data payload.
// done signals a provider-specific end-of-stream marker carried inside the
// payload itself.
type ChunkDecoder func(data []byte) (delta string, done bool, err error)

// Stream assembles a chunked model response from a line-oriented SSE body.
// Recv yields deltas one at a time while the full text accumulates; a
// malformed chunk payload is logged and skipped, never fatal.
type Stream struct {
	provider string
	model    string
	body     io.ReadCloser
	scanner  *bufio.Scanner
	decode   ChunkDecoder

	state    StreamState
	finished bool
	err      error
	text     strings.Builder
}

func NewStream(provider, model string, body io.ReadCloser, decode ChunkDecoder) *Stream {
	sc := bufio.NewScanner(body)
	// Some providers send chunks well past the default token size.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{provider: provider, model: model, body: body, scanner: sc, decode: decode}
}

// Recv returns the next content delta. io.EOF signals a completed stream;
// any other error means the stream failed mid-flight and cannot continue.
func (s *Stream) Recv() (string, error) {
	switch s.state {
	case StreamComplete:
		return "", io.EOF
	case StreamFailed:
		return "", s.err
	}
	if s.finished {
		return "", s.complete()
	}

	for s.scanner.Scan() {
		s.state = StreamReceiving
		line := s.scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			return "", s.complete()
		}

		delta, done, err := s.decode([]byte(data))
		if err != nil {
			slog.Debug("skipping malformed stream chunk", "provider", s.provider, "error", err)
			continue
		}
		if delta == "" {
			if done {
				return "", s.complete()
			}
			continue
		}

		s.text.WriteString(delta)
		s.finished = done
		return delta, nil
	}

	if err := s.scanner.Err(); err != nil {
		s.state = StreamFailed
		if Canceled(err) {
			s.err = err
		} else {
			s.err = netError(s.provider, s.model, err)
		}
		s.body.Close()
		return "", s.err
	}
	return "", s.complete()
}

func (s *Stream) complete() error {
	s.state = StreamComplete
	s.body.Close()
	return io.EOF
}

// Text returns everything accumulated so far.
func (s *Stream) Text() string { return s.text.String() }

func (s *Stream) State() StreamState { return s.state }

// Err returns the failure that ended the stream, nil unless State is
// StreamFailed.
func (s *Stream) Err() error { return s.err }

func (s *Stream) Provider() string { return s.provider }

// Close releases the underlying body. Safe to call after Recv has already
// finished the stream.
func (s *Stream) Close() error { return s.body.Close() }
