package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tailored-agentic-units/relay/core/protocol"
	"github.com/tailored-agentic-units/relay/relay"
)

const prompt = "Enter your message: "

// LineSource turns lines of text into outbound messages. It implements
// relay.Source: the exit token yields relay.ErrSentinel and the end of
// input yields io.EOF. Neither produces a message.
//
// Lines are read ahead on a separate goroutine so Receive can give up when
// its context ends. That goroutine stays blocked on the reader until the
// next line or the end of input.
type LineSource struct {
	sender  string
	scanner *bufio.Scanner
	prompt  io.Writer
	lines   chan line
	stop    chan struct{}
	once    sync.Once
	started bool
}

type line struct {
	text string
	err  error
}

// NewLineSource reads lines from r and labels each message with sender.
// When prompt is non-nil a prompt is written to it before every line.
func NewLineSource(r io.Reader, sender string, prompt io.Writer) *LineSource {
	return &LineSource{
		sender:  sender,
		scanner: bufio.NewScanner(r),
		prompt:  prompt,
		lines:   make(chan line),
		stop:    make(chan struct{}),
	}
}

func (s *LineSource) Receive(ctx context.Context) (protocol.Message, error) {
	if !s.started {
		s.started = true
		go s.scan()
	}

	select {
	case l, ok := <-s.lines:
		if !ok {
			return protocol.Message{}, io.EOF
		}
		if l.err != nil {
			return protocol.Message{}, l.err
		}
		if protocol.IsExit(l.text) {
			return protocol.Message{}, relay.ErrSentinel
		}
		return protocol.NewMessage(strings.TrimSpace(l.text), s.sender), nil
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func (s *LineSource) scan() {
	defer close(s.lines)

	for {
		if s.prompt != nil {
			fmt.Fprintln(s.prompt, prompt)
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				s.deliver(line{err: fmt.Errorf("read input: %w", err)})
			}
			return
		}

		text := s.scanner.Text()
		if !s.deliver(line{text: text}) || protocol.IsExit(text) {
			return
		}
	}
}

func (s *LineSource) deliver(l line) bool {
	select {
	case s.lines <- l:
		return true
	case <-s.stop:
		return false
	}
}

// Close releases the read-ahead goroutine once its pending read returns.
func (s *LineSource) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
