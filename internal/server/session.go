package server

import (
	"fmt"

	"lrucached/internal/command"
	"lrucached/internal/logger"
	"lrucached/internal/metrics"
	"lrucached/internal/protocol"
	"lrucached/internal/storage"
)

// Session is the per-connection protocol state machine, independent of
// transport: the engine feeds it raw reads via Ingest and drains Output
// into the socket (or pipe). A Session is owned by exactly one engine
// worker and is not safe for concurrent use.
type Session struct {
	store storage.Backend
	m     *metrics.Metrics
	log   *logger.Logger

	parser  protocol.Parser
	buf     []byte // unconsumed input
	off     int    // parse offset into buf
	cmd     command.Command
	bodyLen int
	haveCmd bool

	out     []byte // pending output
	bailout bool   // close after output drains
}

// NewSession returns a session executing against store. m and log may be
// nil (the session tests pass a nil logger).
func NewSession(store storage.Backend, m *metrics.Metrics, log *logger.Logger) *Session {
	return &Session{store: store, m: m, log: log}
}

// Ingest appends freshly read bytes and advances the parse/execute loop as
// far as the input allows, appending replies to the pending output.
func (s *Session) Ingest(data []byte) {
	s.buf = append(s.buf, data...)
	for {
		if !s.haveCmd {
			if s.off >= len(s.buf) {
				break
			}
			consumed, complete, err := s.parser.Parse(s.buf[s.off:])
			s.off += consumed
			if err != nil {
				s.reject(err)
				break
			}
			if !complete {
				break
			}
			cmd, bodyLen, err := s.parser.Build()
			if err != nil {
				// Unreachable after complete; treat as a server bug.
				s.reject(err)
				break
			}
			s.cmd, s.bodyLen, s.haveCmd = cmd, bodyLen, true
		}

		if _, needsBody := s.cmd.(*command.Store); needsBody {
			need := s.bodyLen + 2 // body plus trailing CRLF
			if len(s.buf)-s.off < need {
				break // need more input
			}
			body := s.buf[s.off : s.off+s.bodyLen]
			tail := s.buf[s.off+s.bodyLen : s.off+need]
			s.off += need
			if tail[0] != '\r' || tail[1] != '\n' {
				if s.m != nil {
					s.m.ProtocolErrors.Add(1)
				}
				s.clientError("bad data chunk")
				s.finishCommand()
				break
			}
			s.execute(body)
		} else {
			s.execute(nil)
		}
		s.finishCommand()
	}
	s.compact()
}

// Output returns the pending reply bytes not yet written to the peer.
func (s *Session) Output() []byte { return s.out }

// DiscardOutput drops the first n pending output bytes (already written).
func (s *Session) DiscardOutput(n int) {
	s.out = s.out[n:]
	if len(s.out) == 0 {
		s.out = nil
	}
}

// Bailout reports whether the connection must close once output drains.
func (s *Session) Bailout() bool { return s.bailout }

// SetBailout marks the session for close-after-drain (peer closed, EOF).
func (s *Session) SetBailout() { s.bailout = true }

// Reset returns the session to its initial state, keeping the store
// handle. The FIFO handler uses it when the peer reconnects.
func (s *Session) Reset() {
	s.parser.Reset()
	s.buf, s.off = nil, 0
	s.cmd, s.bodyLen, s.haveCmd = nil, 0, false
	s.out = nil
	s.bailout = false
}

// execute runs the pending command, converting a panic into SERVER_ERROR:
// command failures must not take the worker down with them.
func (s *Session) execute(body []byte) {
	defer func() {
		if r := recover(); r != nil {
			if s.m != nil {
				s.m.ServerErrors.Add(1)
			}
			if s.log != nil {
				s.log.Errorf("execute", "%s: panic: %v", s.cmd.Name(), r)
			}
			s.out = append(s.out, fmt.Sprintf("SERVER_ERROR %v\r\n", r)...)
		}
	}()
	if reply := s.cmd.Execute(s.store, s.m, body); reply != nil {
		s.out = append(s.out, reply...)
	}
}

func (s *Session) finishCommand() {
	s.parser.Reset()
	s.cmd, s.bodyLen, s.haveCmd = nil, 0, false
}

// reject reports a parse error to the peer and marks the session for
// close-after-drain.
func (s *Session) reject(err error) {
	if s.m != nil {
		s.m.ProtocolErrors.Add(1)
	}
	if s.log != nil {
		s.log.Debugf("parse", "rejected: %v", err)
	}
	if protocol.IsUnknownCommand(err) {
		s.out = append(s.out, command.ReplyError...)
	} else {
		s.clientError(protocol.Reason(err))
	}
	s.parser.Reset()
	s.bailout = true
}

func (s *Session) clientError(reason string) {
	s.out = append(s.out, "CLIENT_ERROR "+reason+"\r\n"...)
	s.bailout = true
}

// compact reclaims consumed input. The buffer is reset in place when fully
// consumed and shifted when the dead prefix dominates, so a connection
// that trickles bytes does not grow its buffer forever.
func (s *Session) compact() {
	switch {
	case s.off == len(s.buf):
		s.buf, s.off = s.buf[:0], 0
	case s.off > 4096 && s.off > len(s.buf)/2:
		n := copy(s.buf, s.buf[s.off:])
		s.buf, s.off = s.buf[:n], 0
	}
}
