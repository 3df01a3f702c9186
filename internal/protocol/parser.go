// Package protocol implements a resumable parser for the memcached text
// protocol subset served by this cache.
//
// The parser is a byte-driven state machine that tolerates arbitrary input
// splits: feed it whatever a socket read produced and it advances as far
// as it can. It never reads from sockets itself. One command line is
// recognised per Parse/Build cycle; the caller consumes the body (for
// set-family commands) from its own buffer and calls Reset before the next
// command.
//
// Recognised syntaxes:
//
//	set|add|replace|append|prepend <key> <flags> <exptime> <bytes>[ noreply]\r\n<body>\r\n
//	get <key>[ <key>...]\r\n
//	delete <key>[ noreply]\r\n
//
// Separators are single ASCII spaces and lines end with CRLF; numeric
// fields are non-negative decimal. Malformed input yields a coded error.
// For a complete line that fails validation, the bytes-consumed count stops
// just past its LF, so the next Parse starts at the following line. For a
// framing violation (bare LF, CR not followed by LF) or an over-long line,
// it stops just past the offending byte; the rest of that line is not
// skipped.
package protocol

import (
	"strconv"
	"strings"

	"github.com/agilira/go-errors"

	"lrucached/internal/command"
)

const (
	// maxLineLen bounds the command line; a multi-key get of ~30 full-size
	// keys still fits.
	maxLineLen = 8192

	// maxKeyLen matches the memcached limit.
	maxKeyLen = 250

	// maxBodyLen bounds a single value, matching memcached's default.
	maxBodyLen = 1 << 20
)

type state int

const (
	stateHeader state = iota // scanning the verb token
	stateArgs                // scanning arguments up to CRLF
	stateReady               // command built, awaiting body consumption
)

// Parser is the resumable command-line parser. The zero value is ready.
type Parser struct {
	state state
	line  []byte // current line, CR/LF excluded
	sawCR bool

	cmd     command.Command
	bodyLen int
}

// Parse feeds bytes to the state machine. It returns how many bytes were
// consumed and whether a complete command header has been recognised. On a
// malformed line it returns a coded error with consumption stopped just
// past that line's LF (or just past the offending byte for framing
// violations and over-long lines).
// Once complete, further Parse calls consume nothing until Reset.
func (p *Parser) Parse(data []byte) (int, bool, error) {
	if p.state == stateReady {
		return 0, true, nil
	}
	for i := 0; i < len(data); i++ {
		b := data[i]
		if p.sawCR {
			if b != '\n' {
				p.resetLine()
				return i + 1, false, errors.NewWithField(ErrCodeBadFraming,
					"CR not followed by LF", "offset", strconv.Itoa(i))
			}
			cmd, bodyLen, err := p.buildLine()
			p.resetLine()
			if err != nil {
				return i + 1, false, err
			}
			p.cmd, p.bodyLen = cmd, bodyLen
			p.state = stateReady
			return i + 1, true, nil
		}
		switch b {
		case '\r':
			p.sawCR = true
		case '\n':
			p.resetLine()
			return i + 1, false, errors.NewWithField(ErrCodeBadFraming,
				"LF without preceding CR", "offset", strconv.Itoa(i))
		case ' ':
			if p.state == stateHeader {
				p.state = stateArgs
			}
			p.line = append(p.line, b)
		default:
			p.line = append(p.line, b)
			if len(p.line) > maxLineLen {
				p.resetLine()
				return i + 1, false, errors.NewWithField(ErrCodeLineTooLong,
					"command line exceeds limit", "limit", strconv.Itoa(maxLineLen))
			}
		}
	}
	return len(data), false, nil
}

// Build returns the recognised command and its body length in bytes (0 for
// commands without a body). It is only valid after Parse reported complete;
// the caller must consume body length + 2 bytes (body plus CRLF) for
// set-family commands before executing, and call Reset afterwards.
func (p *Parser) Build() (command.Command, int, error) {
	if p.state != stateReady {
		return nil, 0, errors.NewWithField(ErrCodeNotReady,
			"Build called before a complete command was parsed", "state", strconv.Itoa(int(p.state)))
	}
	return p.cmd, p.bodyLen, nil
}

// Reset returns the parser to its initial state.
func (p *Parser) Reset() {
	p.resetLine()
	p.cmd = nil
	p.bodyLen = 0
}

func (p *Parser) resetLine() {
	p.state = stateHeader
	p.line = p.line[:0]
	p.sawCR = false
}

// buildLine validates the accumulated line and constructs the command.
func (p *Parser) buildLine() (command.Command, int, error) {
	if len(p.line) == 0 {
		return nil, 0, errors.NewWithField(ErrCodeUnknownCommand,
			"empty command line", "line", "")
	}
	fields := strings.Split(string(p.line), " ")
	for _, f := range fields {
		if f == "" {
			return nil, 0, errors.NewWithField(ErrCodeBadArguments,
				"empty token: separators must be single spaces", "line", string(p.line))
		}
	}
	verb, args := fields[0], fields[1:]
	switch verb {
	case "set", "add", "replace", "append", "prepend":
		return buildStore(verb, args)
	case "get":
		return buildGet(args)
	case "delete":
		return buildDelete(args)
	default:
		return nil, 0, errors.NewWithField(ErrCodeUnknownCommand,
			"unrecognised verb", "verb", verb)
	}
}

func buildStore(verb string, args []string) (command.Command, int, error) {
	quiet := false
	if n := len(args); n > 0 && args[n-1] == "noreply" {
		quiet = true
		args = args[:n-1]
	}
	if len(args) != 4 {
		return nil, 0, errors.NewWithContext(ErrCodeBadArguments,
			"storage command takes <key> <flags> <exptime> <bytes>", map[string]interface{}{
				"verb": verb,
				"got":  len(args),
			})
	}
	if err := checkKey(args[0]); err != nil {
		return nil, 0, err
	}
	flags, err := parseUint(args[1], 1<<32-1)
	if err != nil {
		return nil, 0, err
	}
	exptime, err := parseUint(args[2], 1<<62)
	if err != nil {
		return nil, 0, err
	}
	size, err := parseUint(args[3], 1<<62)
	if err != nil {
		return nil, 0, err
	}
	if size > maxBodyLen {
		return nil, 0, errors.NewWithField(ErrCodeBodyTooLarge,
			"declared body exceeds the value limit", "bytes", strconv.FormatInt(size, 10))
	}
	cmd := &command.Store{
		Verb:    verb,
		Key:     args[0],
		Flags:   uint32(flags),
		Exptime: exptime,
		Bytes:   int(size),
		Quiet:   quiet,
	}
	return cmd, int(size), nil
}

func buildGet(args []string) (command.Command, int, error) {
	if len(args) == 0 {
		return nil, 0, errors.NewWithField(ErrCodeBadArguments,
			"get takes at least one key", "got", "0")
	}
	for _, key := range args {
		if err := checkKey(key); err != nil {
			return nil, 0, err
		}
	}
	keys := make([]string, len(args))
	copy(keys, args)
	return &command.Get{Keys: keys}, 0, nil
}

func buildDelete(args []string) (command.Command, int, error) {
	quiet := false
	if n := len(args); n > 0 && args[n-1] == "noreply" {
		quiet = true
		args = args[:n-1]
	}
	if len(args) != 1 {
		return nil, 0, errors.NewWithField(ErrCodeBadArguments,
			"delete takes exactly one key", "got", strconv.Itoa(len(args)))
	}
	if err := checkKey(args[0]); err != nil {
		return nil, 0, err
	}
	return &command.Delete{Key: args[0], Quiet: quiet}, 0, nil
}

func checkKey(key string) error {
	if len(key) > maxKeyLen {
		return errors.NewWithField(ErrCodeBadKey,
			"key exceeds the length limit", "len", strconv.Itoa(len(key)))
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return errors.NewWithField(ErrCodeBadKey,
				"key contains control or whitespace bytes", "key", key)
		}
	}
	return nil
}

// parseUint parses a strict non-negative decimal: digits only, no sign,
// no leading plus, bounded by max.
func parseUint(s string, max int64) (int64, error) {
	if s == "" {
		return 0, errors.NewWithField(ErrCodeBadNumber, "empty numeric field", "field", s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, errors.NewWithField(ErrCodeBadNumber,
				"numeric field must be non-negative decimal", "field", s)
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v > max {
		return 0, errors.NewWithField(ErrCodeBadNumber,
			"numeric field out of range", "field", s)
	}
	return v, nil
}
