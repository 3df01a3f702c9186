// Package command implements the closed verb set of the cache protocol.
//
// Each command is a value that knows how to execute against a storage
// backend and format its reply bytes. The set is closed: storage verbs
// (set/add/replace/append/prepend), multi-key get, and delete. A command
// with the noreply flag still executes with full store semantics but
// returns no reply bytes.
package command

import (
	"bytes"
	"fmt"
	"strconv"

	"lrucached/internal/metrics"
	"lrucached/internal/storage"
)

// Wire reply tokens, CRLF included.
var (
	ReplyStored    = []byte("STORED\r\n")
	ReplyNotStored = []byte("NOT_STORED\r\n")
	ReplyDeleted   = []byte("DELETED\r\n")
	ReplyNotFound  = []byte("NOT_FOUND\r\n")
	ReplyEnd       = []byte("END\r\n")
	ReplyError     = []byte("ERROR\r\n")
	crlf           = []byte("\r\n")
)

// Command is one parsed protocol command. Execute runs it against the
// store and returns the reply bytes (CRLF-terminated), or nil when the
// command carries the noreply flag. m may be nil.
type Command interface {
	Name() string
	Execute(store storage.Backend, m *metrics.Metrics, body []byte) []byte
}

// Store is a set-family command: set, add, replace, append, prepend.
// The body is supplied at execution time by the connection, after it has
// consumed the declared byte count plus the trailing CRLF.
type Store struct {
	Verb    string
	Key     string
	Flags   uint32
	Exptime int64
	Bytes   int
	Quiet   bool
}

func (c *Store) Name() string { return c.Verb }

func (c *Store) Execute(store storage.Backend, m *metrics.Metrics, body []byte) []byte {
	if m != nil {
		m.CmdStore.Add(1)
	}
	stored := true
	switch c.Verb {
	case "set":
		store.Put(c.Key, body)
	case "add":
		stored = store.PutIfAbsent(c.Key, body)
	case "replace":
		stored = store.Set(c.Key, body)
	case "append":
		stored = c.concat(store, body, false)
	case "prepend":
		stored = c.concat(store, body, true)
	default:
		return serverError(fmt.Sprintf("unhandled storage verb %q", c.Verb), c.Quiet, m)
	}
	if c.Quiet {
		return nil
	}
	if stored {
		return ReplyStored
	}
	return ReplyNotStored
}

// concat implements append/prepend: read-modify-write of an existing
// entry. The read and the write are two store operations; under
// concurrent writers to the same key the last write wins, which matches
// the store's per-key linearisability and no more.
func (c *Store) concat(store storage.Backend, body []byte, front bool) bool {
	old, ok := store.Get(c.Key)
	if !ok {
		return false
	}
	merged := make([]byte, 0, len(old)+len(body))
	if front {
		merged = append(append(merged, body...), old...)
	} else {
		merged = append(append(merged, old...), body...)
	}
	return store.Set(c.Key, merged)
}

// Get is a multi-key retrieval command.
type Get struct {
	Keys []string
}

func (c *Get) Name() string { return "get" }

func (c *Get) Execute(store storage.Backend, m *metrics.Metrics, _ []byte) []byte {
	if m != nil {
		m.CmdGet.Add(1)
	}
	var buf bytes.Buffer
	for _, key := range c.Keys {
		value, ok := store.Get(key)
		if !ok {
			if m != nil {
				m.Misses.Add(1)
			}
			continue
		}
		if m != nil {
			m.Hits.Add(1)
		}
		buf.WriteString("VALUE ")
		buf.WriteString(key)
		buf.WriteString(" 0 ")
		buf.WriteString(strconv.Itoa(len(value)))
		buf.Write(crlf)
		buf.Write(value)
		buf.Write(crlf)
	}
	buf.Write(ReplyEnd)
	return buf.Bytes()
}

// Delete removes a single key.
type Delete struct {
	Key   string
	Quiet bool
}

func (c *Delete) Name() string { return "delete" }

func (c *Delete) Execute(store storage.Backend, m *metrics.Metrics, _ []byte) []byte {
	if m != nil {
		m.CmdDelete.Add(1)
	}
	removed := store.Delete(c.Key)
	if c.Quiet {
		return nil
	}
	if removed {
		return ReplyDeleted
	}
	return ReplyNotFound
}

// serverError formats a SERVER_ERROR reply; the connection survives it.
func serverError(msg string, quiet bool, m *metrics.Metrics) []byte {
	if m != nil {
		m.ServerErrors.Add(1)
	}
	if quiet {
		return nil
	}
	return []byte("SERVER_ERROR " + msg + "\r\n")
}
