// Command lrucached-cli is an interactive client for the cache server.
//
// It keeps a readline history, completes verbs, and handles the protocol's
// two-line shape for storage commands: type the command line, then the
// value on the data> prompt.
//
// Usage:
//
//	./lrucached-cli --addr localhost:8080
//	cache> set greeting 0 0 5
//	data> hello
//	STORED
//	cache> get greeting
//	VALUE greeting 0 5
//	hello
//	END
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"
)

var verbs = []string{"set", "add", "replace", "append", "prepend", "get", "delete", "quit"}

func main() {
	addr := pflag.String("addr", "localhost:8080", "server address")
	pflag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()
	reply := bufio.NewReader(conn)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) (c []string) {
		for _, v := range verbs {
			if strings.HasPrefix(v, strings.ToLower(prefix)) {
				c = append(c, v)
			}
		}
		return
	})

	fmt.Printf("connected to %s\n", *addr)
	for {
		input, err := line.Prompt("cache> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "read: %v\n", err)
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if input == "quit" || input == "exit" {
			return
		}

		payload := input + "\r\n"
		noreply := strings.HasSuffix(input, " noreply")
		if isStorageVerb(input) {
			data, err := line.Prompt("data> ")
			if err == liner.ErrPromptAborted || err == io.EOF {
				return
			}
			payload = rewriteBytesField(input, len(data)) + "\r\n" + data + "\r\n"
		}
		if _, err := conn.Write([]byte(payload)); err != nil {
			fmt.Fprintf(os.Stderr, "write: %v\n", err)
			return
		}
		if noreply {
			continue
		}
		if err := printReply(reply); err != nil {
			fmt.Fprintf(os.Stderr, "reply: %v\n", err)
			return
		}
	}
}

func isStorageVerb(input string) bool {
	verb := strings.SplitN(input, " ", 2)[0]
	switch verb {
	case "set", "add", "replace", "append", "prepend":
		return true
	}
	return false
}

// rewriteBytesField replaces the <bytes> argument with the actual data
// length, so users never have to count bytes themselves.
func rewriteBytesField(input string, size int) string {
	fields := strings.Split(input, " ")
	idx := len(fields) - 1
	if fields[idx] == "noreply" {
		idx--
	}
	if idx >= 4 {
		fields[idx] = strconv.Itoa(size)
	}
	return strings.Join(fields, " ")
}

// printReply echoes one server reply: a single status line, or for get, a
// VALUE sequence terminated by END.
func printReply(r *bufio.Reader) error {
	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		text := strings.TrimRight(raw, "\r\n")
		fmt.Println(text)
		if !strings.HasPrefix(text, "VALUE ") {
			return nil // END or a single status line
		}
		// VALUE <key> <flags> <len>: read exactly len bytes plus CRLF.
		fields := strings.Fields(text)
		if len(fields) != 4 {
			return fmt.Errorf("malformed VALUE line: %q", text)
		}
		size, err := strconv.Atoi(fields[3])
		if err != nil {
			return fmt.Errorf("malformed VALUE length: %q", fields[3])
		}
		body := make([]byte, size+2)
		if _, err := io.ReadFull(r, body); err != nil {
			return err
		}
		fmt.Println(strings.TrimRight(string(body), "\r\n"))
	}
}
