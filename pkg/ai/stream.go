package ai

import (
	"bufio"
	"io"
	"strings"
)

const maxStreamLine = 1 << 20

// readLines calls fn for each non-empty line of r.
func readLines(r io.Reader, fn func(line string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// readSSE calls fn with the payload of every "data:" line of a server-sent event stream.
func readSSE(r io.Reader, fn func(data string) error) error {
	return readLines(r, func(line string) error {
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			return nil
		}
		return fn(strings.TrimSpace(data))
	})
}

// collector accumulates streamed chunks while forwarding them.
type collector struct {
	sb strings.Builder
	fn StreamFunc
}

func (c *collector) add(chunk string) error {
	if chunk == "" {
		return nil
	}
	c.sb.WriteString(chunk)
	if c.fn == nil {
		return nil
	}
	return c.fn(chunk)
}

func (c *collector) text() string {
	return c.sb.String()
}
