package redkv

import (
	"fmt"
	"strings"

	"github.com/l00pss/redkv/resp"
)

// Command is a parsed client request: a command name and its raw
// argument bytes, derived from a top-level RESP Array of BulkStrings (or
// the inline-command fallback, which produces the same shape).
type Command struct {
	Name string
	Args [][]byte
}

// commandFromFrame validates that frame is a well-formed command array
// (every element a non-null bulk string, at least one element) and
// extracts the Command. A client that manages to send something else at
// the top level (e.g. a bare Integer) gets a protocol-level error; RESP
// does not define what a server should do with a top-level non-array
// frame, so redkv treats it as malformed input, matching the inline
// parser's own output shape.
func commandFromFrame(frame resp.Frame) (Command, error) {
	if frame.Type != resp.Array || frame.Null {
		return Command{}, fmt.Errorf("expected command array, got %v", frame.Type)
	}
	if len(frame.Elems) == 0 {
		return Command{}, fmt.Errorf("empty command array")
	}

	for _, elem := range frame.Elems {
		if elem.Type != resp.BulkString || elem.Null {
			return Command{}, fmt.Errorf("command elements must be bulk strings")
		}
	}

	args := make([][]byte, len(frame.Elems)-1)
	for i := 1; i < len(frame.Elems); i++ {
		args[i-1] = frame.Elems[i].Bulk
	}

	return Command{
		Name: strings.ToUpper(string(frame.Elems[0].Bulk)),
		Args: args,
	}, nil
}
