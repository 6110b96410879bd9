package redkv

import (
	"fmt"

	"github.com/l00pss/redkv/resp"
)

// Frame is an alias for resp.Frame so command handlers and middlewares
// can be written against redkv.Frame without importing resp directly.
type Frame = resp.Frame

// Type is an alias for resp.Type, re-exported for the same reason as Frame.
type Type = resp.Type

const (
	SimpleString = resp.SimpleString
	Error        = resp.Error
	Integer      = resp.Integer
	BulkString   = resp.BulkString
	Array        = resp.Array
)

var (
	simpleString   = resp.NewSimpleString
	errorReply     = resp.NewError
	integer        = resp.NewInteger
	bulkString     = resp.NewBulkString
	nullBulkString = resp.NewNullBulkString
	array          = resp.NewArray
)

func errf(format string, a ...any) Frame {
	return errorReply(fmt.Sprintf(format, a...))
}
