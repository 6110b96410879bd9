package redkv

import (
	"strings"
	"time"

	"github.com/l00pss/redkv/store"
)

// registerDefaultHandlers installs the command table backing the
// string/counter/expiry workload this server serves. Handler functions
// close over nothing but the Store reachable through conn.server; they
// are free functions rather than methods so the arity/lookup plumbing in
// dispatch stays uniform between built-ins and anything RegisterCommand
// adds later.
func (s *Server) registerDefaultHandlers() {
	s.RegisterCommandFunc("PING", cmdPing)
	s.RegisterCommandFunc("ECHO", cmdEcho)
	s.RegisterCommandFunc("QUIT", cmdQuit)

	s.RegisterCommandFunc("GET", cmdGet)
	s.RegisterCommandFunc("SET", cmdSet)
	s.RegisterCommandFunc("SETNX", cmdSetNX)
	s.RegisterCommandFunc("SETEX", cmdSetEX)
	s.RegisterCommandFunc("DEL", cmdDel)
	s.RegisterCommandFunc("EXISTS", cmdExists)

	s.RegisterCommandFunc("INCR", cmdIncr)
	s.RegisterCommandFunc("DECR", cmdDecr)
	s.RegisterCommandFunc("INCRBY", cmdIncrBy)
	s.RegisterCommandFunc("DECRBY", cmdDecrBy)

	s.RegisterCommandFunc("MGET", cmdMGet)
	s.RegisterCommandFunc("MSET", cmdMSet)

	s.RegisterCommandFunc("EXPIRE", cmdExpire)
	s.RegisterCommandFunc("TTL", cmdTTL)
	s.RegisterCommandFunc("PERSIST", cmdPersist)

	s.RegisterCommandFunc("KEYS", cmdKeys)
	s.RegisterCommandFunc("DBSIZE", cmdDBSize)
	s.RegisterCommandFunc("FLUSHALL", cmdFlush)
	s.RegisterCommandFunc("FLUSHDB", cmdFlush)
}

func wrongArity(name string) Frame {
	return errf("ERR wrong number of arguments for '%s' command", strings.ToLower(name))
}

func notAnInteger() Frame {
	return errorReply("ERR value is not an integer or out of range")
}

func cmdPing(_ *Connection, cmd *Command) Frame {
	switch len(cmd.Args) {
	case 0:
		return simpleString("PONG")
	case 1:
		return bulkString(cmd.Args[0])
	default:
		return wrongArity(cmd.Name)
	}
}

func cmdEcho(_ *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 1 {
		return wrongArity(cmd.Name)
	}
	return bulkString(cmd.Args[0])
}

func cmdQuit(_ *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 0 {
		return wrongArity(cmd.Name)
	}
	return simpleString("OK")
}

func cmdGet(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 1 {
		return wrongArity(cmd.Name)
	}
	v, ok := conn.server.Store.Get(string(cmd.Args[0]))
	if !ok {
		return nullBulkString()
	}
	return bulkString(v)
}

func cmdSet(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 2 {
		return wrongArity(cmd.Name)
	}
	conn.server.Store.Set(string(cmd.Args[0]), cmd.Args[1])
	return simpleString("OK")
}

func cmdSetNX(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 2 {
		return wrongArity(cmd.Name)
	}
	if conn.server.Store.SetIfAbsent(string(cmd.Args[0]), cmd.Args[1]) {
		return integer(1)
	}
	return integer(0)
}

func cmdSetEX(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 3 {
		return wrongArity(cmd.Name)
	}
	seconds, ok := store.ParseCanonicalInt64(cmd.Args[1])
	if !ok {
		return notAnInteger()
	}
	if seconds <= 0 {
		return errorReply("ERR invalid expire time in 'setex' command")
	}
	conn.server.Store.SetWithTTL(string(cmd.Args[0]), cmd.Args[2], secondsToDuration(seconds))
	return simpleString("OK")
}

func cmdDel(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) < 1 {
		return wrongArity(cmd.Name)
	}
	keys := make([]string, len(cmd.Args))
	for i, a := range cmd.Args {
		keys[i] = string(a)
	}
	return integer(int64(conn.server.Store.DeleteMany(keys)))
}

func cmdExists(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) < 1 {
		return wrongArity(cmd.Name)
	}
	var n int64
	for _, a := range cmd.Args {
		if _, ok := conn.server.Store.Get(string(a)); ok {
			n++
		}
	}
	return integer(n)
}

func cmdIncr(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 1 {
		return wrongArity(cmd.Name)
	}
	return applyCounterDelta(conn, cmd.Args[0], 1)
}

func cmdDecr(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 1 {
		return wrongArity(cmd.Name)
	}
	return applyCounterDelta(conn, cmd.Args[0], -1)
}

func cmdIncrBy(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 2 {
		return wrongArity(cmd.Name)
	}
	delta, ok := store.ParseCanonicalInt64(cmd.Args[1])
	if !ok {
		return notAnInteger()
	}
	return applyCounterDelta(conn, cmd.Args[0], delta)
}

func cmdDecrBy(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 2 {
		return wrongArity(cmd.Name)
	}
	delta, ok := store.ParseCanonicalInt64(cmd.Args[1])
	if !ok {
		return notAnInteger()
	}
	if delta == minInt64 {
		// negating math.MinInt64 overflows int64; INCR/DECR on a delta
		// this large is already an overflow by any reasonable value.
		return notAnInteger()
	}
	return applyCounterDelta(conn, cmd.Args[0], -delta)
}

func applyCounterDelta(conn *Connection, key []byte, delta int64) Frame {
	v, parseErr, overflowErr := conn.server.Store.UpdateCounter(string(key), delta)
	if parseErr || overflowErr {
		return notAnInteger()
	}
	return integer(v)
}

func cmdMGet(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) < 1 {
		return wrongArity(cmd.Name)
	}
	keys := make([]string, len(cmd.Args))
	for i, a := range cmd.Args {
		keys[i] = string(a)
	}
	values, found := conn.server.Store.GetMany(keys)
	elems := make([]Frame, len(values))
	for i, v := range values {
		if found[i] {
			elems[i] = bulkString(v)
		} else {
			elems[i] = nullBulkString()
		}
	}
	return array(elems)
}

func cmdMSet(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) < 2 || len(cmd.Args)%2 != 0 {
		return wrongArity(cmd.Name)
	}
	n := len(cmd.Args) / 2
	keys := make([]string, n)
	values := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = string(cmd.Args[2*i])
		values[i] = cmd.Args[2*i+1]
	}
	conn.server.Store.SetMany(keys, values)
	return simpleString("OK")
}

func cmdExpire(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 2 {
		return wrongArity(cmd.Name)
	}
	seconds, ok := store.ParseCanonicalInt64(cmd.Args[1])
	if !ok {
		return notAnInteger()
	}
	if conn.server.Store.SetExpiry(string(cmd.Args[0]), secondsToDuration(seconds)) {
		return integer(1)
	}
	return integer(0)
}

func cmdTTL(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 1 {
		return wrongArity(cmd.Name)
	}
	return integer(conn.server.Store.TTLSeconds(string(cmd.Args[0])))
}

func cmdPersist(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 1 {
		return wrongArity(cmd.Name)
	}
	if conn.server.Store.ClearExpiry(string(cmd.Args[0])) {
		return integer(1)
	}
	return integer(0)
}

func cmdKeys(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 1 {
		return wrongArity(cmd.Name)
	}
	matches := conn.server.Store.KeysMatching(cmd.Args[0])
	elems := make([]Frame, len(matches))
	for i, k := range matches {
		elems[i] = bulkString(k)
	}
	return array(elems)
}

func cmdDBSize(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 0 {
		return wrongArity(cmd.Name)
	}
	return integer(int64(conn.server.Store.Len()))
}

func cmdFlush(conn *Connection, cmd *Command) Frame {
	if len(cmd.Args) != 0 {
		return wrongArity(cmd.Name)
	}
	conn.server.Store.Flush()
	return simpleString("OK")
}

const minInt64 = -1 << 63

// maxSafeSeconds is the largest seconds count that multiplying by
// time.Second won't overflow int64; EXPIRE/SETEX accept far larger
// client-supplied values (e.g. math.MaxInt64), so anything past this is
// clamped rather than wrapped.
const maxSafeSeconds = int64(time.Duration(1<<63-1) / time.Second)

// secondsToDuration turns a seconds count, as given on the wire by
// EXPIRE/SETEX, into a time.Duration without overflowing for
// pathological inputs like EXPIRE k 9223372036854775807. Store treats
// any non-positive duration as "expire now", so negative inputs need no
// special casing here.
func secondsToDuration(seconds int64) time.Duration {
	if seconds > maxSafeSeconds {
		seconds = maxSafeSeconds
	}
	if seconds < -maxSafeSeconds {
		seconds = -maxSafeSeconds
	}
	return time.Duration(seconds) * time.Second
}
