/*
Package redkv implements a Redis-protocol-compatible, in-memory
key-value server: string keys and values with optional absolute
expiration, served over RESP on a plain TCP socket so that unmodified
Redis clients can connect to it directly.

The package is organized around four pieces that compose into the
Server:

  - resp (subpackage) parses and serializes the RESP wire format.
  - store (subpackage) is the sharded, concurrent key→value map with
    passive and active expiration.
  - Command and the command table in commands.go translate parsed
    frames into store operations and back into reply frames.
  - Server and Connection in server.go/connection.go own the TCP
    accept loop, per-connection buffering, and the middleware chain
    commands run through.

A minimal server:

	st := store.New(store.Options{})
	srv := redkv.NewServer(":6379", st)
	log.Fatal(srv.Serve())

See cmd/redkvd for a fully wired entrypoint with flags, logging, and
metrics, and cmd/redkv-smoke for a go-redis-based interoperability
check you can run against either this server or real Redis.
*/
package redkv
