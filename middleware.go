package redkv

// CommandHandler processes one parsed Command against an active
// connection and returns the reply frame to send back.
type CommandHandler interface {
	Handle(conn *Connection, cmd *Command) Frame
}

// CommandHandlerFunc adapts a plain function to CommandHandler.
type CommandHandlerFunc func(conn *Connection, cmd *Command) Frame

func (f CommandHandlerFunc) Handle(conn *Connection, cmd *Command) Frame { return f(conn, cmd) }

// Middleware wraps a CommandHandler, able to inspect or rewrite the
// command before calling next, inspect or rewrite the reply after, or
// short-circuit the chain entirely by not calling next at all.
type Middleware interface {
	Handle(conn *Connection, cmd *Command, next CommandHandler) Frame
}

// MiddlewareFunc adapts a plain function to Middleware.
type MiddlewareFunc func(conn *Connection, cmd *Command, next CommandHandler) Frame

func (f MiddlewareFunc) Handle(conn *Connection, cmd *Command, next CommandHandler) Frame {
	return f(conn, cmd, next)
}

// MiddlewareChain composes middlewares into a single CommandHandler.
// Middlewares run in the order they were Added: the first Added is the
// outermost, so it sees the command first and the reply last.
type MiddlewareChain struct {
	middlewares []Middleware
}

// NewMiddlewareChain builds an empty chain.
func NewMiddlewareChain() *MiddlewareChain {
	return &MiddlewareChain{}
}

// Add appends mw to the chain.
func (c *MiddlewareChain) Add(mw Middleware) {
	c.middlewares = append(c.middlewares, mw)
}

// Execute runs the chain, terminating in handler if every middleware
// calls next.
func (c *MiddlewareChain) Execute(conn *Connection, cmd *Command, handler CommandHandler) Frame {
	chained := handler
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		mw := c.middlewares[i]
		next := chained
		chained = CommandHandlerFunc(func(conn *Connection, cmd *Command) Frame {
			return mw.Handle(conn, cmd, next)
		})
	}
	return chained.Handle(conn, cmd)
}
