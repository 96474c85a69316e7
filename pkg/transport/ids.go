package transport

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces connection identities. Identities are used for
// diagnostics only and never go on the wire.
type IDGenerator interface {
	Next() string
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() string

// Next implements IDGenerator.
func (f IDGeneratorFunc) Next() string { return f() }

// UUIDs generates a random UUID per connection. It is the default.
var UUIDs IDGenerator = IDGeneratorFunc(func() string { return uuid.New().String() })

// SequentialIDs hands out Prefix followed by an increasing counter,
// starting at 1. The zero value is ready to use. Share one instance
// between sockets that should draw from the same sequence.
type SequentialIDs struct {
	Prefix string
	n      atomic.Uint64
}

// Next implements IDGenerator.
func (s *SequentialIDs) Next() string {
	return s.Prefix + strconv.FormatUint(s.n.Add(1), 10)
}
