// Package chat defines the text message exchanged by objlink-peer and the
// listeners that print and echo it.
package chat

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/objlink/objlink-go/pkg/transport"
	"github.com/objlink/objlink-go/pkg/wire"
)

// TypeMessage is the wire name of Message.
const TypeMessage = "chat.message"

// Message is one line of text.
type Message struct {
	From string    `cbor:"1,keyasint"`
	Text string    `cbor:"2,keyasint"`
	Seq  uint64    `cbor:"3,keyasint,omitempty"`
	Sent time.Time `cbor:"4,keyasint"`
}

func (m Message) String() string {
	return fmt.Sprintf("[%s] %s: %s", m.Sent.Format("15:04:05"), m.From, m.Text)
}

// NewSerializer returns a CBOR serializer with the builtin types and
// Message registered.
func NewSerializer() *wire.CBORSerializer {
	s := wire.NewCBORSerializer()
	s.MustRegister(TypeMessage, Message{})
	return s
}

// Author stamps outgoing messages with a name and a per-author sequence.
type Author struct {
	Name string
	seq  atomic.Uint64
}

// Compose builds the next message.
func (a *Author) Compose(text string) Message {
	return Message{
		From: a.Name,
		Text: text,
		Seq:  a.seq.Add(1),
		Sent: time.Now(),
	}
}

// Echo returns a listener that sends every received Message back to the
// socket it came from, authored by name. Other objects are echoed unchanged.
func Echo(name string) *transport.ListenerFuncs {
	author := &Author{Name: name}
	return &transport.ListenerFuncs{
		OnReceivedObject: func(s *transport.Socket, obj any) {
			if m, ok := obj.(Message); ok {
				obj = author.Compose(m.Text)
			}
			_ = s.WriteObject(obj)
		},
	}
}

// Printer returns a listener that writes socket events to w, one per line.
// Writes are serialized so that several sockets may share w.
func Printer(w io.Writer) *transport.ListenerFuncs {
	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, format+"\n", args...)
	}
	return &transport.ListenerFuncs{
		OnConnected: func(s *transport.Socket) {
			printf("* %s connected (%s)", s.ID(), addrOf(s))
		},
		OnReceivedObject: func(s *transport.Socket, obj any) {
			if m, ok := obj.(Message); ok {
				printf("%s", m)
				return
			}
			printf("* %s sent %T: %v", s.ID(), obj, obj)
		},
		OnClosed: func(s *transport.Socket) {
			printf("* %s closed", s.ID())
		},
		OnException: func(s *transport.Socket, err error) {
			printf("! %s: %v", s.ID(), err)
		},
	}
}

func addrOf(s *transport.Socket) string {
	if a := s.RemoteAddr(); a != nil {
		return a.String()
	}
	return "unknown"
}
