// Package control implements the measurement daemon's TCP control channel:
// a length-agnostic stream of fixed 8-byte (code, value) messages. Sends
// are synchronous; receives are driven from a background reader goroutine
// so the caller can multiplex control-channel readiness against the UDP
// measurement socket (see internal/engine's dual-socket receiver).
package control

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// MessageSize is the fixed wire size of a control message: a 32-bit code
// and a 32-bit value, both network byte order.
const MessageSize = 8

// Code identifies a control-channel message type.
type Code uint32

// Recognized control codes.
const (
	CodeSessionInit        Code = 1
	CodeSessionEnd         Code = 2
	CodeClientUDPPortSet   Code = 3
	CodeRTTSync            Code = 4
	CodeTrainSpacingMinSet Code = 5
	CodeTrainSpacingMaxSet Code = 6
	CodeTrainIDSet         Code = 7
	CodeTrainLengthSet     Code = 8
	CodeTrainPacketLenSet  Code = 9
	CodeTrainSend          Code = 10
	CodeTrainSent          Code = 11
	CodeTrainReceiveAck    Code = 12
	CodeTrainReceiveFail   Code = 13
)

// String renders a Code for logging.
func (c Code) String() string {
	switch c {
	case CodeSessionInit:
		return "SESSION_INIT"
	case CodeSessionEnd:
		return "SESSION_END"
	case CodeClientUDPPortSet:
		return "CLIENT_UDP_PORT_SET"
	case CodeRTTSync:
		return "RTT_SYNC"
	case CodeTrainSpacingMinSet:
		return "TRAIN_SPACING_MIN_SET"
	case CodeTrainSpacingMaxSet:
		return "TRAIN_SPACING_MAX_SET"
	case CodeTrainIDSet:
		return "TRAIN_ID_SET"
	case CodeTrainLengthSet:
		return "TRAIN_LENGTH_SET"
	case CodeTrainPacketLenSet:
		return "TRAIN_PACKET_LENGTH_SET"
	case CodeTrainSend:
		return "TRAIN_SEND"
	case CodeTrainSent:
		return "TRAIN_SENT"
	case CodeTrainReceiveAck:
		return "TRAIN_RECEIVE_ACK"
	case CodeTrainReceiveFail:
		return "TRAIN_RECEIVE_FAIL"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(c))
	}
}

// Message is a single control-channel datagram: a typed code plus its
// 32-bit value payload.
type Message struct {
	Code  Code
	Value uint32
}

// Marshal encodes m into buf, which must be at least MessageSize bytes.
func Marshal(m Message, buf []byte) (int, error) {
	if len(buf) < MessageSize {
		return 0, fmt.Errorf("control marshal: need %d bytes, got %d: %w",
			MessageSize, len(buf), ErrBufTooSmall)
	}
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.Code))
	binary.BigEndian.PutUint32(buf[4:8], m.Value)
	return MessageSize, nil
}

// Unmarshal decodes a Message from the first MessageSize bytes of buf.
func Unmarshal(buf []byte) (Message, error) {
	if len(buf) < MessageSize {
		return Message{}, fmt.Errorf("control unmarshal: need %d bytes, got %d: %w",
			MessageSize, len(buf), ErrBufTooSmall)
	}
	return Message{
		Code:  Code(binary.BigEndian.Uint32(buf[0:4])),
		Value: binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

// Sentinel errors.
var (
	ErrBufTooSmall = errors.New("buffer too small for control message")
	ErrClosed      = errors.New("control channel closed")
)

// Channel wraps a TCP connection carrying framed control messages. Send is
// synchronous (blocking write). Inbound messages are delivered on Recv(),
// backed by a single reader goroutine so callers can select on it
// alongside other readiness sources.
type Channel struct {
	conn   net.Conn
	recvCh chan Message
	errCh  chan error
	done   chan struct{}
}

// Dial connects to addr and starts the background reader.
func Dial(addr string, timeout time.Duration) (*Channel, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("control dial %s: %w", addr, err)
	}
	return NewChannelFromConn(conn), nil
}

// NewChannelForTesting wraps an existing connection (e.g. a net.Pipe end)
// as a Channel, for use by test helpers in other packages that need a
// Channel without a real TCP dial.
func NewChannelForTesting(conn net.Conn) *Channel {
	return NewChannelFromConn(conn)
}

// NewChannelFromConn wraps an existing connection as a Channel and starts
// its background reader.
func NewChannelFromConn(conn net.Conn) *Channel {
	c := &Channel{
		conn:   conn,
		recvCh: make(chan Message, 16),
		errCh:  make(chan error, 1),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Channel) readLoop() {
	buf := make([]byte, MessageSize)
	for {
		if _, err := io.ReadFull(c.conn, buf); err != nil {
			select {
			case c.errCh <- fmt.Errorf("control read: %w", err):
			default:
			}
			close(c.recvCh)
			return
		}
		msg, err := Unmarshal(buf)
		if err != nil {
			select {
			case c.errCh <- err:
			default:
			}
			close(c.recvCh)
			return
		}
		select {
		case c.recvCh <- msg:
		case <-c.done:
			close(c.recvCh)
			return
		}
	}
}

// Send writes m synchronously.
func (c *Channel) Send(m Message) error {
	buf := make([]byte, MessageSize)
	if _, err := Marshal(m, buf); err != nil {
		return err
	}
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("control send %s: %w", m.Code, err)
	}
	return nil
}

// Recv returns the channel of inbound messages, for use in a select
// statement alongside the UDP measurement socket's readiness channel.
func (c *Channel) Recv() <-chan Message {
	return c.recvCh
}

// Err returns the channel carrying the terminal read error, if any.
func (c *Channel) Err() <-chan error {
	return c.errCh
}

// Close shuts down the reader goroutine and closes the connection.
func (c *Channel) Close() error {
	close(c.done)
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("control close: %w", err)
	}
	return nil
}
