// Package protocol is the message exchange between the orchestrator and
// the child renderer process: one JSON envelope per line over a pipe.
//
// The exchange is fixed:
//
//	child        -> START
//	orchestrator -> CONFIG  (core.Payload)
//	child        -> READY   (core.Result)  or  ERROR (core.ErrorPayload)
//
// ERROR may also arrive before CONFIG when the child fails early.
package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MessageType tags an envelope.
type MessageType string

const (
	TypeStart  MessageType = "START"
	TypeConfig MessageType = "CONFIG"
	TypeReady  MessageType = "READY"
	TypeError  MessageType = "ERROR"
)

// Message is one line on the wire. Data is decoded according to Type.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the message data into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decoding %s message: %w", m.Type, err)
	}
	return nil
}

// Conn reads and writes envelopes. Send is safe for concurrent use;
// Receive is not.
type Conn struct {
	dec *json.Decoder

	mu sync.Mutex
	w  *bufio.Writer
}

// NewConn wraps the two ends of a pipe.
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{
		dec: json.NewDecoder(bufio.NewReader(r)),
		w:   bufio.NewWriter(w),
	}
}

// Send writes one envelope and flushes it.
func (c *Conn) Send(t MessageType, data any) error {
	msg := Message{Type: t}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encoding %s message: %w", t, err)
		}
		msg.Data = b
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("sending %s: %w", t, err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("sending %s: %w", t, err)
	}
	return nil
}

// Receive reads the next envelope. It returns io.EOF when the peer closed
// the pipe cleanly between messages and io.ErrUnexpectedEOF when it closed
// mid-message.
func (c *Conn) Receive() (Message, error) {
	var msg Message
	if err := c.dec.Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("reading message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, errors.New("reading message: missing type")
	}
	return msg, nil
}
