// Package transport implements the datagram transports used by the
// session engine: the registration channel and the RTP/RTCP media
// listeners. Each Endpoint owns one UDP socket and dispatches received
// datagrams to a registered handler in arrival order.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DatagramHandler processes one inbound datagram. Handlers run
// synchronously on the endpoint's read loop, which keeps dispatch in
// arrival order; they must hand off quickly and never block. The data
// slice is owned by the handler.
type DatagramHandler func(data []byte, addr net.Addr)

// Endpoint is a UDP socket with a handler dispatch loop.
type Endpoint struct {
	conn       net.PacketConn
	listenAddr net.Addr
	handler    DatagramHandler
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	recvBuf    int
}

// NewEndpoint opens a UDP listener on listenAddr and starts its read
// loop. recvBuf bounds the size of a single datagram; zero selects a
// default suitable for RTP-sized payloads.
func NewEndpoint(listenAddr string, recvBuf int) (*Endpoint, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to open udp endpoint on %s: %w", listenAddr, err)
	}

	if recvBuf <= 0 {
		recvBuf = 2048
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Endpoint{
		conn:       conn,
		listenAddr: conn.LocalAddr(),
		ctx:        ctx,
		cancel:     cancel,
		recvBuf:    recvBuf,
	}

	go e.processDatagrams()

	logrus.WithFields(logrus.Fields{
		"function": "transport.NewEndpoint",
		"addr":     e.listenAddr.String(),
	}).Debug("UDP endpoint opened")

	return e, nil
}

// SetHandler registers the handler for inbound datagrams. Datagrams
// received while no handler is set are dropped.
func (e *Endpoint) SetHandler(handler DatagramHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.handler = handler
}

// Send writes data to addr.
func (e *Endpoint) Send(data []byte, addr net.Addr) error {
	if _, err := e.conn.WriteTo(data, addr); err != nil {
		return fmt.Errorf("failed to send datagram to %s: %w", addr, err)
	}
	return nil
}

// LocalAddr returns the bound local address.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.listenAddr
}

// Close shuts the endpoint down and stops the read loop.
func (e *Endpoint) Close() error {
	e.cancel()
	return e.conn.Close()
}

// processDatagrams reads until the endpoint is closed.
func (e *Endpoint) processDatagrams() {
	buffer := make([]byte, e.recvBuf)

	for {
		select {
		case <-e.ctx.Done():
			return
		default:
			e.processIncoming(buffer)
		}
	}
}

// processIncoming reads one datagram and hands a copy to the handler.
// The handler is invoked on this goroutine: media payloads must reach
// the handoff queues in the order they arrived, and the queues absorb
// any downstream slowness.
func (e *Endpoint) processIncoming(buffer []byte) {
	// Read deadline keeps the loop responsive to Close.
	_ = e.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

	n, addr, err := e.conn.ReadFrom(buffer)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		if e.ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{
				"function": "Endpoint.processIncoming",
				"addr":     e.listenAddr.String(),
				"error":    err.Error(),
			}).Warn("Datagram read failed")
		}
		return
	}

	e.mu.RLock()
	handler := e.handler
	e.mu.RUnlock()

	if handler == nil {
		return
	}

	data := make([]byte, n)
	copy(data, buffer[:n])
	handler(data, addr)
}
