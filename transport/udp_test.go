package transport

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointSendReceive(t *testing.T) {
	receiver, err := NewEndpoint("127.0.0.1:0", 2048)
	require.NoError(t, err)
	defer receiver.Close()

	received := make(chan []byte, 1)
	receiver.SetHandler(func(data []byte, addr net.Addr) {
		received <- data
	})

	sender, err := NewEndpoint("127.0.0.1:0", 2048)
	require.NoError(t, err)
	defer sender.Close()

	payload := []byte("registration frame")
	require.NoError(t, sender.Send(payload, receiver.LocalAddr()))

	select {
	case data := <-received:
		assert.Equal(t, payload, data)
	case <-time.After(2 * time.Second):
		t.Fatal("datagram was not delivered")
	}
}

func TestEndpointDropsDatagramsWithoutHandler(t *testing.T) {
	receiver, err := NewEndpoint("127.0.0.1:0", 2048)
	require.NoError(t, err)
	defer receiver.Close()

	sender, err := NewEndpoint("127.0.0.1:0", 2048)
	require.NoError(t, err)
	defer sender.Close()

	// No handler registered: the datagram is dropped, nothing panics.
	require.NoError(t, sender.Send([]byte("orphan"), receiver.LocalAddr()))
	time.Sleep(200 * time.Millisecond)
}

func TestEndpointHandlerGetsItsOwnCopy(t *testing.T) {
	receiver, err := NewEndpoint("127.0.0.1:0", 2048)
	require.NoError(t, err)
	defer receiver.Close()

	received := make(chan []byte, 2)
	receiver.SetHandler(func(data []byte, addr net.Addr) {
		received <- data
	})

	sender, err := NewEndpoint("127.0.0.1:0", 2048)
	require.NoError(t, err)
	defer sender.Close()

	require.NoError(t, sender.Send([]byte("first"), receiver.LocalAddr()))
	require.NoError(t, sender.Send([]byte("second"), receiver.LocalAddr()))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case data := <-received:
			got[string(data)] = true
		case <-time.After(2 * time.Second):
			t.Fatal("datagram was not delivered")
		}
	}
	assert.True(t, got["first"])
	assert.True(t, got["second"])
}

func TestEndpointDeliversInArrivalOrder(t *testing.T) {
	receiver, err := NewEndpoint("127.0.0.1:0", 2048)
	require.NoError(t, err)
	defer receiver.Close()

	const total = 2000

	var mu sync.Mutex
	var seen []uint32
	receiver.SetHandler(func(data []byte, addr net.Addr) {
		mu.Lock()
		seen = append(seen, binary.BigEndian.Uint32(data))
		mu.Unlock()
	})

	sender, err := NewEndpoint("127.0.0.1:0", 2048)
	require.NoError(t, err)
	defer sender.Close()

	payload := make([]byte, 4)
	for i := uint32(0); i < total; i++ {
		binary.BigEndian.PutUint32(payload, i)
		require.NoError(t, sender.Send(payload, receiver.LocalAddr()))
	}

	// Wait until delivery settles.
	prev := -1
	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); {
		time.Sleep(200 * time.Millisecond)
		mu.Lock()
		count := len(seen)
		mu.Unlock()
		if count == total || count == prev {
			break
		}
		prev = count
	}

	mu.Lock()
	got := append([]uint32(nil), seen...)
	mu.Unlock()

	// Loopback may drop under load; whatever arrives must stay in send
	// order with no inversions.
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i], "inversion at position %d", i)
	}
}

func TestEndpointCloseStopsLoop(t *testing.T) {
	endpoint, err := NewEndpoint("127.0.0.1:0", 2048)
	require.NoError(t, err)

	require.NoError(t, endpoint.Close())

	// Sending through a closed endpoint fails.
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:9")
	require.NoError(t, err)
	assert.Error(t, endpoint.Send([]byte("late"), addr))
}

func TestNewEndpointRejectsBadAddress(t *testing.T) {
	_, err := NewEndpoint("256.0.0.1:99999", 2048)
	assert.Error(t, err)
}
