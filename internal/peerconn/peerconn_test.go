package peerconn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dog4ik/mediatorrent/internal/logger"
	"github.com/dog4ik/mediatorrent/internal/peerprotocol"
)

func TestConnForwardsIncomingFrames(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()

	c := New("peer-1", serverSide, false, logger.New("test"))
	go c.Run()
	defer c.Close()

	go func() {
		b, err := peerprotocol.Encode(peerprotocol.InterestedMessage{})
		require.NoError(t, err)
		_, _ = clientSide.Write(b)
	}()

	select {
	case ev := <-c.Events():
		require.False(t, ev.Terminated)
		require.Equal(t, peerprotocol.InterestedMessage{}, ev.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded frame")
	}
}

func TestConnSendWritesFrameToSocket(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()

	c := New("peer-1", serverSide, false, logger.New("test"))
	go c.Run()
	defer c.Close()

	c.Send(peerprotocol.ChokeMessage{})

	typ, msg, err := peerprotocol.ReadMessage(clientSide)
	require.NoError(t, err)
	require.Equal(t, peerprotocol.Choke, typ)
	require.Equal(t, peerprotocol.ChokeMessage{}, msg)
}

func TestCloseEmitsTerminatedEvent(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()

	c := New("peer-1", serverSide, false, logger.New("test"))
	done := make(chan struct{})
	go func() {
		c.Run()
		close(done)
	}()

	c.Close()
	<-done

	ev := <-c.Events()
	require.True(t, ev.Terminated)
}
