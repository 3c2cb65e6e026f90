package nats

import (
	"errors"
	"testing"

	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func TestReuseConnection(t *testing.T) {
	connect := ReuseConnection(NewTestContainer(t))

	nc1, release1, err := connect()
	require.NoError(t, err)
	require.Equal(t, natsgo.CONNECTED, nc1.Status())

	nc2, release2, err := connect()
	require.NoError(t, err)
	require.Same(t, nc1, nc2)

	release1()
	// releasing twice does not drop the other lease
	release1()
	require.Equal(t, natsgo.CONNECTED, nc1.Status())

	release2()
	require.Equal(t, natsgo.CLOSED, nc1.Status())

	nc3, release3, err := connect()
	require.NoError(t, err)
	require.NotSame(t, nc1, nc3)
	require.Equal(t, natsgo.CONNECTED, nc3.Status())
	release3()
}

func TestReuseConnection_DialError(t *testing.T) {
	boom := errors.New("boom")
	dials := 0
	connect := ReuseConnection(func() (*natsgo.Conn, closeFunc, error) {
		dials++
		return nil, nil, boom
	})

	_, _, err := connect()
	require.ErrorIs(t, err, boom)
	_, _, err = connect()
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, dials)
}

func TestConnectURL_Unreachable(t *testing.T) {
	_, _, err := ConnectURL("nats://127.0.0.1:1")()
	require.Error(t, err)
}
