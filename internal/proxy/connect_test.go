package proxy

import (
	"bufio"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConnect_TunnelsBytesBothWays covers S3/property 7: a CONNECT to a
// loopback echo server responds 200 once the target is dialed and then relays raw bytes
// in both directions, opaque to the proxy.
func TestConnect_TunnelsBytesBothWays(t *testing.T) {
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer echoLn.Close()
	go func() {
		conn, err := echoLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		_, _ = conn.Write(buf[:n])
	}()

	u, _ := url.Parse("http://upstream.invalid")
	h := New(Config{Upstream: u}, nil, nil)

	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxyLn.Close()
	srv := &http.Server{Handler: h}
	go func() { _ = srv.Serve(proxyLn) }()
	defer srv.Close()

	clientConn, err := net.Dial("tcp", proxyLn.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	_, err = clientConn.Write([]byte("CONNECT " + echoLn.Addr().String() + " HTTP/1.1\r\nHost: " + echoLn.Addr().String() + "\r\n\r\n"))
	require.NoError(t, err)

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(clientConn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, statusLine, "200")

	// drain the rest of the CONNECT response head
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	payload := []byte("hello through the tunnel")
	_, err = clientConn.Write(payload)
	require.NoError(t, err)

	echoed := make([]byte, len(payload))
	_, err = reader.Read(echoed)
	require.NoError(t, err)
	assert.Equal(t, payload, echoed)
}
