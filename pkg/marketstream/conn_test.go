package marketstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"github.com/tradekit-lab/marketstream/internal/logger"
	"github.com/tradekit-lab/marketstream/pkg/errors"
)

// wsTestServer is an in-process websocket endpoint. Inbound messages are
// recorded; outbound messages are pushed through push.
type wsTestServer struct {
	server *httptest.Server

	mu       sync.Mutex
	received [][]byte
	conns    []*websocket.Conn
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()

	ts := &wsTestServer{}
	upgrader := websocket.Upgrader{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		ts.mu.Lock()
		ts.conns = append(ts.conns, ws)
		ts.mu.Unlock()

		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}

			ts.mu.Lock()
			ts.received = append(ts.received, msg)
			ts.mu.Unlock()
		}
	}))
	t.Cleanup(ts.server.Close)

	return ts
}

func (ts *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http")
}

func (ts *wsTestServer) push(t *testing.T, msg []byte) {
	t.Helper()

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if len(ts.conns) == 0 {
		t.Fatal("no client connected")
	}

	if err := ts.conns[len(ts.conns)-1].WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("server push failed: %v", err)
	}
}

func (ts *wsTestServer) dropClients() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for _, ws := range ts.conns {
		_ = ws.Close()
	}

	ts.conns = nil
}

func (ts *wsTestServer) receivedMessages() [][]byte {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return append([][]byte(nil), ts.received...)
}

type WebSocketConnTestSuite struct {
	suite.Suite
}

func TestWebSocketConnSuite(t *testing.T) {
	suite.Run(t, new(WebSocketConnTestSuite))
}

func (suite *WebSocketConnTestSuite) TestOpenSendReceive() {
	server := newWSTestServer(suite.T())
	conn := NewWebSocketConn(server.url(), logger.NewNopLogger())

	var (
		mu     sync.Mutex
		frames [][]byte
	)

	conn.SetHandler(func(raw []byte) {
		mu.Lock()
		frames = append(frames, raw)
		mu.Unlock()
	}, nil)

	suite.Require().NoError(conn.Open(context.Background()))
	suite.Equal(StateOpen, conn.State())

	defer func() { _ = conn.Close() }()

	suite.Require().NoError(conn.Send([]byte("hello")))
	suite.Eventually(func() bool {
		return len(server.receivedMessages()) == 1
	}, time.Second, 5*time.Millisecond)

	server.push(suite.T(), []byte("first"))
	server.push(suite.T(), []byte("second"))

	suite.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(frames) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	// Frames arrive in wire order.
	suite.Equal("first", string(frames[0]))
	suite.Equal("second", string(frames[1]))
}

func (suite *WebSocketConnTestSuite) TestOpenTwiceFails() {
	server := newWSTestServer(suite.T())
	conn := NewWebSocketConn(server.url(), logger.NewNopLogger())

	suite.Require().NoError(conn.Open(context.Background()))

	defer func() { _ = conn.Close() }()

	err := conn.Open(context.Background())
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeAlreadyOpen))
}

func (suite *WebSocketConnTestSuite) TestDialFailureIsTerminal() {
	conn := NewWebSocketConn("ws://127.0.0.1:1/ws", logger.NewNopLogger())

	err := conn.Open(context.Background())
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeConnectionFailed))
	suite.Equal(StateDisconnected, conn.State())
}

func (suite *WebSocketConnTestSuite) TestSendRequiresOpen() {
	conn := NewWebSocketConn("ws://127.0.0.1:1/ws", logger.NewNopLogger())

	err := conn.Send([]byte("hello"))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeNotConnected))
}

func (suite *WebSocketConnTestSuite) TestCloseIsIdempotentAndSilent() {
	server := newWSTestServer(suite.T())
	conn := NewWebSocketConn(server.url(), logger.NewNopLogger())

	closedErrs := make(chan error, 1)
	conn.SetHandler(nil, func(err error) {
		closedErrs <- err
	})

	suite.Require().NoError(conn.Open(context.Background()))
	suite.Require().NoError(conn.Close())
	suite.Require().NoError(conn.Close())
	suite.Equal(StateDisconnected, conn.State())

	// A deliberate close never fires the connection-lost callback.
	select {
	case err := <-closedErrs:
		suite.Failf("unexpected closed callback", "got %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func (suite *WebSocketConnTestSuite) TestServerDropFiresClosedHandler() {
	server := newWSTestServer(suite.T())
	conn := NewWebSocketConn(server.url(), logger.NewNopLogger())

	closedErrs := make(chan error, 1)
	conn.SetHandler(nil, func(err error) {
		closedErrs <- err
	})

	suite.Require().NoError(conn.Open(context.Background()))

	server.dropClients()

	select {
	case err := <-closedErrs:
		suite.Require().Error(err)
		suite.True(errors.HasCode(err, errors.ErrCodeConnectionClosed))
	case <-time.After(time.Second):
		suite.Fail("closed handler never fired")
	}

	suite.Equal(StateDisconnected, conn.State())
}

func (suite *WebSocketConnTestSuite) TestKeepalivePayloadIsSent() {
	server := newWSTestServer(suite.T())
	conn := NewWebSocketConn(server.url(), logger.NewNopLogger(),
		WithKeepaliveInterval(20*time.Millisecond),
		WithKeepalivePayload([]byte(`{"op":"ping"}`)))

	suite.Require().NoError(conn.Open(context.Background()))

	defer func() { _ = conn.Close() }()

	suite.Eventually(func() bool {
		for _, msg := range server.receivedMessages() {
			if string(msg) == `{"op":"ping"}` {
				return true
			}
		}

		return false
	}, time.Second, 5*time.Millisecond)
}

func (suite *WebSocketConnTestSuite) TestKeepaliveStopsAfterClose() {
	server := newWSTestServer(suite.T())
	conn := NewWebSocketConn(server.url(), logger.NewNopLogger(),
		WithKeepaliveInterval(10*time.Millisecond),
		WithKeepalivePayload([]byte(`{"op":"ping"}`)))

	suite.Require().NoError(conn.Open(context.Background()))

	suite.Eventually(func() bool {
		return len(server.receivedMessages()) >= 2
	}, time.Second, 5*time.Millisecond)

	suite.Require().NoError(conn.Close())

	// Let any write already in flight at close time settle, then confirm
	// the timer is gone: several periods pass with nothing new arriving.
	time.Sleep(30 * time.Millisecond)
	baseline := len(server.receivedMessages())

	time.Sleep(100 * time.Millisecond)
	suite.Equal(baseline, len(server.receivedMessages()))
}
