package marketstream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tradekit-lab/marketstream/internal/logger"
	"github.com/tradekit-lab/marketstream/pkg/errors"
)

// pendingRequest tracks one in-flight correlated request.
type pendingRequest struct {
	id        int64
	createdAt time.Time
	done      chan replyResult // buffered, written exactly once
}

type replyResult struct {
	frame Frame
	err   error
}

// Correlator multiplexes correlated request/reply traffic over one
// connection. It assigns monotonically increasing request ids, tracks pending
// requests, and matches inbound replies back to the blocked caller.
//
// The correlator applies no timeout of its own: a caller that must not wait
// forever passes a context with a deadline.
type Correlator struct {
	conn Conn
	log  *logger.Logger

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingRequest
	closed  bool
}

// NewCorrelator creates a correlator sending through the given connection.
func NewCorrelator(conn Conn, log *logger.Logger) *Correlator {
	return &Correlator{
		conn:    conn,
		log:     log,
		mu:      sync.Mutex{},
		nextID:  0,
		pending: make(map[int64]*pendingRequest),
		closed:  false,
	}
}

// Send allocates the next request id, merges it into the payload's "id"
// field, forwards the frame, and blocks until the matching reply arrives, the
// context is cancelled, or the session tears down.
func (c *Correlator) Send(ctx context.Context, payload map[string]any) (Frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return Frame{}, errors.New(errors.ErrCodeConnectionClosed, "correlator is closed")
	}

	c.nextID++
	id := c.nextID
	payload["id"] = id

	req := &pendingRequest{
		id:        id,
		createdAt: time.Now(),
		done:      make(chan replyResult, 1),
	}
	c.pending[id] = req
	c.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		c.remove(id)

		return Frame{}, errors.Wrap(errors.ErrCodeInvalidParameter, "failed to encode request payload", err)
	}

	if err := c.conn.Send(data); err != nil {
		c.remove(id)

		return Frame{}, err
	}

	select {
	case res := <-req.done:
		return res.frame, res.err
	case <-ctx.Done():
		c.remove(id)

		return Frame{}, errors.Wrapf(errors.ErrCodeRequestCancelled, ctx.Err(), "request %d cancelled", id)
	}
}

// HandleReply resolves the pending request matching the reply frame's id.
// A reply with no matching pending request is a protocol desynchronization:
// it is returned as an error so the session can surface it loudly rather
// than risk resolving the wrong caller later.
func (c *Correlator) HandleReply(frame Frame) error {
	c.mu.Lock()
	req, ok := c.pending[frame.ID]
	if !ok {
		c.mu.Unlock()

		return errors.Newf(errors.ErrCodeCorrelationMismatch,
			"reply id %d has no pending request", frame.ID)
	}

	delete(c.pending, frame.ID)
	c.mu.Unlock()

	if frame.ErrorCode != 0 {
		providerErr := errors.NewProviderErrorf(frame.ErrorCode, frame.Symbol,
			"provider rejected request %d: %s", frame.ID, frame.ErrorMessage)
		req.done <- replyResult{
			frame: frame,
			err:   errors.Wrapf(errors.ErrCodeProviderRejected, providerErr, "request %d rejected", frame.ID),
		}

		return nil
	}

	req.done <- replyResult{frame: frame, err: nil}

	return nil
}

// FailAll rejects every pending request and refuses new sends. Called once on
// session teardown; the given cause is attached to each rejection.
func (c *Correlator) FailAll(cause error) {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()

	for id, req := range pending {
		req.done <- replyResult{
			frame: Frame{},
			err:   errors.Wrapf(errors.ErrCodeConnectionClosed, cause, "request %d rejected by teardown", id),
		}
	}

	if len(pending) > 0 {
		c.log.Info("rejected pending requests on teardown", zap.Int("count", len(pending)))
	}
}

// PendingCount returns the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

func (c *Correlator) remove(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
