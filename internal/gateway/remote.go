package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrRemoteClosed is returned by Call once the connection is gone.
var ErrRemoteClosed = errors.New("gateway connection closed")

const remoteEventBuffer = 64

// RemoteError is a failed response from the gateway.
type RemoteError struct {
	Method string
	Shape  ErrorShape
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Method, e.Shape.Code, e.Shape.Message)
}

// Remote is an authenticated client connection to a gateway.
type Remote struct {
	Hello HelloOK

	conn    *websocket.Conn
	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[string]chan Frame

	events chan Frame
	done   chan struct{}
	err    error
}

// Dial connects to url, answers the connect challenge with params and
// starts reading frames. Event frames are delivered on Events and dropped
// when nobody is reading.
func Dial(ctx context.Context, url string, params ConnectParams) (*Remote, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing gateway: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	var challenge Frame
	if err := conn.ReadJSON(&challenge); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading challenge: %w", err)
	}
	if challenge.Type != FrameTypeEvent || challenge.Event != EventConnectChallenge {
		conn.Close()
		return nil, fmt.Errorf("expected %s, got %s %s", EventConnectChallenge, challenge.Type, challenge.Event)
	}

	if params.MinProtocol == 0 {
		params.MinProtocol = ProtocolVersion
	}
	if params.MaxProtocol == 0 {
		params.MaxProtocol = ProtocolVersion
	}
	req, err := NewRequest("connect", "connect", params)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending connect: %w", err)
	}

	var resp Frame
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading hello: %w", err)
	}
	if resp.OK == nil || !*resp.OK {
		conn.Close()
		shape := ErrorShape{Code: "protocol_error", Message: "connect rejected"}
		if resp.Error != nil {
			shape = *resp.Error
		}
		return nil, &RemoteError{Method: "connect", Shape: shape}
	}

	r := &Remote{
		conn:    conn,
		pending: make(map[string]chan Frame),
		events:  make(chan Frame, remoteEventBuffer),
		done:    make(chan struct{}),
	}
	if err := json.Unmarshal(resp.Payload, &r.Hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("parsing hello: %w", err)
	}

	conn.SetReadDeadline(time.Time{})
	go r.readLoop()
	return r, nil
}

func (r *Remote) readLoop() {
	defer close(r.events)
	for {
		var f Frame
		if err := r.conn.ReadJSON(&f); err != nil {
			r.err = err
			close(r.done)
			return
		}
		switch f.Type {
		case FrameTypeResponse:
			r.mu.Lock()
			ch, ok := r.pending[f.ID]
			delete(r.pending, f.ID)
			r.mu.Unlock()
			if ok {
				ch <- f
			}
		case FrameTypeEvent:
			select {
			case r.events <- f:
			default:
			}
		}
	}
}

// Events delivers hook events broadcast by the gateway. The channel is
// closed when the connection ends.
func (r *Remote) Events() <-chan Frame {
	return r.events
}

// Call invokes method and decodes the response payload into out, which may
// be nil. A failed response is returned as *RemoteError.
func (r *Remote) Call(ctx context.Context, method string, params, out any) error {
	id := strconv.FormatInt(r.nextID.Add(1), 10)
	req, err := NewRequest(id, method, params)
	if err != nil {
		return err
	}

	ch := make(chan Frame, 1)
	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	r.writeMu.Lock()
	err = r.conn.WriteJSON(req)
	r.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("sending %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.OK == nil || !*resp.OK {
			shape := ErrorShape{Code: "unknown", Message: "request failed"}
			if resp.Error != nil {
				shape = *resp.Error
			}
			return &RemoteError{Method: method, Shape: shape}
		}
		if out == nil || len(resp.Payload) == 0 {
			return nil
		}
		return json.Unmarshal(resp.Payload, out)
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return fmt.Errorf("%w: %v", ErrRemoteClosed, r.err)
	}
}

// Close closes the connection and waits for the reader to stop.
func (r *Remote) Close() error {
	r.writeMu.Lock()
	r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	r.writeMu.Unlock()
	err := r.conn.Close()
	<-r.done
	return err
}
