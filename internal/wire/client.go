package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

// ErrClosed is returned by calls made on, or pending when, the connection
// closes.
var ErrClosed = errors.New("wire: connection closed")

// Error is a failure reported by the server.
type Error struct {
	Method  string
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Method, e.Message, e.Code)
}

// Client is a remote.Session backed by a websocket connection to a wire
// Handler.
type Client struct {
	conn      *websocket.Conn
	sessionID string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	wmu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan inbound
	err     error
}

var _ remote.Session = (*Client)(nil)

// Dial connects to the wire endpoint at url and waits for the session
// greeting.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", url, err)
	}
	conn.SetReadLimit(readLimit)

	var hello inbound
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("wire: reading session greeting: %w", err)
	}
	if hello.Type != "session" {
		conn.CloseNow()
		return nil, fmt.Errorf("wire: expected session greeting, got %q", hello.Type)
	}
	var sd SessionData
	if err := json.Unmarshal(hello.Data, &sd); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("wire: session greeting: %w", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:      conn,
		sessionID: sd.SessionID,
		ctx:       cctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		pending:   make(map[string]chan inbound),
	}
	go c.readLoop()
	glog.V(2).Infof("wire: connected to %s as session %s", url, sd.SessionID)
	return c, nil
}

// SessionID returns the server-assigned session ID.
func (c *Client) SessionID() string { return c.sessionID }

// Close ends the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	<-c.done
	return err
}

// Ping round-trips a ping message.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, ClientMessage{Type: "ping", ID: uuid.New().String()})
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var msg inbound
		if err := wsjson.Read(c.ctx, c.conn, &msg); err != nil {
			c.fail(err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.RequestID]
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
		if !ok {
			glog.Warningf("wire: dropping %s message for unknown request %q", msg.Type, msg.RequestID)
			continue
		}
		ch <- msg
	}
}

func (c *Client) fail(err error) {
	if websocket.CloseStatus(err) == -1 && c.ctx.Err() == nil {
		glog.Warningf("wire: connection lost: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = ErrClosed
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) roundTrip(ctx context.Context, msg ClientMessage) (inbound, error) {
	ch := make(chan inbound, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return inbound{}, c.err
	}
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	c.wmu.Lock()
	err := wsjson.Write(ctx, c.conn, msg)
	c.wmu.Unlock()
	if err != nil {
		c.forget(msg.ID)
		return inbound{}, fmt.Errorf("wire: send %s: %w", msg.Method, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return inbound{}, ErrClosed
		}
		return reply, nil
	case <-ctx.Done():
		c.forget(msg.ID)
		return inbound{}, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// call invokes method with args and decodes the reply into out, which may
// be nil.
func (c *Client) call(ctx context.Context, method string, args, out any) error {
	var data json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("wire: encode %s: %w", method, err)
		}
		data = b
	}
	reply, err := c.roundTrip(ctx, ClientMessage{
		Type:   "call",
		ID:     uuid.New().String(),
		Method: method,
		Data:   data,
	})
	if err != nil {
		return err
	}
	switch reply.Type {
	case "result":
		if out == nil || len(reply.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(reply.Data, out); err != nil {
			return fmt.Errorf("wire: decode %s reply: %w", method, err)
		}
		return nil
	case "error":
		var ed ErrorData
		if err := json.Unmarshal(reply.Data, &ed); err != nil {
			return fmt.Errorf("wire: decode %s error: %w", method, err)
		}
		if ed.Code == CodeReleased {
			return fmt.Errorf("%s: %w", method, remote.ErrReleased)
		}
		return &Error{Method: method, Code: ed.Code, Message: ed.Message}
	default:
		return fmt.Errorf("wire: unexpected %q reply to %s", reply.Type, method)
	}
}

// callResult invokes a mutating method and rebuilds the remote.Result.
func (c *Client) callResult(ctx context.Context, method string, args any) (*remote.Result, error) {
	var w Result
	if err := c.call(ctx, method, args, &w); err != nil {
		return nil, err
	}
	return c.result(&w), nil
}

func (c *Client) result(w *Result) *remote.Result {
	r := &remote.Result{
		Outcome: parseOutcome(w.Outcome),
		Reason:  w.Reason,
		Aborted: w.Aborted,
		Dialog:  w.Dialog,
		Invid:   w.Invid,
		Events:  decodeEvents(w.Events),
	}
	if w.Object != nil {
		r.Object = &object{c: c, ref: *w.Object}
	}
	if w.Continuation != "" {
		cont := w.Continuation
		r.Resume = func(ctx context.Context, answers map[string]string) (*remote.Result, error) {
			return c.callResult(ctx, "resume", ResumeArgs{Continuation: cont, Answers: answers})
		}
	}
	return r
}

// ── remote.Session ──────────────────────────────────────────────────────────

// Bases implements remote.Session.
func (c *Client) Bases(ctx context.Context) ([]schema.Base, error) {
	var out []schema.Base
	if err := c.call(ctx, "bases", nil, &out); err != nil {
		return out, err
	}
	return out, nil
}

// FieldTemplates implements remote.Session.
func (c *Client) FieldTemplates(ctx context.Context, base uint16) ([]schema.FieldTemplate, error) {
	var out []schema.FieldTemplate
	if err := c.call(ctx, "field_templates", BaseArgs{Base: base}, &out); err != nil {
		return out, err
	}
	return out, nil
}

// OpenTransaction implements remote.Session.
func (c *Client) OpenTransaction(ctx context.Context, description string) (*remote.Result, error) {
	return c.callResult(ctx, "open_transaction", TextArgs{Text: description})
}

// CommitTransaction implements remote.Session.
func (c *Client) CommitTransaction(ctx context.Context) (*remote.Result, error) {
	return c.callResult(ctx, "commit_transaction", nil)
}

// AbortTransaction implements remote.Session.
func (c *Client) AbortTransaction(ctx context.Context) (*remote.Result, error) {
	return c.callResult(ctx, "abort_transaction", nil)
}

// CreateObject implements remote.Session.
func (c *Client) CreateObject(ctx context.Context, base uint16) (*remote.Result, error) {
	return c.callResult(ctx, "create_object", BaseArgs{Base: base})
}

// CloneObject implements remote.Session.
func (c *Client) CloneObject(ctx context.Context, invid schema.Invid) (*remote.Result, error) {
	return c.callResult(ctx, "clone_object", InvidArgs{Invid: invid})
}

// EditObject implements remote.Session.
func (c *Client) EditObject(ctx context.Context, invid schema.Invid) (*remote.Result, error) {
	return c.callResult(ctx, "edit_object", InvidArgs{Invid: invid})
}

// ViewObject implements remote.Session.
func (c *Client) ViewObject(ctx context.Context, invid schema.Invid) (*remote.Result, error) {
	return c.callResult(ctx, "view_object", InvidArgs{Invid: invid})
}

// DeleteObject implements remote.Session.
func (c *Client) DeleteObject(ctx context.Context, invid schema.Invid) (*remote.Result, error) {
	return c.callResult(ctx, "delete_object", InvidArgs{Invid: invid})
}

// InactivateObject implements remote.Session.
func (c *Client) InactivateObject(ctx context.Context, invid schema.Invid) (*remote.Result, error) {
	return c.callResult(ctx, "inactivate_object", InvidArgs{Invid: invid})
}

// ReactivateObject implements remote.Session.
func (c *Client) ReactivateObject(ctx context.Context, invid schema.Invid) (*remote.Result, error) {
	return c.callResult(ctx, "reactivate_object", InvidArgs{Invid: invid})
}

// QueryByType implements remote.Session.
func (c *Client) QueryByType(ctx context.Context, base uint16, editableOnly bool) ([]schema.ObjectHandle, error) {
	var out []schema.ObjectHandle
	if err := c.call(ctx, "query_by_type", QueryArgs{Base: base, EditableOnly: editableOnly}, &out); err != nil {
		return out, err
	}
	return out, nil
}

// ObjectLabel implements remote.Session.
func (c *Client) ObjectLabel(ctx context.Context, invid schema.Invid) (string, error) {
	var out string
	if err := c.call(ctx, "object_label", InvidArgs{Invid: invid}, &out); err != nil {
		return out, err
	}
	return out, nil
}

// ObjectHistory implements remote.Session.
func (c *Client) ObjectHistory(ctx context.Context, invid schema.Invid) (string, error) {
	var out string
	if err := c.call(ctx, "object_history", InvidArgs{Invid: invid}, &out); err != nil {
		return out, err
	}
	return out, nil
}

// ── remote.Object ───────────────────────────────────────────────────────────

type object struct {
	c   *Client
	ref ObjectRef
}

var _ remote.Object = (*object)(nil)

func (o *object) Invid() schema.Invid { return o.ref.Invid }

func (o *object) Editable() bool { return o.ref.Editable }

func (o *object) Label(ctx context.Context) (string, error) {
	var out string
	return out, o.c.call(ctx, "object.label", ObjectArgs{Object: o.ref.Handle}, &out)
}

func (o *object) FieldInfos(ctx context.Context) ([]schema.FieldInfo, error) {
	var ws []FieldInfo
	if err := o.c.call(ctx, "object.field_infos", ObjectArgs{Object: o.ref.Handle}, &ws); err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, nil
	}
	out := make([]schema.FieldInfo, len(ws))
	for i, w := range ws {
		info, err := decodeInfo(w)
		if err != nil {
			return nil, err
		}
		out[i] = info
	}
	return out, nil
}

func (o *object) Field(ctx context.Context, id uint16) (remote.Field, error) {
	var ref FieldRef
	if err := o.c.call(ctx, "object.field", FieldArgs{Object: o.ref.Handle, ID: id}, &ref); err != nil {
		return nil, err
	}
	return &field{c: o.c, ref: ref}, nil
}

// ── remote.Field ────────────────────────────────────────────────────────────

type field struct {
	c   *Client
	ref FieldRef
}

var _ remote.MatrixField = (*field)(nil)

func (f *field) ID() uint16 { return f.ref.ID }

func (f *field) args() FieldArgs { return FieldArgs{Field: f.ref.Handle} }

func (f *field) Info(ctx context.Context) (schema.FieldInfo, error) {
	var w FieldInfo
	if err := f.c.call(ctx, "field.info", f.args(), &w); err != nil {
		return schema.FieldInfo{}, err
	}
	return decodeInfo(w)
}

func (f *field) Value(ctx context.Context) (any, error) {
	var w Value
	if err := f.c.call(ctx, "field.value", f.args(), &w); err != nil {
		return nil, err
	}
	return w.Decode()
}

func (f *field) withValue(ctx context.Context, method string, index int, v any) (*remote.Result, error) {
	w, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	return f.c.callResult(ctx, method, ValueArgs{Field: f.ref.Handle, Index: index, Value: w})
}

func (f *field) withValues(ctx context.Context, method string, vs []any) (*remote.Result, error) {
	ws, err := EncodeValues(vs)
	if err != nil {
		return nil, err
	}
	return f.c.callResult(ctx, method, ValueArgs{Field: f.ref.Handle, Values: ws})
}

func (f *field) SetValue(ctx context.Context, v any) (*remote.Result, error) {
	return f.withValue(ctx, "field.set_value", 0, v)
}

func (f *field) SetElement(ctx context.Context, index int, v any) (*remote.Result, error) {
	return f.withValue(ctx, "field.set_element", index, v)
}

func (f *field) ChoicesKey(ctx context.Context) (string, error) {
	var out string
	return out, f.c.call(ctx, "field.choices_key", f.args(), &out)
}

func (f *field) Choices(ctx context.Context) ([]remote.Choice, error) {
	var ws []Choice
	if err := f.c.call(ctx, "field.choices", f.args(), &ws); err != nil {
		return nil, err
	}
	out := make([]remote.Choice, len(ws))
	for i, w := range ws {
		v, err := w.Value.Decode()
		if err != nil {
			return nil, err
		}
		out[i] = remote.Choice{Label: w.Label, Value: v, Editable: w.Editable}
	}
	return out, nil
}

func (f *field) AddElement(ctx context.Context, v any) (*remote.Result, error) {
	return f.withValue(ctx, "field.add_element", 0, v)
}

func (f *field) AddElements(ctx context.Context, vs []any) (*remote.Result, error) {
	return f.withValues(ctx, "field.add_elements", vs)
}

func (f *field) DeleteElement(ctx context.Context, v any) (*remote.Result, error) {
	return f.withValue(ctx, "field.delete_element", 0, v)
}

func (f *field) DeleteElements(ctx context.Context, vs []any) (*remote.Result, error) {
	return f.withValues(ctx, "field.delete_elements", vs)
}

func (f *field) CreateEmbedded(ctx context.Context) (*remote.Result, error) {
	return f.c.callResult(ctx, "field.create_embedded", f.args())
}

func (f *field) DateLimits(ctx context.Context) (remote.DateLimits, error) {
	var out remote.DateLimits
	return out, f.c.call(ctx, "field.date_limits", f.args(), &out)
}

func (f *field) Matrix(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	return out, f.c.call(ctx, "field.matrix", f.args(), &out)
}

func (f *field) SetMatrixEntry(ctx context.Context, key, value string) (*remote.Result, error) {
	return f.c.callResult(ctx, "field.set_matrix_entry", MatrixArgs{Field: f.ref.Handle, Key: key, Value: value})
}
