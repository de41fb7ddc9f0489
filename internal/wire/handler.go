package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

// readLimit bounds a single websocket message. History texts and object
// lists can exceed the library default.
const readLimit = 4 << 20

// SessionFactory returns a fresh remote.Session for a new connection.
type SessionFactory func() remote.Session

// errHandle is returned for a wizard continuation the session never
// issued or already ran. Object and field handles the session forgot
// report remote.ErrReleased instead.
var errHandle = errors.New("unknown handle")

type method func(ctx context.Context, s *Session, data json.RawMessage) (any, error)

// Handler serves the object/field service over websocket connections.
type Handler struct {
	sessions   *Manager
	newSession SessionFactory
	methods    map[string]method
}

// NewHandler creates a WebSocket handler that hosts a session from
// newSession on every connection.
func NewHandler(sessions *Manager, newSession SessionFactory) *Handler {
	h := &Handler{sessions: sessions, newSession: newSession}
	h.methods = map[string]method{
		"bases":              h.bases,
		"field_templates":    h.fieldTemplates,
		"open_transaction":   h.openTransaction,
		"commit_transaction": h.commitTransaction,
		"abort_transaction":  h.abortTransaction,
		"create_object":      h.createObject,
		"clone_object":       byInvid(remote.Session.CloneObject),
		"edit_object":        byInvid(remote.Session.EditObject),
		"view_object":        byInvid(remote.Session.ViewObject),
		"delete_object":      byInvid(remote.Session.DeleteObject),
		"inactivate_object":  byInvid(remote.Session.InactivateObject),
		"reactivate_object":  byInvid(remote.Session.ReactivateObject),
		"query_by_type":      h.queryByType,
		"object_label":       h.objectLabel,
		"object_history":     h.objectHistory,
		"resume":             h.resume,

		"object.label":       h.objLabel,
		"object.field_infos": h.objFieldInfos,
		"object.field":       h.objField,

		"field.info":             h.fieldInfo,
		"field.value":            h.fieldValue,
		"field.set_value":        h.fieldSetValue,
		"field.set_element":      h.fieldSetElement,
		"field.choices_key":      h.fieldChoicesKey,
		"field.choices":          h.fieldChoices,
		"field.add_element":      byValue(remote.Field.AddElement),
		"field.add_elements":     byValues(remote.Field.AddElements),
		"field.delete_element":   byValue(remote.Field.DeleteElement),
		"field.delete_elements":  byValues(remote.Field.DeleteElements),
		"field.create_embedded":  h.fieldCreateEmbedded,
		"field.date_limits":      h.fieldDateLimits,
		"field.matrix":           h.fieldMatrix,
		"field.set_matrix_entry": h.fieldSetMatrixEntry,
	}
	return h
}

// ServeHTTP upgrades to WebSocket and runs the message loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		glog.Warningf("wire: websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	sess := h.sessions.Create(h.newSession())
	defer h.sessions.Remove(sess.ID)
	ctx := r.Context()
	glog.V(2).Infof("wire: session %s connected from %s", sess.ID, r.RemoteAddr)

	h.send(ctx, conn, ServerMessage{
		Type: "session",
		Data: SessionData{SessionID: sess.ID},
	})

	for {
		var msg ClientMessage
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				glog.V(2).Infof("wire: session %s closed: %v", sess.ID, websocket.CloseStatus(err))
			}
			return
		}
		sess.Touch()

		switch msg.Type {
		case "call":
			h.handleCall(ctx, conn, sess, msg)
		case "ping":
			h.send(ctx, conn, ServerMessage{Type: "pong", RequestID: msg.ID})
		default:
			h.sendError(ctx, conn, msg.ID, "unknown_type", fmt.Sprintf("unknown message type: %s", msg.Type))
		}
	}
}

func (h *Handler) handleCall(ctx context.Context, conn *websocket.Conn, sess *Session, msg ClientMessage) {
	m, ok := h.methods[msg.Method]
	if !ok {
		h.sendError(ctx, conn, msg.ID, CodeUnknown, fmt.Sprintf("unknown method: %s", msg.Method))
		return
	}
	out, err := m(ctx, sess, msg.Data)
	if err != nil {
		var de *dataError
		switch {
		case errors.As(err, &de):
			h.sendError(ctx, conn, msg.ID, CodeInvalid, err.Error())
		case errors.Is(err, remote.ErrReleased):
			h.sendError(ctx, conn, msg.ID, CodeReleased, err.Error())
		case errors.Is(err, errHandle):
			h.sendError(ctx, conn, msg.ID, CodeHandle, err.Error())
		default:
			glog.V(2).Infof("wire: %s failed: %v", msg.Method, err)
			h.sendError(ctx, conn, msg.ID, CodeFailed, err.Error())
		}
		return
	}
	h.send(ctx, conn, ServerMessage{Type: "result", RequestID: msg.ID, Data: out})
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) {
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		glog.V(2).Infof("wire: write error: %v", err)
	}
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, requestID, code, message string) {
	h.send(ctx, conn, ServerMessage{
		Type:      "error",
		RequestID: requestID,
		Data: ErrorData{
			Code:    code,
			Message: message,
		},
	})
}

// ── Payload helpers ─────────────────────────────────────────────────────────

type dataError struct{ err error }

func (e *dataError) Error() string { return "invalid call data: " + e.err.Error() }

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, &dataError{err}
	}
	return v, nil
}

// result converts r for the wire, registering its object handle and
// continuation with s.
func (s *Session) result(r *remote.Result) *Result {
	if r == nil {
		return &Result{Outcome: outcomeName(remote.OK)}
	}
	out := &Result{
		Outcome: outcomeName(r.Outcome),
		Reason:  r.Reason,
		Aborted: r.Aborted,
		Dialog:  r.Dialog,
		Invid:   r.Invid,
		Object:  s.putObject(r.Object),
		Events:  encodeEvents(r.Events),
	}
	if r.Outcome == remote.NeedsInteraction && r.Resume != nil {
		out.Continuation = s.putResume(r.Resume)
	}
	return out
}

func wrapResult(s *Session, r *remote.Result, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return s.result(r), nil
}

func (s *Session) objectArg(h string) (remote.Object, error) {
	o, ok := s.object(h)
	if !ok {
		return nil, fmt.Errorf("object %s: %w", h, remote.ErrReleased)
	}
	return o, nil
}

func (s *Session) fieldArg(h string) (remote.Field, error) {
	f, ok := s.field(h)
	if !ok {
		return nil, fmt.Errorf("field %s: %w", h, remote.ErrReleased)
	}
	return f, nil
}

// ── Session methods ─────────────────────────────────────────────────────────

func (h *Handler) bases(ctx context.Context, s *Session, _ json.RawMessage) (any, error) {
	return s.remote.Bases(ctx)
}

func (h *Handler) fieldTemplates(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	args, err := decode[BaseArgs](data)
	if err != nil {
		return nil, err
	}
	return s.remote.FieldTemplates(ctx, args.Base)
}

func (h *Handler) openTransaction(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	args, err := decode[TextArgs](data)
	if err != nil {
		return nil, err
	}
	s.releaseHandles()
	r, err := s.remote.OpenTransaction(ctx, args.Text)
	return wrapResult(s, r, err)
}

func (h *Handler) commitTransaction(ctx context.Context, s *Session, _ json.RawMessage) (any, error) {
	r, err := s.remote.CommitTransaction(ctx)
	return wrapResult(s, r, err)
}

func (h *Handler) abortTransaction(ctx context.Context, s *Session, _ json.RawMessage) (any, error) {
	r, err := s.remote.AbortTransaction(ctx)
	return wrapResult(s, r, err)
}

func (h *Handler) createObject(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	args, err := decode[BaseArgs](data)
	if err != nil {
		return nil, err
	}
	r, err := s.remote.CreateObject(ctx, args.Base)
	return wrapResult(s, r, err)
}

func byInvid(call func(remote.Session, context.Context, schema.Invid) (*remote.Result, error)) method {
	return func(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
		args, err := decode[InvidArgs](data)
		if err != nil {
			return nil, err
		}
		r, err := call(s.remote, ctx, args.Invid)
		return wrapResult(s, r, err)
	}
}

func (h *Handler) queryByType(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	args, err := decode[QueryArgs](data)
	if err != nil {
		return nil, err
	}
	return s.remote.QueryByType(ctx, args.Base, args.EditableOnly)
}

func (h *Handler) objectLabel(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	args, err := decode[InvidArgs](data)
	if err != nil {
		return nil, err
	}
	return s.remote.ObjectLabel(ctx, args.Invid)
}

func (h *Handler) objectHistory(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	args, err := decode[InvidArgs](data)
	if err != nil {
		return nil, err
	}
	return s.remote.ObjectHistory(ctx, args.Invid)
}

func (h *Handler) resume(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	args, err := decode[ResumeArgs](data)
	if err != nil {
		return nil, err
	}
	fn, ok := s.takeResume(args.Continuation)
	if !ok {
		return nil, fmt.Errorf("continuation %s: %w", args.Continuation, errHandle)
	}
	r, err := fn(ctx, args.Answers)
	return wrapResult(s, r, err)
}

// ── Object methods ──────────────────────────────────────────────────────────

func (h *Handler) objLabel(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	args, err := decode[ObjectArgs](data)
	if err != nil {
		return nil, err
	}
	o, err := s.objectArg(args.Object)
	if err != nil {
		return nil, err
	}
	return o.Label(ctx)
}

func (h *Handler) objFieldInfos(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	args, err := decode[ObjectArgs](data)
	if err != nil {
		return nil, err
	}
	o, err := s.objectArg(args.Object)
	if err != nil {
		return nil, err
	}
	infos, err := o.FieldInfos(ctx)
	if err != nil || infos == nil {
		return nil, err
	}
	out := make([]FieldInfo, len(infos))
	for i, info := range infos {
		if out[i], err = encodeInfo(info); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (h *Handler) objField(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	args, err := decode[FieldArgs](data)
	if err != nil {
		return nil, err
	}
	o, err := s.objectArg(args.Object)
	if err != nil {
		return nil, err
	}
	f, err := o.Field(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	return s.putField(f), nil
}

// ── Field methods ───────────────────────────────────────────────────────────

func (h *Handler) fieldInfo(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	f, err := fieldOf(s, data)
	if err != nil {
		return nil, err
	}
	info, err := f.Info(ctx)
	if err != nil {
		return nil, err
	}
	return encodeInfo(info)
}

func (h *Handler) fieldValue(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	f, err := fieldOf(s, data)
	if err != nil {
		return nil, err
	}
	v, err := f.Value(ctx)
	if err != nil {
		return nil, err
	}
	return EncodeValue(v)
}

func (h *Handler) fieldSetValue(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	args, f, err := valueArgs(s, data)
	if err != nil {
		return nil, err
	}
	v, err := args.Value.Decode()
	if err != nil {
		return nil, &dataError{err}
	}
	r, err := f.SetValue(ctx, v)
	return wrapResult(s, r, err)
}

func (h *Handler) fieldSetElement(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	args, f, err := valueArgs(s, data)
	if err != nil {
		return nil, err
	}
	v, err := args.Value.Decode()
	if err != nil {
		return nil, &dataError{err}
	}
	r, err := f.SetElement(ctx, args.Index, v)
	return wrapResult(s, r, err)
}

func (h *Handler) fieldChoicesKey(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	f, err := fieldOf(s, data)
	if err != nil {
		return nil, err
	}
	return f.ChoicesKey(ctx)
}

func (h *Handler) fieldChoices(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	f, err := fieldOf(s, data)
	if err != nil {
		return nil, err
	}
	choices, err := f.Choices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Choice, len(choices))
	for i, c := range choices {
		v, err := EncodeValue(c.Value)
		if err != nil {
			return nil, err
		}
		out[i] = Choice{Label: c.Label, Value: v, Editable: c.Editable}
	}
	return out, nil
}

func byValue(call func(remote.Field, context.Context, any) (*remote.Result, error)) method {
	return func(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
		args, f, err := valueArgs(s, data)
		if err != nil {
			return nil, err
		}
		v, err := args.Value.Decode()
		if err != nil {
			return nil, &dataError{err}
		}
		r, err := call(f, ctx, v)
		return wrapResult(s, r, err)
	}
}

func byValues(call func(remote.Field, context.Context, []any) (*remote.Result, error)) method {
	return func(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
		args, f, err := valueArgs(s, data)
		if err != nil {
			return nil, err
		}
		vs, err := DecodeValues(args.Values)
		if err != nil {
			return nil, &dataError{err}
		}
		r, err := call(f, ctx, vs)
		return wrapResult(s, r, err)
	}
}

func (h *Handler) fieldCreateEmbedded(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	f, err := fieldOf(s, data)
	if err != nil {
		return nil, err
	}
	r, err := f.CreateEmbedded(ctx)
	return wrapResult(s, r, err)
}

func (h *Handler) fieldDateLimits(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	f, err := fieldOf(s, data)
	if err != nil {
		return nil, err
	}
	return f.DateLimits(ctx)
}

func (h *Handler) fieldMatrix(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	f, err := fieldOf(s, data)
	if err != nil {
		return nil, err
	}
	mf, ok := f.(remote.MatrixField)
	if !ok {
		return nil, fmt.Errorf("field %d is not a matrix", f.ID())
	}
	return mf.Matrix(ctx)
}

func (h *Handler) fieldSetMatrixEntry(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	args, err := decode[MatrixArgs](data)
	if err != nil {
		return nil, err
	}
	f, err := s.fieldArg(args.Field)
	if err != nil {
		return nil, err
	}
	mf, ok := f.(remote.MatrixField)
	if !ok {
		return nil, fmt.Errorf("field %d is not a matrix", f.ID())
	}
	r, err := mf.SetMatrixEntry(ctx, args.Key, args.Value)
	return wrapResult(s, r, err)
}

func fieldOf(s *Session, data json.RawMessage) (remote.Field, error) {
	args, err := decode[FieldArgs](data)
	if err != nil {
		return nil, err
	}
	return s.fieldArg(args.Field)
}

func valueArgs(s *Session, data json.RawMessage) (ValueArgs, remote.Field, error) {
	args, err := decode[ValueArgs](data)
	if err != nil {
		return args, nil, err
	}
	f, err := s.fieldArg(args.Field)
	return args, f, err
}
