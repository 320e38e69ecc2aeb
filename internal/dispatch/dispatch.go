// Package dispatch implements the three layered command/event dispatch
// roles described by spec.md §4.8: CommandDispatch (AMF command routing and
// the pending-call table), EventDispatch (wait_status/onStatus) and
// CallDispatch (server-style remote_* RPC handling). It is grounded on
// twimp/dispatch.py's CallDispatchProtocol, translated from a
// deferred/errback style into channels and a cancellable CallQueue.
package dispatch

import (
	"context"
	"sync"

	"github.com/relaycast/rtmpcore/internal/amf0"
	"github.com/relaycast/rtmpcore/internal/chunk"
	"github.com/relaycast/rtmpcore/internal/rtmperr"
)

// CommandHandler handles a named command for which no reply is expected
// through the pending-call machinery (onStatus, notify-style commands).
type CommandHandler func(ts uint32, msID uint32, args []amf0.Value)

// RemoteHandler answers a server-style RPC call. A nil error sends result
// back as `_result`; see dispatchRemote for how the error cases translate.
type RemoteHandler func(ts uint32, msID uint32, args []amf0.Value) (amf0.Value, error)

// CallResult is the outcome of a call_remote, delivered on the channel
// returned by CallRemote once a matching _result/_error arrives.
type CallResult struct {
	Args []amf0.Value
	Err  error // *rtmperr.CommandResultError when the peer replied with _error
}

type pendingKey struct {
	msID    uint32
	transID uint32
}

// StatusResult is the outcome of a WaitStatus call.
type StatusResult struct {
	Info *amf0.Object
	Err  error
}

type statusWaiter struct {
	code string // "" means wildcard: matches any code
	ch   chan StatusResult
}

// Dispatcher owns one connection's command routing: the pending call table,
// per-ms_id status waiter queues, and the command_/remote_ handler
// registries. It is safe for concurrent use.
type Dispatcher struct {
	mu sync.Mutex

	mux   *chunk.Muxer
	queue *CallQueue

	// Now returns the session clock's millisecond timestamp, mod 2^32, used
	// on generated replies (onStatus, _result, _error).
	Now func() uint32

	commandHandlers map[string]CommandHandler
	remoteHandlers  map[string]RemoteHandler

	pending      map[pendingKey]chan CallResult
	nextTransID  map[uint32]uint32
	statusQueues map[uint32][]*statusWaiter

	// OnUnexpectedCallResult/Error fire when a _result/_error arrives with
	// no matching pending call — twimp's unexpectedCallResult/Error hooks.
	OnUnexpectedCallResult func(msID, transID uint32, args []amf0.Value)
	OnUnexpectedCallError  func(msID, transID uint32, args []amf0.Value)

	// OnContractError fires for a malformed command message or an onStatus
	// whose info object is missing .code.
	OnContractError func(err *rtmperr.ProtocolContractError)

	// OnUnknownCommand fires when a command has neither a command_ nor a
	// remote_ handler registered. It gets a chance to handle the call itself
	// (e.g. forwarding to an application's own remote_<name> method per
	// spec.md §4.9); a true return suppresses the dispatcher's own generic
	// NetStream.Failed _error reply.
	OnUnknownCommand func(name string, ts uint32, msID, transID uint32, args []amf0.Value) bool

	// OnFatal fires when a remote_ handler raises a fatal CallResultError;
	// the caller should close the connection after the _error reply goes
	// out.
	OnFatal func(err error)
}

// New wires a Dispatcher on top of a chunk.Muxer, ready to send command
// replies and RPC calls. now reports the session clock in milliseconds.
func New(mux *chunk.Muxer, now func() uint32) *Dispatcher {
	d := &Dispatcher{
		mux:             mux,
		queue:           NewCallQueue(),
		Now:             now,
		commandHandlers: make(map[string]CommandHandler),
		remoteHandlers:  make(map[string]RemoteHandler),
		pending:         make(map[pendingKey]chan CallResult),
		nextTransID:     make(map[uint32]uint32),
		statusQueues:    make(map[uint32][]*statusWaiter),
	}
	d.commandHandlers["onStatus"] = d.onStatus
	return d
}

// OnCommand registers a command_<name> handler: commands with this name
// scheduled through the call queue, with no reply machinery.
func (d *Dispatcher) OnCommand(name string, h CommandHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commandHandlers[name] = h
}

// OnRemote registers a remote_<name> handler for server-style RPC calls
// that have no command_ handler.
func (d *Dispatcher) OnRemote(name string, h RemoteHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remoteHandlers[name] = h
}

// Close cancels the call queue and fails every pending call and status
// waiter with reason, mirroring twimp's connectionLost fan-out.
func (d *Dispatcher) Close(reason error) {
	d.queue.Cancel()

	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[pendingKey]chan CallResult)
	queues := d.statusQueues
	d.statusQueues = make(map[uint32][]*statusWaiter)
	d.mu.Unlock()

	for _, ch := range pending {
		ch <- CallResult{Err: reason}
		close(ch)
	}
	for _, waiters := range queues {
		for _, w := range waiters {
			w.ch <- StatusResult{Err: reason}
			close(w.ch)
		}
	}
}

// HandleCommand decodes and routes one COMMAND message's body. It is the
// entry point a proto/session layer calls for every chunk.Message whose
// Header.Type is the COMMAND wire type.
func (d *Dispatcher) HandleCommand(ts uint32, msID uint32, body []byte) {
	vals, err := amf0.Decode(body)
	if err != nil || len(vals) < 2 {
		d.contractError("malformed command message")
		return
	}
	name := vals[0].String()
	transID := uint32(vals[1].Int64())
	args := vals[2:]

	if name == "_result" || name == "_error" {
		d.completeCall(msID, transID, name == "_result", args)
		return
	}

	d.queue.Schedule(func(ctx context.Context) {
		d.route(ctx, name, ts, msID, transID, args)
	})
}

func (d *Dispatcher) contractError(reason string) {
	if d.OnContractError != nil {
		d.OnContractError(&rtmperr.ProtocolContractError{Reason: reason})
	}
}

func (d *Dispatcher) completeCall(msID, transID uint32, ok bool, args []amf0.Value) {
	key := pendingKey{msID, transID}
	d.mu.Lock()
	ch, found := d.pending[key]
	if found {
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if !found {
		if ok {
			if d.OnUnexpectedCallResult != nil {
				d.OnUnexpectedCallResult(msID, transID, args)
			}
		} else if d.OnUnexpectedCallError != nil {
			d.OnUnexpectedCallError(msID, transID, args)
		}
		return
	}

	if ok {
		ch <- CallResult{Args: args}
	} else {
		ch <- CallResult{Err: &rtmperr.CommandResultError{Info: firstObject(args)}}
	}
	close(ch)
}

func firstObject(args []amf0.Value) *amf0.Object {
	for _, a := range args {
		if a.Type == amf0.TypeObject {
			return a.Object()
		}
	}
	return amf0.NewObject()
}

// route dispatches one decoded command to a command_ handler if registered,
// else to CallDispatch's remote_ handling.
func (d *Dispatcher) route(ctx context.Context, name string, ts, msID, transID uint32, args []amf0.Value) {
	d.mu.Lock()
	h, ok := d.commandHandlers[name]
	d.mu.Unlock()
	if ok {
		h(ts, msID, args)
		return
	}
	d.dispatchRemote(ctx, name, ts, msID, transID, args)
}

// dispatchRemote implements CallDispatch: route an unrecognized command name
// to remote_<name>, translating its return/panic-free error into the
// appropriate reply per spec.md §4.8.
func (d *Dispatcher) dispatchRemote(ctx context.Context, name string, ts, msID, transID uint32, args []amf0.Value) {
	d.mu.Lock()
	h, ok := d.remoteHandlers[name]
	d.mu.Unlock()
	if !ok {
		if d.OnUnknownCommand != nil && d.OnUnknownCommand(name, ts, msID, transID, args) {
			return
		}
		if transID != 0 {
			d.replyError(msID, transID, &rtmperr.CallResultError{
				Code: "NetStream.Failed", Level: "error", Description: "no such method: " + name,
			})
		}
		return
	}

	result, err := h(ts, msID, args)
	if err != nil {
		switch e := err.(type) {
		case *rtmperr.CallAbortedError:
			return
		case *rtmperr.CallResultError:
			d.replyError(msID, transID, e)
			if e.Fatal && d.OnFatal != nil {
				d.OnFatal(e)
			}
		default:
			d.replyError(msID, transID, &rtmperr.CallResultError{
				Code: "NetStream.Failed", Level: "error", Description: err.Error(),
			})
		}
		return
	}

	if transID != 0 {
		d.sendCommand(msID, "_result", transID, amf0.Null(), result)
	}
}

func (d *Dispatcher) replyError(msID, transID uint32, e *rtmperr.CallResultError) {
	if transID == 0 {
		return
	}
	info1, info2 := e.ErrorArgs()
	d.sendCommand(msID, "_error", transID, info1, info2)
}

func (d *Dispatcher) sessionTime() uint32 {
	if d.Now != nil {
		return d.Now()
	}
	return 0
}

func (d *Dispatcher) sendCommand(msID uint32, name string, transID uint32, args ...amf0.Value) {
	vals := append([]amf0.Value{amf0.String(name), amf0.Number(float64(transID))}, args...)
	body := amf0.Encode(vals...)
	d.mux.SendMessage(chunk.CategoryCommand, d.sessionTime(), msID, body, true)
}

// CallRemote allocates a fresh transaction id for msID, sends (cmd, transID,
// args...), and returns a channel that receives exactly one CallResult once
// a matching _result/_error arrives (or the dispatcher is closed).
func (d *Dispatcher) CallRemote(msID uint32, cmd string, args ...amf0.Value) <-chan CallResult {
	d.mu.Lock()
	d.nextTransID[msID]++
	transID := d.nextTransID[msID]
	ch := make(chan CallResult, 1)
	d.pending[pendingKey{msID, transID}] = ch
	d.mu.Unlock()

	d.sendCommand(msID, cmd, transID, args...)
	return ch
}

// SignalRemote sends (cmd, 0, args...) with no reply expected.
func (d *Dispatcher) SignalRemote(msID uint32, cmd string, args ...amf0.Value) {
	d.sendCommand(msID, cmd, 0, args...)
}

// SendOnStatus emits an onStatus command carrying a single info object, the
// shape every status reply in the app-server protocol uses.
func (d *Dispatcher) SendOnStatus(msID uint32, info *amf0.Object) {
	d.sendCommand(msID, "onStatus", 0, amf0.Null(), amf0.Obj(info))
}

// WaitStatus registers a FIFO wait for the next onStatus on msID. code == ""
// matches any status code (a wildcard wait); otherwise the code must match
// exactly or the waiter fails with *rtmperr.UnexpectedStatusError.
func (d *Dispatcher) WaitStatus(msID uint32, code string) <-chan StatusResult {
	w := &statusWaiter{code: code, ch: make(chan StatusResult, 1)}
	d.mu.Lock()
	d.statusQueues[msID] = append(d.statusQueues[msID], w)
	d.mu.Unlock()
	return w.ch
}

// onStatus is the built-in command_onStatus handler: args are
// (null, infoObject) per spec.md §4.8.
func (d *Dispatcher) onStatus(ts uint32, msID uint32, args []amf0.Value) {
	var info *amf0.Object
	if len(args) >= 2 && args[1].Type == amf0.TypeObject {
		info = args[1].Object()
	}
	if info == nil {
		d.contractError("onStatus with no info object")
		return
	}
	codeVal, ok := info.Get("code")
	if !ok {
		d.contractError("onStatus info object has no .code")
		return
	}
	code := codeVal.String()

	d.mu.Lock()
	queue := d.statusQueues[msID]
	if len(queue) == 0 {
		d.mu.Unlock()
		return
	}
	w := queue[0]
	d.statusQueues[msID] = queue[1:]
	d.mu.Unlock()

	if w.code != "" && w.code != code {
		w.ch <- StatusResult{Err: &rtmperr.UnexpectedStatusError{Got: code, Want: w.code}}
	} else {
		w.ch <- StatusResult{Info: info}
	}
	close(w.ch)
}
