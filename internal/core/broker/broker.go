package broker

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Broker is the extension fabric every subsystem rides on. It publishes three
// orthogonal mechanisms keyed by Go type: unique interface providers (with
// refcounted handles and two-phase unregister), append-ordered callback lists,
// and advisor chains. Brokers form a tree: one global broker at the root and
// one child per arena. Lookup walks self→parent; callback firing runs local
// handlers before recursing into the parent.
type Broker struct {
	parent *Broker
	name   string
	log    *zap.Logger

	mu         sync.Mutex
	interfaces map[reflect.Type]*ifaceEntry
	callbacks  map[reflect.Type]*cbList
	advisors   map[reflect.Type][]*AdvisorToken
	firing     map[reflect.Type]bool // reentrancy guard, mainloop only
}

var ErrAlreadyRegistered = errors.New("broker: interface already registered")

func New(name string, log *zap.Logger) *Broker {
	return newBroker(nil, name, log)
}

// NewChild creates an arena-scoped broker whose parent is b.
func (b *Broker) NewChild(name string) *Broker {
	return newBroker(b, name, b.log)
}

func newBroker(parent *Broker, name string, log *zap.Logger) *Broker {
	return &Broker{
		parent:     parent,
		name:       name,
		log:        log,
		interfaces: make(map[reflect.Type]*ifaceEntry),
		callbacks:  make(map[reflect.Type]*cbList),
		advisors:   make(map[reflect.Type][]*AdvisorToken),
		firing:     make(map[reflect.Type]bool),
	}
}

func (b *Broker) Name() string    { return b.name }
func (b *Broker) Parent() *Broker { return b.parent }

// ── Interfaces ─────────────────────────────────────────────────

type ifaceEntry struct {
	impl any
	refs int
}

// InterfaceToken identifies one interface registration. Unregistering
// consumes it.
type InterfaceToken struct {
	b *Broker
	t reflect.Type
}

// InterfaceRef is a counted handle on a provider. Release is mandatory and
// safe to call more than once.
type InterfaceRef struct {
	b        *Broker
	t        reflect.Type
	released bool
}

// RegisterInterface installs impl as the unique provider of T at this broker.
// Callers that want zone-wide visibility must register at the root broker.
func RegisterInterface[T any](b *Broker, impl T) (*InterfaceToken, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.interfaces[t]; ok {
		return nil, fmt.Errorf("%w: %s at %s", ErrAlreadyRegistered, t, b.name)
	}
	b.interfaces[t] = &ifaceEntry{impl: impl}
	return &InterfaceToken{b: b, t: t}, nil
}

// GetInterface finds the nearest provider of T walking self→parent and takes
// a counted handle on it.
func GetInterface[T any](b *Broker) (T, *InterfaceRef, bool) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for cur := b; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		if e, ok := cur.interfaces[t]; ok {
			e.refs++
			cur.mu.Unlock()
			return e.impl.(T), &InterfaceRef{b: cur, t: t}, true
		}
		cur.mu.Unlock()
	}
	var zero T
	return zero, nil, false
}

// ReleaseInterface drops a handle. A nil or already-released ref is a no-op.
func (b *Broker) ReleaseInterface(ref *InterfaceRef) {
	if ref == nil || ref.released {
		return
	}
	ref.released = true
	ref.b.mu.Lock()
	defer ref.b.mu.Unlock()
	if e, ok := ref.b.interfaces[ref.t]; ok && e.refs > 0 {
		e.refs--
	}
}

// UnregisterInterface removes the provider iff its refcount is zero.
// Otherwise it returns the count of outstanding handles and the registration
// stays intact; the caller retries after the holders release.
func UnregisterInterface(tok *InterfaceToken) int {
	if tok == nil || tok.b == nil {
		return 0
	}
	tok.b.mu.Lock()
	defer tok.b.mu.Unlock()
	e, ok := tok.b.interfaces[tok.t]
	if !ok {
		return 0
	}
	if e.refs > 0 {
		return e.refs
	}
	delete(tok.b.interfaces, tok.t)
	tok.b = nil
	return 0
}

// ── Callbacks ──────────────────────────────────────────────────

type cbList struct {
	handlers []*CallbackToken
}

// CallbackToken identifies one registered handler.
type CallbackToken struct {
	b  *Broker
	t  reflect.Type
	fn any
}

// RegisterCallback appends a handler for events of type T. Invocation order
// is registration order.
func RegisterCallback[T any](b *Broker, fn func(T)) *CallbackToken {
	t := reflect.TypeOf((*T)(nil)).Elem()
	tok := &CallbackToken{b: b, t: t, fn: fn}
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.callbacks[t]
	if !ok {
		l = &cbList{}
		b.callbacks[t] = l
	}
	l.handlers = append(l.handlers, tok)
	return tok
}

// UnregisterCallback removes one handler. Idempotent.
func UnregisterCallback(tok *CallbackToken) {
	if tok == nil || tok.b == nil {
		return
	}
	tok.b.mu.Lock()
	defer tok.b.mu.Unlock()
	if l, ok := tok.b.callbacks[tok.t]; ok {
		for i, h := range l.handlers {
			if h == tok {
				l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
				break
			}
		}
		if len(l.handlers) == 0 {
			delete(tok.b.callbacks, tok.t)
		}
	}
	tok.b = nil
}

// Fire runs every local handler for T in registration order, then recurses
// into the parent broker. The handler list is snapshotted, so handlers may
// register or unregister during the firing. A handler that would retrigger
// the same event type at the same broker is dropped with a log line.
func Fire[T any](b *Broker, ev T) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for cur := b; cur != nil; cur = cur.parent {
		cur.fireLocal(t, func(h any) { h.(func(T))(ev) })
	}
}

func (b *Broker) fireLocal(t reflect.Type, call func(any)) {
	b.mu.Lock()
	if b.firing[t] {
		b.mu.Unlock()
		b.log.Warn("dropped reentrant callback fire",
			zap.String("broker", b.name),
			zap.String("event", t.String()),
		)
		return
	}
	var snapshot []*CallbackToken
	if l, ok := b.callbacks[t]; ok {
		snapshot = append(snapshot, l.handlers...)
	}
	b.firing[t] = true
	b.mu.Unlock()

	for _, h := range snapshot {
		call(h.fn)
	}

	b.mu.Lock()
	delete(b.firing, t)
	b.mu.Unlock()
}

// ── Advisors ───────────────────────────────────────────────────

// AdvisorToken identifies one installed advisor. Deregistering consumes it.
type AdvisorToken struct {
	b    *Broker
	t    reflect.Type
	impl any
}

func RegisterAdvisor[T any](b *Broker, impl T) *AdvisorToken {
	t := reflect.TypeOf((*T)(nil)).Elem()
	tok := &AdvisorToken{b: b, t: t, impl: impl}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advisors[t] = append(b.advisors[t], tok)
	return tok
}

func UnregisterAdvisor(tok *AdvisorToken) {
	if tok == nil || tok.b == nil {
		return
	}
	tok.b.mu.Lock()
	defer tok.b.mu.Unlock()
	regs := tok.b.advisors[tok.t]
	for i, r := range regs {
		if r == tok {
			tok.b.advisors[tok.t] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	tok.b = nil
}

// Advisors returns the advisor chain for T: local advisors first, then each
// ancestor's, preserving registration order within a broker.
func Advisors[T any](b *Broker) []T {
	t := reflect.TypeOf((*T)(nil)).Elem()
	var out []T
	for cur := b; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		for _, r := range cur.advisors[t] {
			out = append(out, r.impl.(T))
		}
		cur.mu.Unlock()
	}
	return out
}

// ── Teardown ───────────────────────────────────────────────────

// CanDestroy reports whether every interface has refcount zero and every
// callback list is empty. Arena teardown blocks on this.
func (b *Broker) CanDestroy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.interfaces {
		if e.refs > 0 {
			return false
		}
	}
	return len(b.callbacks) == 0
}
