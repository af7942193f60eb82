package client

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskboard/domain"
)

// ProvisionalPrefix marks registry ids of creates not yet confirmed.
const ProvisionalPrefix = "tmp-"

// IsProvisional reports whether id belongs to an unconfirmed create.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

var (
	ErrHandleSettled = errors.New("handle already settled")
	ErrUnknownTask   = errors.New("task not in registry")
	ErrWrongHandle   = errors.New("confirmation does not match handle")
)

// HandleState tracks one user-initiated mutation.
type HandleState int

const (
	Idle HandleState = iota
	Optimistic
	Confirmed
	RolledBack
)

func (s HandleState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Optimistic:
		return "optimistic"
	case Confirmed:
		return "confirmed"
	case RolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

type MutationKind int

const (
	KindCreate MutationKind = iota + 1
	KindUpdate
	KindDelete
)

// Mutation is a local change to apply speculatively.
type Mutation struct {
	Kind  MutationKind
	ID    string
	Draft domain.Draft
	Patch domain.Patch
}

func CreateMutation(d domain.Draft) Mutation { return Mutation{Kind: KindCreate, Draft: d} }

func UpdateMutation(id string, p domain.Patch) Mutation {
	return Mutation{Kind: KindUpdate, ID: id, Patch: p}
}

func DeleteMutation(id string) Mutation { return Mutation{Kind: KindDelete, ID: id} }

// Handle is returned by ApplyLocalOptimistic and settled exactly once by
// Confirm, ConfirmDelete or Rollback. Handles are never reused.
type Handle struct {
	id          string
	mut         Mutation
	provisional domain.Task
	state       HandleState
}

// ID is the registry id the handle speculates on. For creates this is the
// provisional id.
func (h *Handle) ID() string { return h.id }

func (h *Handle) Kind() MutationKind { return h.mut.Kind }

// State is only meaningful while the engine that issued h is not mid-call.
func (h *Handle) State() HandleState { return h.state }

// Emitter announces confirmed events on the broadcast channel.
type Emitter interface {
	Emit(ev domain.Event)
}

type EngineOptions struct {
	ClientID string
	Emitter  Emitter
	Notifier Notifier
	Now      func() time.Time
}

// slot holds the authoritative base of an id with in-flight handles. The
// visible value is the base with every pending handle replayed in order, so
// settling one handle never clobbers another's speculation.
type slot struct {
	base    domain.Task
	present bool
	pending []*Handle
}

func (s *slot) visible() (domain.Task, bool) {
	t, ok := s.base, s.present
	for _, h := range s.pending {
		switch h.mut.Kind {
		case KindCreate:
			t, ok = h.provisional, true
		case KindUpdate:
			if ok {
				t = h.mut.Patch.Apply(t)
			}
		case KindDelete:
			ok = false
		}
	}
	return t, ok
}

func (s *slot) remove(h *Handle) {
	for i, p := range s.pending {
		if p == h {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// Engine is the only writer to a Registry. It merges local optimistic
// changes, confirmations and remote events. Each entry point runs to
// completion under one lock; registry listeners must not call back into it.
type Engine struct {
	registry *Registry
	clientID string
	emitter  Emitter
	notifier Notifier
	now      func() time.Time

	mu      sync.Mutex
	slots   map[string]*slot
	seen    map[string]int64
	echoes  map[string]echo
	touched map[string]uint64
	tick    uint64

	// Own taskCreated broadcasts that beat their POST response. They stay
	// off the registry while a create is in flight so the provisional card
	// is not doubled.
	held    map[string]domain.Task
	creates int
}

// echo is a confirmed version this client still expects back from the channel.
type echo struct {
	version int64
	tick    uint64
}

func NewEngine(registry *Registry, opts EngineOptions) *Engine {
	if registry == nil {
		panic("client.NewEngine: registry is nil")
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.Notifier == nil {
		opts.Notifier = NotifierFunc(func(Notice) {})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		registry: registry,
		clientID: opts.ClientID,
		emitter:  opts.Emitter,
		notifier: opts.Notifier,
		now:      opts.Now,
		slots:    make(map[string]*slot),
		seen:     make(map[string]int64),
		echoes:   make(map[string]echo),
		touched:  make(map[string]uint64),
		held:     make(map[string]domain.Task),
	}
}

func (e *Engine) ClientID() string { return e.clientID }

func (e *Engine) Registry() *Registry { return e.registry }

// ApplyLocalOptimistic applies m to the registry immediately and returns the
// handle to settle once the Mutation API answers. Updates and deletes of ids
// the registry does not hold fail without touching it.
func (e *Engine) ApplyLocalOptimistic(m Mutation) (*Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := &Handle{mut: m}
	switch m.Kind {
	case KindCreate:
		h.id = ProvisionalPrefix + uuid.NewString()
		h.provisional = m.Draft.Task()
		h.provisional.ID = h.id
		h.provisional.CreatedAt = e.now().UTC()
		e.creates++
	case KindUpdate, KindDelete:
		if _, ok := e.registry.Get(m.ID); !ok {
			return nil, ErrUnknownTask
		}
		h.id = m.ID
	default:
		return nil, errors.New("unknown mutation kind")
	}

	s := e.slotFor(h.id)
	s.pending = append(s.pending, h)
	h.state = Optimistic
	e.recompute(h.id)
	return h, nil
}

// Confirm settles a create or update handle with the record the Mutation API
// returned and announces it on the channel.
func (e *Engine) Confirm(h *Handle, authoritative domain.Task) error {
	if h == nil {
		return ErrHandleSettled
	}
	var ev domain.Event
	switch h.mut.Kind {
	case KindCreate:
		ev = domain.NewCreatedEvent(authoritative, e.clientID)
	case KindUpdate:
		if authoritative.ID != h.id {
			return ErrWrongHandle
		}
		ev = domain.NewUpdatedEvent(authoritative, e.clientID)
	default:
		return ErrWrongHandle
	}

	e.mu.Lock()
	if err := e.settle(h, Confirmed); err != nil {
		e.mu.Unlock()
		return err
	}
	e.expectEcho(authoritative.ID, authoritative.Version)
	shown := authoritative
	if held, ok := e.held[shown.ID]; ok {
		delete(e.held, shown.ID)
		if held.Version > shown.Version {
			shown = held
		}
	}
	// The confirmed record lands before the speculation is retired, so
	// listeners never see the pre-action value in between.
	if e.accept(shown.ID, shown.Version, true) && e.stage(shown) && shown.ID != h.id {
		e.recompute(shown.ID)
	}
	e.recompute(h.id)
	e.flushHeld()
	e.mu.Unlock()

	e.emit(ev)
	return nil
}

// ConfirmDelete settles a delete handle with the tombstone version the
// Mutation API returned.
func (e *Engine) ConfirmDelete(h *Handle, version int64) error {
	if h == nil || h.mut.Kind != KindDelete {
		return ErrWrongHandle
	}
	e.mu.Lock()
	if err := e.settle(h, Confirmed); err != nil {
		e.mu.Unlock()
		return err
	}
	e.expectEcho(h.id, version)
	if e.accept(h.id, version, true) {
		if s, ok := e.slots[h.id]; ok {
			s.base, s.present = domain.Task{}, false
		}
	}
	e.recompute(h.id)
	e.mu.Unlock()

	e.emit(domain.NewDeletedEvent(h.id, version, e.clientID))
	return nil
}

// Rollback discards the handle's speculation, restoring the pre-action value
// (or removing a provisional create), and surfaces cause to the user.
func (e *Engine) Rollback(h *Handle, cause error) error {
	e.mu.Lock()
	if err := e.settle(h, RolledBack); err != nil {
		e.mu.Unlock()
		return err
	}
	e.recompute(h.id)
	e.flushHeld()
	e.mu.Unlock()

	kind := NoticePersistence
	if errors.Is(cause, ErrUnauthorized) {
		kind = NoticeUnauthorized
	}
	msg := "change could not be saved and was reverted"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	e.notifier.Notify(Notice{Kind: kind, TaskID: h.id, Message: msg, Err: cause})
	return nil
}

// ApplyRemote merges a channel event. An echo of this client's own confirmed
// mutation is a no-op; so is an event older than what the registry already
// reflects for that id. It reports whether the registry was touched.
func (e *Engine) ApplyRemote(ev domain.Event) bool {
	if err := ev.Validate(); err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	id := ev.ID()
	if ec, ok := e.echoes[id]; ok {
		if ev.Originator == e.clientID && ev.Version == ec.version {
			delete(e.echoes, id)
			return false
		}
		if ev.Version > ec.version {
			delete(e.echoes, id)
		}
	}

	_, isHeld := e.held[id]
	ownEarlyCreate := ev.Kind == domain.TaskCreated && ev.Originator == e.clientID && e.creates > 0
	switch ev.Kind {
	case domain.TaskCreated, domain.TaskUpdated:
		t := *ev.Task
		if t.Version == 0 {
			t.Version = ev.Version
		}
		if isHeld || ownEarlyCreate {
			if e.accept(id, t.Version, true) {
				e.held[id] = t
			}
			return false
		}
		return e.applyPresent(t, true)
	case domain.TaskDeleted:
		if isHeld {
			if e.accept(id, ev.Version, true) {
				delete(e.held, id)
			}
			return false
		}
		return e.applyAbsent(id, ev.Version, true)
	}
	return false
}

// Mark returns a position in the engine's change sequence. Pass it to Reseed
// together with a snapshot fetched after Mark was taken.
func (e *Engine) Mark() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// Reseed merges a full GET /tasks snapshot. Records newer than the snapshot
// win; ids missing from it are removed unless a confirmation or remote event
// touched them after mark. In-flight handles stay applied on top.
func (e *Engine) Reseed(tasks []domain.Task, mark uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inSnapshot := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		inSnapshot[t.ID] = struct{}{}
		e.applyPresent(t, false)
	}

	var stale []string
	for _, t := range e.registry.List() {
		if _, ok := e.slots[t.ID]; !ok {
			stale = append(stale, t.ID)
		}
	}
	for id, s := range e.slots {
		if s.present {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		if IsProvisional(id) {
			continue
		}
		if _, ok := inSnapshot[id]; ok {
			continue
		}
		if e.touched[id] > mark {
			continue
		}
		e.setAbsent(id)
	}
	e.prune(inSnapshot, mark)
}

// prune drops bookkeeping the snapshot made redundant. Version marks go for
// ids that are gone everywhere; echoes and touch stamps from before mark
// belong to a connection whose broadcasts will not arrive any more.
func (e *Engine) prune(inSnapshot map[string]struct{}, mark uint64) {
	for id := range e.seen {
		if _, ok := inSnapshot[id]; ok {
			continue
		}
		if _, ok := e.registry.Get(id); ok {
			continue
		}
		if _, ok := e.slots[id]; ok {
			continue
		}
		if _, ok := e.held[id]; ok {
			continue
		}
		if e.touched[id] > mark {
			continue
		}
		delete(e.seen, id)
	}
	for id, ec := range e.echoes {
		if ec.tick <= mark {
			delete(e.echoes, id)
		}
	}
	for id, tick := range e.touched {
		if tick <= mark {
			delete(e.touched, id)
		}
	}
}

// Pending reports the number of unsettled handles for id.
func (e *Engine) Pending(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.slots[id]; ok {
		return len(s.pending)
	}
	return 0
}

func (e *Engine) emit(ev domain.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

func (e *Engine) settle(h *Handle, to HandleState) error {
	if h == nil || h.state != Optimistic {
		return ErrHandleSettled
	}
	if s, ok := e.slots[h.id]; ok {
		s.remove(h)
	}
	if h.mut.Kind == KindCreate {
		e.creates--
	}
	h.state = to
	return nil
}

// expectEcho records that the channel will bring version of id back to this
// client, unless that broadcast already arrived.
func (e *Engine) expectEcho(id string, version int64) {
	e.touch(id)
	if e.seen[id] >= version {
		return
	}
	e.echoes[id] = echo{version: version, tick: e.tick}
}

// flushHeld publishes held creates once no create of this client is in
// flight; those are records the server persisted for a create this client
// gave up on.
func (e *Engine) flushHeld() {
	if e.creates > 0 {
		return
	}
	for id, t := range e.held {
		delete(e.held, id)
		if e.stage(t) {
			e.recompute(id)
		}
	}
}

func (e *Engine) slotFor(id string) *slot {
	if s, ok := e.slots[id]; ok {
		return s
	}
	base, present := e.registry.Get(id)
	s := &slot{base: base, present: present}
	e.slots[id] = s
	return s
}

// recompute writes the visible value of id to the registry and retires the
// slot once nothing is in flight.
func (e *Engine) recompute(id string) {
	s, ok := e.slots[id]
	if !ok {
		return
	}
	if t, present := s.visible(); present {
		e.registry.Upsert(t)
	} else {
		e.registry.Remove(id)
	}
	if len(s.pending) == 0 {
		delete(e.slots, id)
	}
}

// accept advances the version mark of id, refusing anything older than what
// was already applied.
func (e *Engine) accept(id string, version int64, touch bool) bool {
	if version < e.seen[id] {
		return false
	}
	e.seen[id] = version
	if touch {
		e.touch(id)
	}
	return true
}

// stage makes t the authoritative value of its id. With handles in flight it
// becomes the slot base and stage reports true: the caller recomputes.
func (e *Engine) stage(t domain.Task) bool {
	if s, ok := e.slots[t.ID]; ok {
		s.base, s.present = t, true
		return true
	}
	e.registry.Upsert(t)
	return false
}

func (e *Engine) applyPresent(t domain.Task, touch bool) bool {
	if !e.accept(t.ID, t.Version, touch) {
		return false
	}
	if e.stage(t) {
		e.recompute(t.ID)
	}
	return true
}

func (e *Engine) applyAbsent(id string, version int64, touch bool) bool {
	if !e.accept(id, version, touch) {
		return false
	}
	return e.setAbsent(id)
}

func (e *Engine) setAbsent(id string) bool {
	if s, ok := e.slots[id]; ok {
		s.base, s.present = domain.Task{}, false
		e.recompute(id)
		return true
	}
	return e.registry.Remove(id)
}

func (e *Engine) touch(id string) {
	e.tick++
	e.touched[id] = e.tick
}
