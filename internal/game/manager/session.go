package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/thraizz/advancement-server-go/internal/game/advancement"
	"github.com/thraizz/advancement-server-go/internal/game/character"
)

// State is where a session's cursor stands.
type State int

const (
	// StateIdle means no step has been entered yet, or every step was retreated.
	StateIdle State = iota
	// StateAtStep means the cursor rests on a step awaiting input.
	StateAtStep
	// StateComplete means every step ran and the batch is not committed yet.
	StateComplete
	// StateCommitted means the batch was written to the provider.
	StateCommitted
	// StateClosed means the clone was discarded, by the caller or by a fatal error.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAtStep:
		return "at_step"
	case StateComplete:
		return "complete"
	case StateCommitted:
		return "committed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Provider loads characters and writes committed batches. Commit must apply the
// whole batch or nothing.
type Provider interface {
	Load(ctx context.Context, characterID string) (*character.Character, error)
	Commit(ctx context.Context, batch *character.Batch) error
}

// CompleteHook sees the batch before it is committed. Returning an error cancels
// the commit and closes the session.
type CompleteHook func(batch *character.Batch) error

// Session owns a clone of one character, the steps planned against it and the
// cursor walking them. Nothing reaches the provider until the last step ran.
type Session struct {
	id   string
	kind string

	registry   *advancement.Registry
	planner    *Planner
	provider   Provider
	logger     *zap.Logger
	hooks      []CompleteHook
	autoCommit bool
	journalDir string
	onRelease  func(*Session)

	advancing atomic.Bool
	mu        sync.Mutex
	original  *character.Character
	clone     *character.Character
	steps     []*Step
	cursor    int
	state     State
	err       error
	released  bool
	journal   *Journal
	// seen holds every item ID the clone has contained during the session.
	seen map[string]bool
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Kind names the factory that built the session.
func (s *Session) Kind() string { return s.kind }

// CharacterID returns the ID of the character being advanced.
func (s *Session) CharacterID() string { return s.original.ID }

// Journal returns the step history.
func (s *Session) Journal() *Journal { return s.journal }

// lock enters the session for a state change. A caller already inside gets
// ErrSessionBusy instead of waiting.
func (s *Session) lock() (func(), error) {
	if !s.advancing.CompareAndSwap(false, true) {
		return nil, ErrSessionBusy
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.advancing.Store(false)
	}, nil
}

// Start enters the first step and runs every automatic step up to the first one
// needing input. A session without steps completes immediately.
func (s *Session) Start(ctx context.Context) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	switch s.state {
	case StateAtStep:
		return nil
	case StateComplete:
		return ErrSessionComplete
	case StateCommitted, StateClosed:
		return ErrSessionClosed
	}
	return s.start(ctx)
}

func (s *Session) start(ctx context.Context) error {
	s.logger.Info("session started",
		zap.String("session_id", s.id),
		zap.String("kind", s.kind),
		zap.Int("step_count", len(s.steps)),
	)

	if len(s.steps) == 0 {
		return s.finish(ctx)
	}
	s.cursor = 0
	s.state = StateAtStep
	if err := s.land(); err != nil {
		return s.abort(err)
	}
	if !s.steps[0].Automatic {
		return nil
	}
	return s.run(ctx, nil)
}

// Advance submits data for the current step, executes it and keeps executing
// automatic steps. A rules violation leaves the session at the failing step;
// every other error closes the session. An idle session is started instead and
// refuses data, since no step is there to take it.
func (s *Session) Advance(ctx context.Context, data advancement.Data) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	switch s.state {
	case StateIdle:
		if len(data) > 0 {
			return ErrSessionIdle
		}
		return s.start(ctx)
	case StateComplete:
		return ErrSessionComplete
	case StateCommitted, StateClosed:
		return ErrSessionClosed
	}
	return s.run(ctx, data)
}

func (s *Session) run(ctx context.Context, data advancement.Data) error {
	for {
		index := s.cursor
		step := s.steps[index]
		pre := s.clone.Items()

		if err := s.execute(index, step, data); err != nil {
			if advancement.IsRulesViolation(err) {
				s.violation(index, step, err)
				return err
			}
			return s.abort(err)
		}
		data = nil
		for _, id := range s.clone.ItemIDs() {
			s.seen[id] = true
		}

		if err := s.synthesize(index, pre); err != nil {
			return s.abort(err)
		}
		s.record(index, step, DirectionAdvance)

		s.cursor++
		if s.cursor >= len(s.steps) {
			return s.finish(ctx)
		}
		if err := s.land(); err != nil {
			return s.abort(err)
		}
		if !s.steps[s.cursor].Automatic {
			return nil
		}
	}
}

// Retreat undoes the previous step and every automatic step before it, stopping
// on the first step that needs input or at Idle.
func (s *Session) Retreat() error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	switch s.state {
	case StateIdle:
		return nil
	case StateCommitted, StateClosed:
		return ErrSessionClosed
	}
	return s.retreat()
}

func (s *Session) retreat() error {
	for {
		if s.cursor < len(s.steps) {
			s.unsyncClassLevel(s.steps[s.cursor])
		}
		s.cursor--
		if s.cursor < 0 {
			s.cursor = -1
			s.state = StateIdle
			s.logger.Debug("session rewound to idle", zap.String("session_id", s.id))
			return nil
		}
		s.state = StateAtStep

		index := s.cursor
		step := s.steps[index]
		pre := s.clone.Items()
		if err := s.undo(index, step); err != nil {
			return s.abort(err)
		}
		s.clearSynthetic(index, pre)
		s.record(index, step, DirectionRetreat)

		if !step.Automatic {
			return nil
		}
	}
}

// Restart retreats until no step before the cursor needs input.
func (s *Session) Restart() error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	switch s.state {
	case StateCommitted, StateClosed:
		return ErrSessionClosed
	}
	for s.interactiveBefore(s.cursor) {
		if err := s.retreat(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) interactiveBefore(cursor int) bool {
	for idx := 0; idx < cursor && idx < len(s.steps); idx++ {
		if !s.steps[idx].Automatic {
			return true
		}
	}
	return false
}

// Close discards the clone. Closing a finished session is a no-op.
func (s *Session) Close() error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if s.state == StateCommitted || s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	s.logger.Info("session closed",
		zap.String("session_id", s.id),
		zap.Int("cursor", s.cursor),
	)
	s.release()
	return nil
}

// land prepares the step under the cursor: pins the class level, turns a restore
// with nothing retained into a forward and decides whether a forward can run
// without input.
func (s *Session) land() error {
	index := s.cursor
	step := s.steps[index]

	if err := s.syncClassLevel(index, step); err != nil {
		return err
	}
	if r, ok := step.Action.(*Restore); ok && r.Flow.Retained == nil {
		step.Action = &Forward{Flow: r.Flow}
		step.Automatic = false
		step.interactive = true
	}

	fwd, ok := step.Action.(*Forward)
	if !ok || fwd.Flow == nil || step.interactive {
		return nil
	}
	data, auto, err := fwd.Flow.AutomaticApplicable(s.registry, s.clone)
	if err != nil {
		return planningError(index, step, err)
	}
	step.Automatic = auto
	step.autoData = data
	return nil
}

func (s *Session) syncClassLevel(index int, step *Step) error {
	if step.Class == nil {
		return nil
	}
	class, ok := s.clone.Item(step.Class.ItemID)
	if !ok {
		return planningError(index, step, fmt.Errorf("%w: class %s", character.ErrItemNotFound, step.Class.ItemID))
	}
	level := step.Class.Level
	if step.Kind() == StepReverse {
		level--
	}
	prior := class.Levels
	step.priorClassLevel = &prior
	class.Levels = level
	return nil
}

func (s *Session) unsyncClassLevel(step *Step) {
	if step.priorClassLevel == nil || step.Class == nil {
		return
	}
	if class, ok := s.clone.Item(step.Class.ItemID); ok {
		class.Levels = *step.priorClassLevel
	}
	step.priorClassLevel = nil
}

func (s *Session) execute(index int, step *Step, data advancement.Data) error {
	s.logger.Debug("executing step", stepFields(s.id, index, step)...)

	switch a := step.Action.(type) {
	case *Forward:
		if a.Flow == nil {
			return nil
		}
		typ, target, err := a.Flow.Resolve(s.registry, s.clone)
		if err != nil {
			return planningError(index, step, err)
		}
		if step.Automatic && step.autoData != nil {
			data = step.autoData
		}
		return typ.Apply(target, a.Flow.Level, data)

	case *Reverse:
		step.skipped = false
		if _, ok := s.clone.Item(a.Flow.ItemID); !ok && s.seen[a.Flow.ItemID] {
			// Removed along with whatever granted it; that grant retained its state.
			step.skipped = true
			return nil
		}
		typ, target, err := a.Flow.Resolve(s.registry, s.clone)
		if err != nil {
			return planningError(index, step, err)
		}
		retained, err := typ.Reverse(target, a.Flow.Level)
		if err != nil {
			return err
		}
		a.Flow.Retained = retained
		return nil

	case *Restore:
		typ, target, err := a.Flow.Resolve(s.registry, s.clone)
		if err != nil {
			return planningError(index, step, err)
		}
		return typ.Restore(target, a.Flow.Level, a.Flow.Retained)

	case *DeleteItem:
		removed, position, err := s.clone.RemoveItem(a.ItemID)
		if err != nil {
			return planningError(index, step, err)
		}
		a.removed, a.index = removed, position
		return nil

	case *DeleteAdvancement:
		item, ok := s.clone.Item(a.ItemID)
		if !ok {
			return planningError(index, step, fmt.Errorf("%w: %s", character.ErrItemNotFound, a.ItemID))
		}
		removed, position, err := item.RemoveAdvancement(a.AdvancementID)
		if err != nil {
			return planningError(index, step, err)
		}
		a.removed, a.index = removed, position
		return nil
	}
	return planningError(index, step, fmt.Errorf("unhandled step action %T", step.Action))
}

// undo reverts what execute did. The data a forward applied is dropped rather than
// kept on the flow, so a reverse sharing the flow still restores its own data.
func (s *Session) undo(index int, step *Step) error {
	s.logger.Debug("undoing step", stepFields(s.id, index, step)...)

	switch a := step.Action.(type) {
	case *Forward:
		if a.Flow == nil {
			return nil
		}
		typ, target, err := a.Flow.Resolve(s.registry, s.clone)
		if err != nil {
			return planningError(index, step, err)
		}
		_, err = typ.Reverse(target, a.Flow.Level)
		return err

	case *Restore:
		typ, target, err := a.Flow.Resolve(s.registry, s.clone)
		if err != nil {
			return planningError(index, step, err)
		}
		_, err = typ.Reverse(target, a.Flow.Level)
		return err

	case *Reverse:
		if step.skipped {
			step.skipped = false
			return nil
		}
		typ, target, err := a.Flow.Resolve(s.registry, s.clone)
		if err != nil {
			return planningError(index, step, err)
		}
		return typ.Restore(target, a.Flow.Level, a.Flow.Retained)

	case *DeleteItem:
		if a.removed == nil {
			return planningError(index, step, fmt.Errorf("item %s was never removed", a.ItemID))
		}
		if err := s.clone.InsertItem(a.index, a.removed); err != nil {
			return planningError(index, step, err)
		}
		a.removed = nil
		return nil

	case *DeleteAdvancement:
		item, ok := s.clone.Item(a.ItemID)
		if !ok || a.removed == nil {
			return planningError(index, step, fmt.Errorf("%w: %s", character.ErrAdvancementNotFound, a.AdvancementID))
		}
		item.InsertAdvancement(a.index, a.removed)
		a.removed = nil
		return nil
	}
	return planningError(index, step, fmt.Errorf("unhandled step action %T", step.Action))
}

// violation pins a step that broke a rule to user input.
func (s *Session) violation(index int, step *Step, err error) {
	step.Automatic = false
	step.interactive = true
	step.autoData = nil
	if r, ok := step.Action.(*Restore); ok {
		step.Action = &Forward{Flow: r.Flow}
	}
	s.logger.Warn("rules violation", append(stepFields(s.id, index, step), zap.Error(err))...)
}

func (s *Session) abort(err error) error {
	s.state = StateClosed
	s.err = err
	s.logger.Error("session aborted",
		zap.String("session_id", s.id),
		zap.Int("cursor", s.cursor),
		zap.Error(err),
	)
	s.release()
	return err
}

func (s *Session) finish(ctx context.Context) error {
	s.cursor = len(s.steps)
	s.state = StateComplete
	s.logger.Info("session complete",
		zap.String("session_id", s.id),
		zap.Int("step_count", len(s.steps)),
	)
	if !s.autoCommit {
		return nil
	}
	return s.commit(ctx)
}

func (s *Session) release() {
	if s.released {
		return
	}
	s.released = true
	if s.onRelease != nil {
		s.onRelease(s)
	}
}

func (s *Session) record(index int, step *Step, direction Direction) {
	v := step.view(index)
	s.journal.Record(JournalEntry{
		Index:         index,
		Direction:     direction,
		Kind:          v.Kind,
		ItemID:        v.ItemID,
		AdvancementID: v.AdvancementID,
		Level:         v.Level,
		Synthetic:     step.Synthetic,
		Checksum:      s.clone.MustChecksum(),
		At:            time.Now(),
	})
}

// Steps describes every step in order.
func (s *Session) Steps() []StepView {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]StepView, len(s.steps))
	for idx, step := range s.steps {
		views[idx] = step.view(idx)
	}
	return views
}

// StepCount returns the number of steps. Zero means there is nothing to do.
func (s *Session) StepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.steps)
}

// Cursor returns the index of the current step, -1 when idle.
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cursor
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Err returns the error that closed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// CurrentStep describes the step under the cursor.
func (s *Session) CurrentStep() (StepView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAtStep {
		return StepView{}, ErrNoStep
	}
	return s.steps[s.cursor].view(s.cursor), nil
}

// CurrentPrompt describes the input the current step collects.
func (s *Session) CurrentPrompt() (advancement.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAtStep {
		return advancement.Prompt{}, ErrNoStep
	}
	flow := s.steps[s.cursor].Flow()
	if flow == nil {
		return advancement.Prompt{}, ErrNoStep
	}
	return flow.Prompt(s.registry, s.clone)
}

// Preview returns a copy of the clone in its current state.
func (s *Session) Preview() *character.Character {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.clone.Clone()
}

func stepFields(sessionID string, index int, step *Step) []zap.Field {
	fields := []zap.Field{
		zap.String("session_id", sessionID),
		zap.Int("step_index", index),
		zap.String("step_kind", step.Kind().String()),
		zap.String("item_id", step.ItemID()),
		zap.Int("level", step.Level()),
	}
	if flow := step.Flow(); flow != nil {
		fields = append(fields, zap.String("advancement_id", flow.AdvancementID))
	}
	if step.Synthetic {
		fields = append(fields, zap.Bool("synthetic", true))
	}
	return fields
}
