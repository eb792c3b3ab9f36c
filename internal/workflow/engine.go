package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puffperksonline/puffperks/internal/logger"
)

var (
	// ErrActionPending is returned when an action is invoked while another
	// mutating call for the same target is still outstanding. The second
	// invocation is rejected, not queued.
	ErrActionPending = errors.New("an action is already in progress for this card")

	// ErrNoUndoWindow is returned when undo is invoked for a target whose
	// undo window is not open. Double-undo is prohibited.
	ErrNoUndoWindow = errors.New("nothing to undo for this card")
)

type ActionKind int

const (
	KindAddStamp ActionKind = iota
	KindRedeemReward
)

func (k ActionKind) String() string {
	if k == KindRedeemReward {
		return "redeem"
	}
	return "stamp"
}

// ActionKey identifies one action target: a loyalty card combined with an
// action kind. Redemptions of different rewards are distinct targets.
type ActionKey struct {
	CardID   string
	Kind     ActionKind
	RewardID string
}

type ActionStatus int

const (
	StatusIdle ActionStatus = iota
	StatusPending
	StatusUndoWindow
)

func (s ActionStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusUndoWindow:
		return "undo"
	default:
		return "idle"
	}
}

// Ledger is the subset of the remote ledger client the engine mutates through.
type Ledger interface {
	AddStamp(ctx context.Context, loyaltyCardID, storeID string, undo bool) error
	RedeemReward(ctx context.Context, loyaltyCardID, rewardID string, undo bool) error
}

// Refresher re-fetches the authoritative card row after a confirmed mutation
// and pushes it to whoever is watching. Displayed stamp counts come only from
// such fetches, never from local arithmetic.
type Refresher interface {
	RefreshCard(ctx context.Context, storeID, cardID string) error
}

// Notifier receives action lifecycle changes and operator-facing notices.
type Notifier interface {
	ActionChanged(storeID string, key ActionKey, status ActionStatus)
	Notice(storeID, message string)
}

type actionState struct {
	status  ActionStatus
	storeID string
	timer   *time.Timer
}

// Engine tracks per-target action state through
// Idle -> Pending -> UndoWindow -> Idle (success path) or
// Idle -> Pending -> Idle (failure path), serialising mutating calls so at
// most one is outstanding per target.
type Engine struct {
	ledger     Ledger
	refresher  Refresher
	notifier   Notifier
	log        *logger.Logger
	undoWindow time.Duration

	mu      sync.Mutex
	actions map[ActionKey]*actionState
}

func NewEngine(ledger Ledger, refresher Refresher, notifier Notifier, undoWindow time.Duration, log *logger.Logger) *Engine {
	return &Engine{
		ledger:     ledger,
		refresher:  refresher,
		notifier:   notifier,
		log:        log,
		undoWindow: undoWindow,
		actions:    make(map[ActionKey]*actionState),
	}
}

// Status reports the current state for an action target.
func (e *Engine) Status(key ActionKey) ActionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.actions[key]; ok {
		return st.status
	}
	return StatusIdle
}

// AddStamp applies one stamp to a card and opens the undo window on success.
func (e *Engine) AddStamp(ctx context.Context, storeID, cardID string) error {
	key := ActionKey{CardID: cardID, Kind: KindAddStamp}
	return e.run(ctx, storeID, key, func(ctx context.Context) error {
		return e.ledger.AddStamp(ctx, cardID, storeID, false)
	})
}

// RedeemReward redeems a reward against a card and opens the undo window on
// success. The displayed stamp count is never decremented locally; it is
// whatever the next fetch returns.
func (e *Engine) RedeemReward(ctx context.Context, storeID, cardID, rewardID string) error {
	key := ActionKey{CardID: cardID, Kind: KindRedeemReward, RewardID: rewardID}
	return e.run(ctx, storeID, key, func(ctx context.Context) error {
		return e.ledger.RedeemReward(ctx, cardID, rewardID, false)
	})
}

func (e *Engine) run(ctx context.Context, storeID string, key ActionKey, call func(context.Context) error) error {
	if err := e.begin(storeID, key); err != nil {
		return err
	}

	if err := call(ctx); err != nil {
		// Failure path: back to Idle immediately, no partial state retained.
		e.clear(key)
		e.notifier.ActionChanged(storeID, key, StatusIdle)
		e.log.LogAction(key.Kind.String(), key.CardID, fmt.Sprintf("failed: %v", err))
		return err
	}

	e.openUndoWindow(storeID, key)
	e.notifier.ActionChanged(storeID, key, StatusUndoWindow)
	e.log.LogAction(key.Kind.String(), key.CardID, "confirmed, undo window open")

	if err := e.refresher.RefreshCard(ctx, storeID, key.CardID); err != nil {
		e.log.Error("ACTION", fmt.Sprintf("Card re-fetch after %s failed: %v", key.Kind, err))
	}
	return nil
}

// Undo reverses the most recent confirmed action for the target. It is only
// valid while the undo window is open. The state returns to Idle regardless
// of the compensating call's own outcome; a failed compensation is surfaced
// as a notice but does not reopen the window.
func (e *Engine) Undo(ctx context.Context, storeID string, key ActionKey) error {
	e.mu.Lock()
	st, ok := e.actions[key]
	if !ok || st.status != StatusUndoWindow {
		e.mu.Unlock()
		return ErrNoUndoWindow
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.status = StatusPending
	st.timer = nil
	e.mu.Unlock()

	e.notifier.ActionChanged(storeID, key, StatusPending)

	var err error
	switch key.Kind {
	case KindRedeemReward:
		err = e.ledger.RedeemReward(ctx, key.CardID, key.RewardID, true)
	default:
		err = e.ledger.AddStamp(ctx, key.CardID, storeID, true)
	}

	e.clear(key)
	e.notifier.ActionChanged(storeID, key, StatusIdle)

	if err != nil {
		e.log.LogAction(key.Kind.String(), key.CardID, fmt.Sprintf("undo failed: %v", err))
		e.notifier.Notice(storeID, fmt.Sprintf("Undo failed: %v", err))
		return nil
	}

	e.log.LogAction(key.Kind.String(), key.CardID, "undone")
	if err := e.refresher.RefreshCard(ctx, storeID, key.CardID); err != nil {
		e.log.Error("ACTION", fmt.Sprintf("Card re-fetch after undo failed: %v", err))
	}
	return nil
}

// AddStampBatch issues count independent single-stamp invocations for a card.
// Calls are applied sequentially; the first failure stops the batch and is
// reported, but stamps already applied are not rolled back. Batch adds do not
// open an undo window.
func (e *Engine) AddStampBatch(ctx context.Context, storeID, cardID string, count int) (int, error) {
	if count < 1 {
		return 0, errors.New("stamp count must be at least 1")
	}

	key := ActionKey{CardID: cardID, Kind: KindAddStamp}
	if err := e.begin(storeID, key); err != nil {
		return 0, err
	}

	applied := 0
	var firstErr error
	for i := 0; i < count; i++ {
		if err := e.ledger.AddStamp(ctx, cardID, storeID, false); err != nil {
			firstErr = err
			break
		}
		applied++
	}

	e.clear(key)
	e.notifier.ActionChanged(storeID, key, StatusIdle)

	if applied > 0 {
		if err := e.refresher.RefreshCard(ctx, storeID, cardID); err != nil {
			e.log.Error("ACTION", fmt.Sprintf("Card re-fetch after batch failed: %v", err))
		}
	}
	if firstErr != nil {
		e.log.LogAction("stamp", cardID, fmt.Sprintf("batch aborted after %d of %d: %v", applied, count, firstErr))
		return applied, firstErr
	}

	e.log.LogAction("stamp", cardID, fmt.Sprintf("batch applied %d stamps", applied))
	return applied, nil
}

// begin takes the target from Idle to Pending, rejecting concurrent actions.
func (e *Engine) begin(storeID string, key ActionKey) error {
	e.mu.Lock()
	if st, ok := e.actions[key]; ok && st.status != StatusIdle {
		e.mu.Unlock()
		return ErrActionPending
	}
	e.actions[key] = &actionState{status: StatusPending, storeID: storeID}
	e.mu.Unlock()

	e.notifier.ActionChanged(storeID, key, StatusPending)
	return nil
}

func (e *Engine) openUndoWindow(storeID string, key ActionKey) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.actions[key]
	if !ok {
		st = &actionState{storeID: storeID}
		e.actions[key] = st
	}
	st.status = StatusUndoWindow
	st.timer = time.AfterFunc(e.undoWindow, func() {
		e.expire(storeID, key)
	})
}

// expire closes the undo window on timeout without user interaction.
func (e *Engine) expire(storeID string, key ActionKey) {
	e.mu.Lock()
	st, ok := e.actions[key]
	if !ok || st.status != StatusUndoWindow {
		e.mu.Unlock()
		return
	}
	delete(e.actions, key)
	e.mu.Unlock()

	e.notifier.ActionChanged(storeID, key, StatusIdle)
	e.log.LogAction(key.Kind.String(), key.CardID, "undo window expired")
}

func (e *Engine) clear(key ActionKey) {
	e.mu.Lock()
	if st, ok := e.actions[key]; ok {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(e.actions, key)
	}
	e.mu.Unlock()
}
