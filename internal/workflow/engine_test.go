package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/puffperksonline/puffperks/internal/ledger"
	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/workflow"
)

// Mock implementations
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) AddStamp(ctx context.Context, loyaltyCardID, storeID string, undo bool) error {
	args := m.Called(loyaltyCardID, storeID, undo)
	return args.Error(0)
}

func (m *MockLedger) RedeemReward(ctx context.Context, loyaltyCardID, rewardID string, undo bool) error {
	args := m.Called(loyaltyCardID, rewardID, undo)
	return args.Error(0)
}

type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) RefreshCard(ctx context.Context, storeID, cardID string) error {
	args := m.Called(storeID, cardID)
	return args.Error(0)
}

// recordingNotifier captures lifecycle transitions in order.
type recordingNotifier struct {
	mu      sync.Mutex
	changes []workflow.ActionStatus
	notices []string
}

func (n *recordingNotifier) ActionChanged(storeID string, key workflow.ActionKey, status workflow.ActionStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, status)
}

func (n *recordingNotifier) Notice(storeID, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, message)
}

func (n *recordingNotifier) statuses() []workflow.ActionStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]workflow.ActionStatus, len(n.changes))
	copy(out, n.changes)
	return out
}

func (n *recordingNotifier) noticeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

func newTestEngine(t *testing.T, window time.Duration) (*workflow.Engine, *MockLedger, *MockRefresher, *recordingNotifier) {
	t.Helper()
	ml := new(MockLedger)
	mr := new(MockRefresher)
	rn := &recordingNotifier{}
	eng := workflow.NewEngine(ml, mr, rn, window, logger.NewLogger())
	return eng, ml, mr, rn
}

func TestAddStampOpensUndoWindow(t *testing.T) {
	eng, ml, mr, rn := newTestEngine(t, time.Minute)

	ml.On("AddStamp", "card1", "store1", false).Return(nil).Once()
	mr.On("RefreshCard", "store1", "card1").Return(nil).Once()

	err := eng.AddStamp(context.Background(), "store1", "card1")
	require.NoError(t, err)

	key := workflow.ActionKey{CardID: "card1", Kind: workflow.KindAddStamp}
	assert.Equal(t, workflow.StatusUndoWindow, eng.Status(key))
	assert.Equal(t, []workflow.ActionStatus{workflow.StatusPending, workflow.StatusUndoWindow}, rn.statuses())

	ml.AssertExpectations(t)
	mr.AssertExpectations(t)
}

func TestAddStampFailureReturnsToIdle(t *testing.T) {
	eng, ml, mr, _ := newTestEngine(t, time.Minute)

	remoteErr := &ledger.RemoteError{Status: 403, Message: "insufficient permissions"}
	ml.On("AddStamp", "card1", "store1", false).Return(remoteErr).Once()

	err := eng.AddStamp(context.Background(), "store1", "card1")
	require.Error(t, err)
	// The remote message must survive verbatim.
	assert.Equal(t, "insufficient permissions", err.Error())

	key := workflow.ActionKey{CardID: "card1", Kind: workflow.KindAddStamp}
	assert.Equal(t, workflow.StatusIdle, eng.Status(key))

	// No re-fetch on failure: the displayed count must not move.
	mr.AssertNotCalled(t, "RefreshCard", "store1", "card1")
}

func TestSecondInvocationWhilePendingIsRejected(t *testing.T) {
	eng, ml, mr, _ := newTestEngine(t, time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	ml.On("AddStamp", "card1", "store1", false).Run(func(args mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()
	mr.On("RefreshCard", "store1", "card1").Return(nil).Maybe()

	go func() {
		_ = eng.AddStamp(context.Background(), "store1", "card1")
	}()

	<-started
	err := eng.AddStamp(context.Background(), "store1", "card1")
	assert.ErrorIs(t, err, workflow.ErrActionPending)
	close(release)
}

func TestUndoIssuesCompensatingCall(t *testing.T) {
	eng, ml, mr, _ := newTestEngine(t, time.Minute)

	ml.On("AddStamp", "card1", "store1", false).Return(nil).Once()
	ml.On("AddStamp", "card1", "store1", true).Return(nil).Once()
	mr.On("RefreshCard", "store1", "card1").Return(nil).Twice()

	require.NoError(t, eng.AddStamp(context.Background(), "store1", "card1"))

	key := workflow.ActionKey{CardID: "card1", Kind: workflow.KindAddStamp}
	require.NoError(t, eng.Undo(context.Background(), "store1", key))

	assert.Equal(t, workflow.StatusIdle, eng.Status(key))
	ml.AssertExpectations(t)
	mr.AssertExpectations(t)
}

func TestDoubleUndoIsProhibited(t *testing.T) {
	eng, ml, mr, _ := newTestEngine(t, time.Minute)

	ml.On("AddStamp", "card1", "store1", false).Return(nil).Once()
	ml.On("AddStamp", "card1", "store1", true).Return(nil).Once()
	mr.On("RefreshCard", "store1", "card1").Return(nil).Twice()

	require.NoError(t, eng.AddStamp(context.Background(), "store1", "card1"))

	key := workflow.ActionKey{CardID: "card1", Kind: workflow.KindAddStamp}
	require.NoError(t, eng.Undo(context.Background(), "store1", key))
	assert.ErrorIs(t, eng.Undo(context.Background(), "store1", key), workflow.ErrNoUndoWindow)
}

func TestUndoFailureSurfacesNoticeWithoutReopeningWindow(t *testing.T) {
	eng, ml, mr, rn := newTestEngine(t, time.Minute)

	ml.On("AddStamp", "card1", "store1", false).Return(nil).Once()
	ml.On("AddStamp", "card1", "store1", true).Return(errors.New("network down")).Once()
	mr.On("RefreshCard", "store1", "card1").Return(nil).Once()

	require.NoError(t, eng.AddStamp(context.Background(), "store1", "card1"))

	key := workflow.ActionKey{CardID: "card1", Kind: workflow.KindAddStamp}
	require.NoError(t, eng.Undo(context.Background(), "store1", key))

	// State is Idle regardless of the compensating call's outcome.
	assert.Equal(t, workflow.StatusIdle, eng.Status(key))
	assert.Equal(t, 1, rn.noticeCount())
	assert.ErrorIs(t, eng.Undo(context.Background(), "store1", key), workflow.ErrNoUndoWindow)
}

func TestUndoWindowExpiresAutomatically(t *testing.T) {
	eng, ml, mr, _ := newTestEngine(t, 30*time.Millisecond)

	ml.On("AddStamp", "card1", "store1", false).Return(nil).Once()
	mr.On("RefreshCard", "store1", "card1").Return(nil).Once()

	require.NoError(t, eng.AddStamp(context.Background(), "store1", "card1"))

	key := workflow.ActionKey{CardID: "card1", Kind: workflow.KindAddStamp}
	assert.Equal(t, workflow.StatusUndoWindow, eng.Status(key))

	assert.Eventually(t, func() bool {
		return eng.Status(key) == workflow.StatusIdle
	}, time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, eng.Undo(context.Background(), "store1", key), workflow.ErrNoUndoWindow)
}

func TestRedeemTargetsAreDistinctPerReward(t *testing.T) {
	eng, ml, mr, _ := newTestEngine(t, time.Minute)

	ml.On("RedeemReward", "card1", "rewardA", false).Return(nil).Once()
	ml.On("RedeemReward", "card1", "rewardB", false).Return(nil).Once()
	mr.On("RefreshCard", "store1", "card1").Return(nil).Twice()

	require.NoError(t, eng.RedeemReward(context.Background(), "store1", "card1", "rewardA"))
	require.NoError(t, eng.RedeemReward(context.Background(), "store1", "card1", "rewardB"))

	keyA := workflow.ActionKey{CardID: "card1", Kind: workflow.KindRedeemReward, RewardID: "rewardA"}
	keyB := workflow.ActionKey{CardID: "card1", Kind: workflow.KindRedeemReward, RewardID: "rewardB"}
	assert.Equal(t, workflow.StatusUndoWindow, eng.Status(keyA))
	assert.Equal(t, workflow.StatusUndoWindow, eng.Status(keyB))
}

func TestBatchStopsAtFirstErrorWithoutRollback(t *testing.T) {
	eng, ml, mr, _ := newTestEngine(t, time.Minute)

	ml.On("AddStamp", "card1", "store1", false).Return(nil).Twice()
	ml.On("AddStamp", "card1", "store1", false).Return(errors.New("store limit reached")).Once()
	mr.On("RefreshCard", "store1", "card1").Return(nil).Once()

	applied, err := eng.AddStampBatch(context.Background(), "store1", "card1", 5)
	require.Error(t, err)
	assert.Equal(t, "store limit reached", err.Error())
	assert.Equal(t, 2, applied)

	// Applied stamps stay applied; the card still gets re-fetched once.
	mr.AssertExpectations(t)

	// Batch adds never open an undo window.
	key := workflow.ActionKey{CardID: "card1", Kind: workflow.KindAddStamp}
	assert.Equal(t, workflow.StatusIdle, eng.Status(key))
}

func TestBatchRejectsNonPositiveCount(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, time.Minute)

	_, err := eng.AddStampBatch(context.Background(), "store1", "card1", 0)
	assert.Error(t, err)
}
