package service

import (
	"context"
	"errors"
	"testing"

	"carrental-backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestTrustLedger_GetOrCreate verifies the lazy creation of a score.
// Goal: Verify that:
// 1. The first event for a customer creates the score at the initial value.
// 2. The creation itself is recorded in the history with the initial value as delta.
// 3. Losing the insert race re-reads the winner's row instead of recording a second creation.
func TestTrustLedger_GetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("Creates_And_Records_Initial_Entry", func(t *testing.T) {
		repo := new(MockTrustScoreRepo)
		ledger := NewTrustLedger(&fakeTx{}, repo, DefaultTrustPolicy())

		repo.On("GetForUpdate", mock.Anything, int64(7)).Return(nil, domain.ErrTrustScoreNotFound).Once()
		repo.On("Insert", mock.Anything, mock.MatchedBy(func(ts *domain.TrustScore) bool {
			return ts.CustomerID == 7 && ts.Score == 100
		})).Return(true, nil).Once()
		repo.On("AppendHistory", mock.Anything, mock.MatchedBy(func(h *domain.TrustScoreHistory) bool {
			return h.ChangeAmount == 100 && h.PreviousScore == 0 && h.NewScore == 100 && h.Reason == initialScoreReason
		})).Return(nil).Once()
		repo.On("Update", mock.Anything, mock.MatchedBy(func(ts *domain.TrustScore) bool {
			return ts.Score == 90
		})).Return(nil).Once()
		repo.On("AppendHistory", mock.Anything, mock.MatchedBy(func(h *domain.TrustScoreHistory) bool {
			return h.ChangeAmount == -10 && h.PreviousScore == 100 && h.NewScore == 90
		})).Return(nil).Once()

		score, err := ledger.ApplyEvent(ctx, domain.TrustEvent{
			CustomerID: 7, Delta: -10, Reason: "test", ChangeType: domain.TrustChangePenalty,
		})
		require.NoError(t, err)
		assert.Equal(t, 90, score)
		repo.AssertExpectations(t)
	})

	t.Run("Lost_Insert_Race", func(t *testing.T) {
		repo := new(MockTrustScoreRepo)
		ledger := NewTrustLedger(&fakeTx{}, repo, DefaultTrustPolicy())

		repo.On("GetForUpdate", mock.Anything, int64(7)).Return(nil, domain.ErrTrustScoreNotFound).Once()
		repo.On("Insert", mock.Anything, mock.Anything).Return(false, nil).Once()
		repo.On("GetForUpdate", mock.Anything, int64(7)).Return(&domain.TrustScore{CustomerID: 7, Score: 150}, nil).Once()
		repo.On("Update", mock.Anything, mock.Anything).Return(nil).Once()
		repo.On("AppendHistory", mock.Anything, mock.MatchedBy(func(h *domain.TrustScoreHistory) bool {
			return h.PreviousScore == 150 && h.NewScore == 160
		})).Return(nil).Once()

		score, err := ledger.ApplyEvent(ctx, domain.TrustEvent{
			CustomerID: 7, Delta: 10, Reason: "test", ChangeType: domain.TrustChangeBonus,
		})
		require.NoError(t, err)
		assert.Equal(t, 160, score)
		repo.AssertExpectations(t)
	})

	t.Run("GetScore_Does_Not_Create", func(t *testing.T) {
		repo := new(MockTrustScoreRepo)
		ledger := NewTrustLedger(&fakeTx{}, repo, DefaultTrustPolicy())
		repo.On("Get", mock.Anything, int64(7)).Return(nil, domain.ErrTrustScoreNotFound).Once()

		score, err := ledger.GetScore(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, 0, score)
		repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})
}

// TestTrustLedger_StoreFailure verifies that a failed write surfaces as a
// ledger inconsistency instead of being swallowed.
func TestTrustLedger_StoreFailure(t *testing.T) {
	repo := new(MockTrustScoreRepo)
	ledger := NewTrustLedger(&fakeTx{}, repo, DefaultTrustPolicy())

	repo.On("GetForUpdate", mock.Anything, int64(7)).Return(&domain.TrustScore{CustomerID: 7, Score: 100}, nil)
	repo.On("Update", mock.Anything, mock.Anything).Return(errors.New("connection reset"))

	_, err := ledger.ApplyCompletionBonus(context.Background(), 7, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedger)
	assert.Equal(t, domain.ErrInconsistency, domain.Kind(err))
	assert.Contains(t, err.Error(), "connection reset")
}

// TestTrustLedger_FirstPaymentBonusIsOneTime verifies the initial-score guard.
// Goal: Verify that applying the first-payment bonus twice grants it once.
func TestTrustLedger_FirstPaymentBonusIsOneTime(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := NewTrustLedger(&fakeTx{}, memTrust{store}, DefaultTrustPolicy())

	score, applied, err := ledger.ApplyFirstPaymentBonus(ctx, 7, 1)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 150, score)

	score, applied, err = ledger.ApplyFirstPaymentBonus(ctx, 7, 2)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 150, score)

	history, err := ledger.GetHistory(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestTrustLedger_Penalties(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		apply func(l TrustLedger) (int, error)
		want  int
	}{
		{"Late by 3 hours", func(l TrustLedger) (int, error) { return l.ApplyLateReturnPenalty(ctx, 7, 1, 3) }, 85},
		{"Minor damage below threshold", func(l TrustLedger) (int, error) { return l.ApplyDamagePenalty(ctx, 7, 1, 999999) }, 80},
		{"Major damage at threshold", func(l TrustLedger) (int, error) { return l.ApplyDamagePenalty(ctx, 7, 1, 1000000) }, 20},
		{"No-show", func(l TrustLedger) (int, error) { return l.ApplyNoShowPenalty(ctx, 7, 1) }, 0},
		{"Completion", func(l TrustLedger) (int, error) { return l.ApplyCompletionBonus(ctx, 7, 1) }, 110},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := NewTrustLedger(&fakeTx{}, memTrust{newMemStore()}, DefaultTrustPolicy())
			got, err := tt.apply(ledger)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("Zero overtime leaves no record", func(t *testing.T) {
		store := newMemStore()
		ledger := NewTrustLedger(&fakeTx{}, memTrust{store}, DefaultTrustPolicy())
		score, err := ledger.ApplyLateReturnPenalty(ctx, 7, 1, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, score)
		assert.Empty(t, store.history)
	})
}

func TestTrustLedger_AdjustManually(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := NewTrustLedger(&fakeTx{}, memTrust{store}, DefaultTrustPolicy())

	_, err := ledger.AdjustManually(ctx, 7, 1, 5, "  ")
	assert.ErrorIs(t, err, domain.ErrReasonRequired)

	_, err = ledger.AdjustManually(ctx, 7, 0, 5, "goodwill")
	assert.ErrorIs(t, err, domain.ErrMissingField)

	_, err = ledger.AdjustManually(ctx, 7, 1, 0, "goodwill")
	assert.ErrorIs(t, err, domain.ErrValidation)

	score, err := ledger.AdjustManually(ctx, 7, 1, 25, "goodwill")
	require.NoError(t, err)
	assert.Equal(t, 125, score)

	last := store.history[len(store.history)-1]
	assert.Equal(t, domain.TrustChangeManualAdjustment, last.ChangeType)
	require.NotNil(t, last.AdminID)
	assert.Equal(t, int64(1), *last.AdminID)
	assert.Nil(t, last.BookingID)
}

// TestTrustLedger_HistoryReconstructsScore verifies that the history chain,
// replayed in creation order, yields the current score.
func TestTrustLedger_HistoryReconstructsScore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := NewTrustLedger(&fakeTx{}, memTrust{store}, DefaultTrustPolicy())

	_, _, err := ledger.ApplyFirstPaymentBonus(ctx, 7, 1)
	require.NoError(t, err)
	_, err = ledger.ApplyLateReturnPenalty(ctx, 7, 1, 2)
	require.NoError(t, err)
	_, err = ledger.ApplyCompletionBonus(ctx, 7, 1)
	require.NoError(t, err)
	_, err = ledger.ApplyDamagePenalty(ctx, 7, 2, 5000)
	require.NoError(t, err)
	_, err = ledger.AdjustManually(ctx, 7, 99, -3, "chargeback review")
	require.NoError(t, err)

	history, err := ledger.GetHistory(ctx, 7)
	require.NoError(t, err)
	require.Len(t, history, 6)

	replayed := 0
	for i, h := range history {
		assert.Equal(t, h.PreviousScore+h.ChangeAmount, h.NewScore, "entry %d", i)
		assert.Equal(t, replayed, h.PreviousScore, "entry %d", i)
		replayed = h.NewScore
	}

	current, err := ledger.GetScore(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, current, replayed)
	assert.Equal(t, 100+50-10+10-20-3, current)
}
