package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTurns(t *testing.T) {
	t.Run("under the limit passes", func(t *testing.T) {
		tr := New(5, 60, time.Now())
		tr.TurnsUsed = 4
		assert.NoError(t, tr.CheckTurns())
	})

	t.Run("at the limit raises MaxTurnsExceeded", func(t *testing.T) {
		tr := New(5, 60, time.Now())
		tr.TurnsUsed = 5
		err := tr.CheckTurns()
		require.Error(t, err)
		var exceeded *MaxTurnsExceeded
		require.ErrorAs(t, err, &exceeded)
		assert.Equal(t, 5, exceeded.TurnsUsed)
		assert.Equal(t, 5, exceeded.MaxTurns)
	})

	t.Run("past the limit also raises", func(t *testing.T) {
		tr := New(5, 60, time.Now())
		tr.TurnsUsed = 9
		assert.Error(t, tr.CheckTurns())
	})
}

func TestCheckTimeout(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := New(10, 30, start)

	t.Run("before the deadline passes", func(t *testing.T) {
		assert.NoError(t, tr.CheckTimeout(start.Add(29*time.Second)))
	})

	t.Run("at the deadline raises TimeoutSecondsExceeded", func(t *testing.T) {
		err := tr.CheckTimeout(start.Add(30 * time.Second))
		require.Error(t, err)
		var exceeded *TimeoutSecondsExceeded
		require.ErrorAs(t, err, &exceeded)
		assert.Equal(t, 30, exceeded.TimeoutSeconds)
	})

	t.Run("past the deadline raises", func(t *testing.T) {
		assert.Error(t, tr.CheckTimeout(start.Add(time.Hour)))
	})
}

func TestRecordTurnAccumulates(t *testing.T) {
	tr := New(10, 60, time.Now())
	tr.RecordTurn(100, 50)
	tr.RecordTurn(20, 10)

	assert.Equal(t, 2, tr.TurnsUsed)
	assert.Equal(t, 120, tr.TokensIn)
	assert.Equal(t, 60, tr.TokensOut)
}
