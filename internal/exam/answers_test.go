package exam

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerSheetLastWriteWins(t *testing.T) {
	sheet := NewAnswerSheet()
	values := []string{"1", "3", "2", "4", "2"}
	var seqs []uint64
	for _, v := range values {
		seqs = append(seqs, sheet.Set(5, v))
	}

	// Responses for superseded values arrive late and out of order.
	assert.False(t, sheet.Resolve(5, seqs[0], nil))
	assert.False(t, sheet.Resolve(5, seqs[2], errors.New("boom")))

	e, ok := sheet.Get(5)
	require.True(t, ok)
	assert.Equal(t, "2", e.Value)
	assert.Equal(t, SyncPending, e.Status)

	assert.True(t, sheet.Resolve(5, seqs[len(seqs)-1], nil))
	e, _ = sheet.Get(5)
	assert.Equal(t, SyncConfirmed, e.Status)
	assert.Equal(t, 1, sheet.Len())
}

func TestAnswerSheetFailedAndResend(t *testing.T) {
	sheet := NewAnswerSheet()
	s3 := sheet.Set(3, "a")
	s1 := sheet.Set(1, "b")
	s2 := sheet.Set(2, "c")
	sheet.Resolve(3, s3, errors.New("offline"))
	sheet.Resolve(1, s1, errors.New("offline"))
	sheet.Resolve(2, s2, nil)

	assert.Equal(t, []int{1, 3}, sheet.Failed())

	value, seq, ok := sheet.Resend(3)
	require.True(t, ok)
	assert.Equal(t, "a", value)
	assert.Greater(t, seq, s3)
	assert.Equal(t, []int{1}, sheet.Failed())

	_, _, ok = sheet.Resend(99)
	assert.False(t, ok)

	entries := sheet.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{entries[0].QuestionNumber, entries[1].QuestionNumber, entries[2].QuestionNumber})
}

func TestAnswerSheetReject(t *testing.T) {
	sheet := NewAnswerSheet()
	seq := sheet.Set(4, "far too long")
	assert.False(t, sheet.Reject(4, seq-1))
	require.True(t, sheet.Reject(4, seq))

	e, _ := sheet.Get(4)
	assert.Equal(t, SyncRejected, e.Status)
	assert.Equal(t, "rejected", e.Status.String())
	assert.Empty(t, sheet.Failed())

	sheet.Set(4, "ok")
	e, _ = sheet.Get(4)
	assert.Equal(t, SyncPending, e.Status)
}

func TestCountdownTicks(t *testing.T) {
	c := NewCountdown(1800)
	for i := 1; i <= 100; i++ {
		assert.False(t, c.Tick())
		assert.Equal(t, 1800-i, c.Remaining())
	}
}

func TestCountdownExpiresOnce(t *testing.T) {
	c := NewCountdown(2)
	assert.False(t, c.Tick())
	assert.True(t, c.Tick())
	assert.True(t, c.Expired())
	assert.False(t, c.Tick())
	assert.False(t, c.Tick())
	assert.Equal(t, 0, c.Remaining())
}

func TestCountdownLowerNeverRaises(t *testing.T) {
	c := NewCountdown(100)

	changed, expired := c.Lower(150)
	assert.False(t, changed)
	assert.False(t, expired)
	assert.Equal(t, 100, c.Remaining())

	changed, expired = c.Lower(40)
	assert.True(t, changed)
	assert.False(t, expired)
	assert.Equal(t, 40, c.Remaining())

	changed, expired = c.Lower(-5)
	assert.True(t, changed)
	assert.True(t, expired)
	assert.False(t, c.Tick())
}

func TestViewerPages(t *testing.T) {
	v := NewViewer(4, 30)
	assert.Equal(t, 1, v.Page())
	assert.Equal(t, QuestionRange{First: 1, Last: 8}, v.VisibleQuestions())

	require.NoError(t, v.SetPage(4))
	assert.Equal(t, QuestionRange{First: 25, Last: 30}, v.VisibleQuestions())

	assert.ErrorIs(t, v.SetPage(5), ErrPageOutOfRange)
	assert.ErrorIs(t, v.SetPage(0), ErrPageOutOfRange)
	assert.Equal(t, 4, v.Page())
}

func TestViewerUnknownPageCount(t *testing.T) {
	v := NewViewer(0, 0)
	require.NoError(t, v.SetPage(12))
	assert.True(t, v.VisibleQuestions().Empty())
}
