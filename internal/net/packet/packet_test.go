package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreUpdateLayout(t *testing.T) {
	b := ScoreUpdate(0x0102, 1000, -5, 7, 9)
	require.Len(t, b, 15)
	assert.Equal(t, S2CScoreUpdate, b[0])

	r := NewReader(b)
	assert.Equal(t, int16(0x0102), r.ReadHS())
	assert.Equal(t, int32(1000), r.ReadD())
	assert.Equal(t, int32(-5), r.ReadD())
	assert.Equal(t, uint16(7), r.ReadH())
	assert.Equal(t, uint16(9), r.ReadH())
	assert.Equal(t, 0, r.Remaining())
}

func TestGoalLayout(t *testing.T) {
	b := Goal(3, 250)
	require.Len(t, b, 7)
	r := NewReader(b)
	assert.Equal(t, S2CGoal, r.Type())
	assert.Equal(t, int16(3), r.ReadHS())
	assert.Equal(t, int32(250), r.ReadD())
}

func TestScoreResetWholeArena(t *testing.T) {
	b := ScoreReset(-1)
	require.Len(t, b, 3)
	r := NewReader(b)
	assert.Equal(t, S2CScoreReset, r.Type())
	assert.Equal(t, int16(-1), r.ReadHS())
}

func TestPeriodicRewardFragmentation(t *testing.T) {
	items := make([]PeriodicRewardItem, 200)
	for i := range items {
		items[i] = PeriodicRewardItem{Freq: int16(i), Points: int16(i * 2)}
	}
	packets := PeriodicReward(items)
	require.Len(t, packets, 2)
	assert.LessOrEqual(t, len(packets[0]), MaxPeriodicPayload)
	assert.Equal(t, 1+128*4, len(packets[0]))
	assert.Equal(t, 1+72*4, len(packets[1]))

	// All 200 items survive, in order, across the fragments.
	var got []PeriodicRewardItem
	for _, pkt := range packets {
		r := NewReader(pkt)
		for r.Remaining() >= 4 {
			got = append(got, PeriodicRewardItem{Freq: r.ReadHS(), Points: r.ReadHS()})
		}
	}
	assert.Equal(t, items, got)
}

func TestPeriodicRewardEmpty(t *testing.T) {
	assert.Empty(t, PeriodicReward(nil))
}

func TestSpeedStatsLayout(t *testing.T) {
	top := [5]SpeedStatsEntry{
		{PlayerID: 10, Score: 500},
		{PlayerID: 11, Score: 400},
	}
	b := SpeedStats(750, 3, 380, top)
	require.Len(t, b, 1+4+2+4+20+10)

	r := NewReader(b)
	assert.Equal(t, int32(750), r.ReadD())
	assert.Equal(t, uint16(3), r.ReadH())
	assert.Equal(t, int32(380), r.ReadD())
	assert.Equal(t, int32(500), r.ReadD())
	assert.Equal(t, int32(400), r.ReadD())
}

func TestStringRoundTrip(t *testing.T) {
	w := NewWriterWithType(S2CChat)
	w.WriteS("hello zone")
	r := NewReader(w.Bytes())
	assert.Equal(t, "hello zone", r.ReadS())
}

func TestFixedStringPadsAndTruncates(t *testing.T) {
	w := NewWriter()
	w.WriteSFixed("bob", 8)
	assert.Len(t, w.Bytes(), 8)

	w2 := NewWriter()
	w2.WriteSFixed("averylongname", 8)
	assert.Len(t, w2.Bytes(), 8)

	r := NewReader(append([]byte{0}, w.Bytes()...))
	assert.Equal(t, "bob", r.ReadSFixed(8))
}
