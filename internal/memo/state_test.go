package memo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "NO_MEMO", NoMemo.String())
	assert.Equal(t, "MEMO_REQ", MemoReq.String())
	assert.Equal(t, "RECORD", Record.String())
	assert.Equal(t, "REPLAY", Replay.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestParseState(t *testing.T) {
	for _, s := range []State{NoMemo, MemoReq, Record, Replay} {
		got, ok := ParseState(s.String())
		assert.True(t, ok)
		assert.Equal(t, s, got)
	}
	_, ok := ParseState("bogus")
	assert.False(t, ok)
}

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{NoMemo, MemoReq, true},
		{NoMemo, Record, false},
		{NoMemo, Replay, false},
		{MemoReq, Record, true},
		{MemoReq, Replay, true},
		{MemoReq, NoMemo, false},
		{Record, Replay, false},
		{Replay, Record, false},
		{Record, NoMemo, false},
		{Replay, MemoReq, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, canAdvance(tt.from, tt.to))
		})
	}
}

func TestState_Terminal(t *testing.T) {
	assert.False(t, NoMemo.Terminal())
	assert.False(t, MemoReq.Terminal())
	assert.True(t, Record.Terminal())
	assert.True(t, Replay.Terminal())
}
