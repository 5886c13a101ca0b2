package store

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/personachat/internal/chat"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCharacterRoundtrip(t *testing.T) {
	s := openTestStore(t)

	c := &chat.CharacterProfile{
		ID:            "c1",
		Name:          "Eve",
		Description:   "A test character.",
		Talkativeness: 0.8,
	}
	require.NoError(t, s.SaveCharacter(c))

	// Upsert replaces, not duplicates.
	c.Description = "Updated."
	require.NoError(t, s.SaveCharacter(c))

	list, err := s.ListCharacters()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Updated.", list[0].Description)
	assert.Equal(t, 0.8, list[0].Talkativeness)
}

func TestGroupRoundtrip(t *testing.T) {
	s := openTestStore(t)

	g := &chat.GroupDefinition{
		ID:                 "g1",
		Name:               "duo",
		Members:            []string{"c1", "c2"},
		ActivationStrategy: chat.ActivationList,
		AllowSelfResponses: true,
	}
	require.NoError(t, s.SaveGroup(g))

	list, err := s.ListGroups()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "duo", list[0].Name)
	assert.Equal(t, []string{"c1", "c2"}, list[0].Members)
	assert.Equal(t, chat.ActivationList, list[0].ActivationStrategy)
	assert.True(t, list[0].AllowSelfResponses)
}

func TestChatRoundtrip(t *testing.T) {
	s := openTestStore(t)

	turns := []*chat.Turn{
		{ID: "t1", Name: "Bob", IsUser: true, IsName: true, Text: "hello", SwipeID: -1},
		{ID: "t2", Name: "Eve", IsName: true, Text: "hi", SwipeID: 1,
			Swipes: []string{"hey", "hi"},
			Extra:  chat.TurnExtra{GenID: "g1", Bias: " softly "}},
	}
	require.NoError(t, s.SaveChat("char-c1", "c1", false, turns))

	got, err := s.LoadChat("char-c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[1].SwipeID)
	assert.Equal(t, []string{"hey", "hi"}, got[1].Swipes)
	assert.Equal(t, "g1", got[1].Extra.GenID)
	assert.Equal(t, " softly ", got[1].Extra.Bias)
}

func TestLoadUnknownChat(t *testing.T) {
	s := openTestStore(t)

	turns, err := s.LoadChat("missing")
	require.NoError(t, err)
	assert.Nil(t, turns, "unknown chats load as nil")
}

func TestDeleteChat(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveChat("char-c1", "c1", false, nil))
	require.NoError(t, s.DeleteChat("char-c1"))

	turns, err := s.LoadChat("char-c1")
	require.NoError(t, err)
	assert.Nil(t, turns)
}

func TestDebouncerCoalesces(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() error {
		calls.Add(1)
		return nil
	})

	d.Trigger()
	d.Trigger()
	d.Trigger()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "burst of triggers coalesces into one save")
}

func TestDebouncerFlush(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(time.Hour, func() error {
		calls.Add(1)
		return nil
	})

	d.Trigger()
	d.Flush()
	assert.Equal(t, int32(1), calls.Load(), "flush runs the pending save immediately")
}
