package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dcode.dev/mentor-hub/internal/kv"
)

func newTestAdapter(t *testing.T) (*Adapter, kv.Store) {
	t.Helper()
	hub := kv.NewMemoryHub()
	t.Cleanup(func() { hub.Close() })
	s, err := hub.Open(context.Background())
	require.NoError(t, err)
	return NewAdapter(s, zaptest.NewLogger(t)), s
}

func defaultProfiles() []UserProfile {
	return []UserProfile{
		{ID: "mentor_ada", Name: "Ada", Role: RoleMentor, Skills: []string{"Go"}},
		{ID: "mentee_bob", Name: "Bob", Role: RoleMentee, Skills: []string{"React"}},
	}
}

func TestLoadUsers_EmptyStorePersistsDefaults(t *testing.T) {
	ctx := context.Background()
	a, s := newTestAdapter(t)

	users := a.LoadUsers(ctx, defaultProfiles())
	require.Len(t, users, 2)
	require.NotNil(t, users[0].MentorStats, "mentor defaults carry rating fields")
	assert.Nil(t, users[1].MentorStats)

	raw, ok, err := s.Get(ctx, UsersKey)
	require.NoError(t, err)
	require.True(t, ok, "defaults must be written back")

	// A second load reads the stored record, not the defaults.
	again := a.LoadUsers(ctx, nil)
	assert.Equal(t, users, again)

	decoded, err := DecodeUsers(raw)
	require.NoError(t, err)
	assert.Equal(t, users, decoded)
}

func TestLoadUsers_CorruptRecordFallsBack(t *testing.T) {
	ctx := context.Background()
	a, s := newTestAdapter(t)
	require.NoError(t, s.Set(ctx, UsersKey, "{not json"))

	users := a.LoadUsers(ctx, defaultProfiles())
	assert.Len(t, users, 2)

	raw, _, _ := s.Get(ctx, UsersKey)
	_, err := DecodeUsers(raw)
	assert.NoError(t, err, "corrupt record replaced by defaults")
}

func TestConversations_RoundTripKeepsTimestamps(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	ts := time.Date(2026, 10, 18, 14, 3, 27, 123456789, time.UTC)
	convs := map[string]*Conversation{
		"mentee_bob-mentor_ada": {
			ID: "mentee_bob-mentor_ada",
			Participants: []UserProfile{
				{ID: "mentee_bob", Name: "Bob", Role: RoleMentee, Skills: []string{}, Interests: []string{}},
				{ID: "mentor_ada", Name: "Ada", Role: RoleMentor, Skills: []string{}, Interests: []string{}, MentorStats: &MentorStats{Rating: 4.5, RatingCount: 2}},
			},
			Messages: []ChatMessage{
				{ID: "m1", SenderID: "mentee_bob", SenderName: "Bob", Text: "hello", Timestamp: ts, ReadBy: map[string]bool{"mentee_bob": true}},
				{ID: "m2", SenderID: "mentor_ada", SenderName: "Ada", Text: "hi", Timestamp: ts.Add(time.Minute)},
			},
		},
	}
	require.True(t, a.SaveConversations(ctx, convs))

	loaded := a.LoadConversations(ctx)
	require.Contains(t, loaded, "mentee_bob-mentor_ada")
	msgs := loaded["mentee_bob-mentor_ada"].Messages
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Timestamp.Equal(ts))
	assert.True(t, msgs[1].Timestamp.Equal(ts.Add(time.Minute)))
	assert.Nil(t, msgs[1].ReadBy)
	assert.Equal(t, 4.5, loaded["mentee_bob-mentor_ada"].Participants[1].Rating)
}

func TestDecodeConversations_AcceptsBrowserDates(t *testing.T) {
	raw := `{"a-b":{"id":"a-b","participants":[],"messages":[{"id":"m","senderId":"a","senderName":"A","text":"x","timestamp":"2024-05-01T09:30:00.000Z"}],"isGroupChat":false}}`
	convs, err := DecodeConversations(raw)
	require.NoError(t, err)
	want := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	assert.True(t, convs["a-b"].Messages[0].Timestamp.Equal(want))
}

func TestDecodeConversations_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":          `[`,
		"null":              `null`,
		"key mismatch":      `{"a-b":{"id":"a-c","participants":[],"messages":[]}}`,
		"missing timestamp": `{"a-b":{"id":"a-b","participants":[],"messages":[{"id":"m"}]}}`,
		"bad timestamp":     `{"a-b":{"id":"a-b","participants":[],"messages":[{"id":"m","timestamp":"yesterday"}]}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeConversations(raw)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestLoadConversations_MissingIsEmpty(t *testing.T) {
	a, _ := newTestAdapter(t)
	convs := a.LoadConversations(context.Background())
	assert.NotNil(t, convs)
	assert.Empty(t, convs)
}

func TestTypingSlot(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	_, ok := a.Typing(ctx, "c1")
	assert.False(t, ok)

	a.SetTyping(ctx, "c1", "mentee_bob")
	who, ok := a.Typing(ctx, "c1")
	assert.True(t, ok)
	assert.Equal(t, "mentee_bob", who)

	a.ClearTyping(ctx, "c1")
	_, ok = a.Typing(ctx, "c1")
	assert.False(t, ok)

	id, ok := ConversationIDFromTypingKey(TypingKey("x-y"))
	assert.True(t, ok)
	assert.Equal(t, "x-y", id)
	_, ok = ConversationIDFromTypingKey(ConversationsKey)
	assert.False(t, ok)
}

func TestUserProfile_NormalizeTracksRole(t *testing.T) {
	u := UserProfile{ID: "x", Role: RoleMentee, MentorStats: &MentorStats{Rating: 3}}
	u.Normalize()
	assert.Nil(t, u.MentorStats)
	assert.NotNil(t, u.Skills)

	u.Role = RoleBoth
	u.Normalize()
	require.NotNil(t, u.MentorStats)
	assert.Zero(t, u.RatingCount)
}
