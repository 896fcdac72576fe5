package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dcode.dev/mentor-hub/internal/auth"
	"dcode.dev/mentor-hub/internal/store"
)

func newTestDirectory(t *testing.T, defaults ...store.UserProfile) (*UserDirectory, *store.Adapter) {
	t.Helper()
	a := newTestAdapter(t, newTestHub(t))
	return NewUserDirectory(context.Background(), a, defaults, zaptest.NewLogger(t)), a
}

func validSignup() SignupInput {
	return SignupInput{
		Name:            "Dana",
		Role:            store.RoleMentee,
		Password:        "long-enough",
		ConfirmPassword: "long-enough",
		Skills:          []string{"Go"},
	}
}

func TestSignup_Validation(t *testing.T) {
	d, _ := newTestDirectory(t)
	cases := map[string]struct {
		mutate func(*SignupInput)
		field  string
	}{
		"missing name":   {func(in *SignupInput) { in.Name = "  " }, "name"},
		"bad role":       {func(in *SignupInput) { in.Role = "Guru" }, "role"},
		"no password":    {func(in *SignupInput) { in.Password, in.ConfirmPassword = "", "" }, "password"},
		"short password": {func(in *SignupInput) { in.Password, in.ConfirmPassword = "short", "short" }, "password"},
		"mismatch":       {func(in *SignupInput) { in.ConfirmPassword = "different!" }, "confirmPassword"},
		"no skills":      {func(in *SignupInput) { in.Skills = nil }, "skills"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := validSignup()
			tc.mutate(&in)
			_, err := d.Signup(context.Background(), in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
	assert.Empty(t, d.All())
}

func TestSignup_PersistsHashedProfile(t *testing.T) {
	ctx := context.Background()
	d, a := newTestDirectory(t)

	in := validSignup()
	in.Role = store.RoleBoth
	u, err := d.Signup(ctx, in)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(u.ID, "both_"))
	assert.NotContains(t, u.ID, conversationIDSeparator)
	assert.Empty(t, u.Password)
	require.NotNil(t, u.MentorStats)
	assert.Contains(t, u.Avatar, "Dana")

	stored := a.LoadUsers(ctx, nil)
	require.Len(t, stored, 1)
	assert.True(t, auth.IsHash(stored[0].Password))

	got, err := d.Authenticate(u.ID, "long-enough")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = d.Authenticate(u.ID, "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = d.Authenticate("mentee_ghost", "long-enough")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRate_RunningMean(t *testing.T) {
	ctx := context.Background()
	d, a := newTestDirectory(t, ada, bob)

	for _, stars := range []int{5, 4, 3} {
		_, err := d.Rate(ctx, ada.ID, stars, "great")
		require.NoError(t, err)
	}
	u, ok := d.Get(ada.ID)
	require.True(t, ok)
	assert.Equal(t, 3, u.RatingCount)
	assert.InDelta(t, 4.0, u.Rating, 1e-9)

	stored := a.LoadUsers(ctx, nil)
	assert.InDelta(t, 4.0, stored[0].Rating, 1e-9)

	_, err := d.Rate(ctx, bob.ID, 5, "")
	assert.ErrorIs(t, err, ErrNotMentor)
	_, err = d.Rate(ctx, ada.ID, 6, "")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	_, err = d.Rate(ctx, "mentor_ghost", 3, "")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMentorsAndMentees_Filters(t *testing.T) {
	d, _ := newTestDirectory(t, ada, bob, carol)

	ids := func(us []store.UserProfile) []string {
		out := []string{}
		for _, u := range us {
			out = append(out, u.ID)
		}
		return out
	}

	assert.Equal(t, []string{ada.ID, carol.ID}, ids(d.Mentors(bob.ID, Filter{})))
	assert.Equal(t, []string{carol.ID}, ids(d.Mentors(ada.ID, Filter{})), "viewer excluded")
	assert.Equal(t, []string{bob.ID, carol.ID}, ids(d.Mentees(ada.ID, Filter{})))

	assert.Equal(t, []string{ada.ID}, ids(d.Mentors(bob.ID, Filter{Query: "AD"})))
	assert.Equal(t, []string{ada.ID, carol.ID}, ids(d.Mentors(bob.ID, Filter{Skills: []string{"Go"}})))
	assert.Equal(t, []string{ada.ID}, ids(d.Mentors(bob.ID, Filter{Skills: []string{"Go", "Rust"}})))
	assert.Empty(t, d.Mentors(bob.ID, Filter{Skills: []string{"Go"}, Interests: []string{"Gardening"}}))
	assert.Equal(t, []string{carol.ID}, ids(d.Mentors(bob.ID, Filter{Query: "car", Interests: []string{"DevOps"}})))
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t, bob)

	_, err := d.UpdateProfile(ctx, bob.ID, ProfileUpdate{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	u, err := d.UpdateProfile(ctx, bob.ID, ProfileUpdate{Skills: []string{"Go", "Docker"}, Interests: []string{"Kubernetes"}, GithubURL: " https://github.com/bob "})
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "Docker"}, u.Skills)
	assert.Equal(t, "https://github.com/bob", u.GithubURL)
	assert.False(t, NeedsProfileCompletion(u))

	_, err = d.UpdateProfile(ctx, "mentee_ghost", ProfileUpdate{Skills: []string{"Go"}})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestNeedsProfileCompletion(t *testing.T) {
	assert.True(t, NeedsProfileCompletion(store.UserProfile{Skills: []string{"Go"}, Interests: []string{"AI"}}))
	assert.False(t, NeedsProfileCompletion(store.UserProfile{Skills: []string{"Go", "Rust"}, Interests: []string{"AI"}}))
}

func TestImportFile_HashesPlaintext(t *testing.T) {
	ctx := context.Background()
	d, a := newTestDirectory(t, bob)

	path := filepath.Join(t.TempDir(), "seed.json")
	seed := `[
		{"id":"mentor_eve","name":"Eve","role":"Mentor","skills":["Go"],"interests":[],"password":"plaintext-pass"},
		{"id":"mentee_bob","name":"Bobby","role":"Mentee","skills":["React"],"interests":[]}
	]`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	n, err := d.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	users := a.LoadUsers(ctx, nil)
	require.Len(t, users, 2)
	assert.Equal(t, "Bobby", users[0].Name, "same id replaces in place")
	assert.True(t, auth.IsHash(users[1].Password))
	require.NotNil(t, users[1].MentorStats)

	_, err = d.Authenticate("mentor_eve", "plaintext-pass")
	assert.NoError(t, err)

	_, err = d.Import(ctx, []store.UserProfile{{ID: "a-b", Role: store.RoleMentee}})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestUserDirectory_WritesKeepProfilesAddedElsewhere(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t)
	seed := newTestAdapter(t, hub)
	require.True(t, seed.SaveUsers(ctx, []store.UserProfile{ada.Clone(), bob.Clone()}))

	stale := NewUserDirectory(ctx, newTestAdapter(t, hub), nil, zaptest.NewLogger(t))
	other := NewUserDirectory(ctx, newTestAdapter(t, hub), nil, zaptest.NewLogger(t))

	dana, err := other.Signup(ctx, validSignup())
	require.NoError(t, err)

	_, err = stale.Rate(ctx, ada.ID, 5, "")
	require.NoError(t, err)

	users, ok := seed.ReadUsers(ctx)
	require.True(t, ok)
	require.Len(t, users, 3)
	assert.Equal(t, dana.ID, users[2].ID)
	assert.Equal(t, 1, users[0].RatingCount)

	_, ok = stale.Get(dana.ID)
	assert.True(t, ok, "the write also refreshed the local copy")
}

func TestUserDirectory_Replace(t *testing.T) {
	d, _ := newTestDirectory(t, bob)
	d.Replace([]store.UserProfile{ada.Clone()})
	_, ok := d.Get(bob.ID)
	assert.False(t, ok)
	_, ok = d.Get(ada.ID)
	assert.True(t, ok)

	d.Replace(nil)
	assert.Empty(t, d.All())
}
