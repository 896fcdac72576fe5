package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dcode.dev/mentor-hub/internal/auth"
	"dcode.dev/mentor-hub/internal/store"
)

const minPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid user id or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotMentor          = errors.New("user cannot be rated as a mentor")
)

// ValidationError reports user input that blocks the requested action.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// SkillCatalog is the set of skills offered at signup and in filters.
var SkillCatalog = []string{
	"React", "TypeScript", "Node.js", "Python", "Go", "Rust", "UI/UX Design",
	"GraphQL", "Docker", "Kubernetes", "Project Management", "DevOps", "Machine Learning",
	"Data Science", "Public Speaking", "Technical Writing", "Community Management",
}

// DefaultUsers is the directory persisted when no users record exists yet.
func DefaultUsers() []store.UserProfile {
	return []store.UserProfile{}
}

type SignupInput struct {
	Name            string         `json:"name"`
	Role            store.UserRole `json:"role"`
	Password        string         `json:"password"`
	ConfirmPassword string         `json:"confirmPassword"`
	Skills          []string       `json:"skills"`
	Interests       []string       `json:"interests"`
	Bio             string         `json:"bio"`
	GithubURL       string         `json:"githubUrl"`
}

func (in SignupInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if !in.Role.Valid() {
		return &ValidationError{Field: "role", Message: "role must be Mentor, Mentee or Both"}
	}
	if in.Password == "" {
		return &ValidationError{Field: "password", Message: "password is required"}
	}
	if len(in.Password) < minPasswordLength {
		return &ValidationError{Field: "password", Message: fmt.Sprintf("password must be at least %d characters long", minPasswordLength)}
	}
	if in.Password != in.ConfirmPassword {
		return &ValidationError{Field: "confirmPassword", Message: "passwords do not match"}
	}
	if len(in.Skills) == 0 {
		return &ValidationError{Field: "skills", Message: "select at least one skill"}
	}
	return nil
}

type ProfileUpdate struct {
	Skills    []string `json:"skills"`
	Interests []string `json:"interests"`
	GithubURL string   `json:"githubUrl"`
}

// Filter narrows a mentor or mentee listing. All set criteria must match.
type Filter struct {
	Query     string   `json:"query"`
	Skills    []string `json:"skills"`
	Interests []string `json:"interests"`
}

func (f Filter) matches(u store.UserProfile) bool {
	if q := strings.TrimSpace(f.Query); q != "" && !strings.Contains(strings.ToLower(u.Name), strings.ToLower(q)) {
		return false
	}
	return containsAll(u.Skills, f.Skills) && containsAll(u.Interests, f.Interests)
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// NeedsProfileCompletion reports whether the dashboard should prompt for more tags.
func NeedsProfileCompletion(u store.UserProfile) bool {
	return len(u.Skills)+len(u.Interests) < 3
}

// UserDirectory is a session's in-memory copy of the users record. Changes
// are read-modify-write against the stored record, so profiles other sessions
// added since the last notification survive.
type UserDirectory struct {
	mu    sync.RWMutex
	users []store.UserProfile

	writeMu sync.Mutex

	store  *store.Adapter
	logger *zap.Logger
}

func NewUserDirectory(ctx context.Context, adapter *store.Adapter, defaults []store.UserProfile, logger *zap.Logger) *UserDirectory {
	return &UserDirectory{
		users:  adapter.LoadUsers(ctx, defaults),
		store:  adapter,
		logger: logger,
	}
}

// All returns every profile without credentials.
func (d *UserDirectory) All() []store.UserProfile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]store.UserProfile, len(d.users))
	for i, u := range d.users {
		out[i] = u.Public()
	}
	return out
}

func (d *UserDirectory) Get(id string) (store.UserProfile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i := indexOf(d.users, id); i >= 0 {
		return d.users[i].Public(), true
	}
	return store.UserProfile{}, false
}

// Lookup resolves ids to profiles, skipping unknown ids.
func (d *UserDirectory) Lookup(ids []string) []store.UserProfile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]store.UserProfile, 0, len(ids))
	for _, id := range ids {
		if i := indexOf(d.users, id); i >= 0 {
			out = append(out, d.users[i].Public())
		}
	}
	return out
}

// Replace swaps in a users record received from another session. It is not
// saved again.
func (d *UserDirectory) Replace(users []store.UserProfile) {
	if users == nil {
		users = []store.UserProfile{}
	}
	d.mu.Lock()
	d.users = users
	d.mu.Unlock()
}

func (d *UserDirectory) Signup(ctx context.Context, in SignupInput) (store.UserProfile, error) {
	if err := in.validate(); err != nil {
		return store.UserProfile{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return store.UserProfile{}, fmt.Errorf("failed to hash password: %w", err)
	}

	name := strings.TrimSpace(in.Name)
	u := store.UserProfile{
		ID:        NewUserID(in.Role),
		Name:      name,
		Role:      in.Role,
		Avatar:    "https://i.pravatar.cc/150?u=" + url.QueryEscape(name),
		Skills:    append([]string{}, in.Skills...),
		Interests: append([]string{}, in.Interests...),
		Bio:       in.Bio,
		Password:  hash,
		GithubURL: strings.TrimSpace(in.GithubURL),
	}
	u.Normalize()

	d.update(ctx, func(users []store.UserProfile) ([]store.UserProfile, error) {
		return append(users, u), nil
	})
	d.logger.Info("User signed up", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return u.Public(), nil
}

// NewUserID returns a fresh id that never contains the conversation id separator.
func NewUserID(role store.UserRole) string {
	return strings.ToLower(string(role)) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (d *UserDirectory) Authenticate(id, password string) (store.UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i := indexOf(d.users, id)
	if i < 0 || !auth.CheckPasswordHash(password, d.users[i].Password) {
		return store.UserProfile{}, ErrInvalidCredentials
	}
	return d.users[i].Public(), nil
}

func (d *UserDirectory) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (store.UserProfile, error) {
	if len(upd.Skills) == 0 {
		return store.UserProfile{}, &ValidationError{Field: "skills", Message: "select at least one skill"}
	}

	var u store.UserProfile
	_, err := d.update(ctx, func(users []store.UserProfile) ([]store.UserProfile, error) {
		i := indexOf(users, id)
		if i < 0 {
			return nil, ErrUserNotFound
		}
		u = users[i].Clone()
		u.Skills = append([]string{}, upd.Skills...)
		u.Interests = append([]string{}, upd.Interests...)
		u.GithubURL = strings.TrimSpace(upd.GithubURL)
		u.Normalize()
		users[i] = u
		return users, nil
	})
	if err != nil {
		return store.UserProfile{}, err
	}
	return u.Public(), nil
}

// Rate folds stars into the mentor's running mean.
func (d *UserDirectory) Rate(ctx context.Context, mentorID string, stars int, review string) (store.UserProfile, error) {
	if stars < 1 || stars > 5 {
		return store.UserProfile{}, &ValidationError{Field: "rating", Message: "rating must be between 1 and 5"}
	}

	var u store.UserProfile
	_, err := d.update(ctx, func(users []store.UserProfile) ([]store.UserProfile, error) {
		i := indexOf(users, mentorID)
		if i < 0 {
			return nil, ErrUserNotFound
		}
		u = users[i].Clone()
		if u.MentorStats == nil {
			return nil, ErrNotMentor
		}
		total := u.Rating * float64(u.RatingCount)
		u.RatingCount++
		u.Rating = (total + float64(stars)) / float64(u.RatingCount)
		users[i] = u
		return users, nil
	})
	if err != nil {
		return store.UserProfile{}, err
	}

	d.logger.Info("Mentor rated",
		zap.String("mentor_id", mentorID),
		zap.Int("stars", stars),
		zap.String("review", review),
		zap.Float64("rating", u.Rating))
	return u.Public(), nil
}

// Mentors lists mentor-capable profiles other than the viewer.
func (d *UserDirectory) Mentors(viewerID string, f Filter) []store.UserProfile {
	return d.list(viewerID, f, store.UserRole.CanMentor)
}

// Mentees lists profiles that can be mentored, other than the viewer.
func (d *UserDirectory) Mentees(viewerID string, f Filter) []store.UserProfile {
	return d.list(viewerID, f, store.UserRole.CanBeMentored)
}

func (d *UserDirectory) list(viewerID string, f Filter, role func(store.UserRole) bool) []store.UserProfile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := []store.UserProfile{}
	for _, u := range d.users {
		if u.ID == viewerID || !role(u.Role) || !f.matches(u) {
			continue
		}
		out = append(out, u.Public())
	}
	return out
}

// Import merges profiles into the directory, replacing profiles with the same
// id. Plaintext passwords are hashed on the way in.
func (d *UserDirectory) Import(ctx context.Context, profiles []store.UserProfile) (int, error) {
	prepared := make([]store.UserProfile, 0, len(profiles))
	for i, p := range profiles {
		if p.ID == "" {
			return 0, &ValidationError{Field: fmt.Sprintf("users[%d].id", i), Message: "id is required"}
		}
		if strings.Contains(p.ID, conversationIDSeparator) {
			return 0, &ValidationError{Field: fmt.Sprintf("users[%d].id", i), Message: "id must not contain " + conversationIDSeparator}
		}
		if !p.Role.Valid() {
			return 0, &ValidationError{Field: fmt.Sprintf("users[%d].role", i), Message: "invalid role"}
		}
		p = p.Clone()
		if p.Password != "" && !auth.IsHash(p.Password) {
			hash, err := auth.HashPassword(p.Password)
			if err != nil {
				return 0, fmt.Errorf("failed to hash password for %s: %w", p.ID, err)
			}
			p.Password = hash
		}
		p.Normalize()
		prepared = append(prepared, p)
	}

	saved, _ := d.update(ctx, func(users []store.UserProfile) ([]store.UserProfile, error) {
		for _, p := range prepared {
			if i := indexOf(users, p.ID); i >= 0 {
				users[i] = p
			} else {
				users = append(users, p)
			}
		}
		return users, nil
	})
	if !saved {
		return 0, fmt.Errorf("failed to save imported users")
	}
	return len(prepared), nil
}

// ImportFile reads a JSON array of profiles from path and imports it.
func (d *UserDirectory) ImportFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}
	var profiles []store.UserProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return 0, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return d.Import(ctx, profiles)
}

// update applies change to the latest stored record (or to the local copy
// when the record cannot be read) and saves the result. change gets its own
// slice and must replace profiles rather than mutate them. Writes from one
// directory are serialized so each one reads the previous one's result.
func (d *UserDirectory) update(ctx context.Context, change func([]store.UserProfile) ([]store.UserProfile, error)) (bool, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	latest, ok := d.store.ReadUsers(ctx)

	d.mu.Lock()
	if ok {
		d.users = latest
	}
	users, err := change(append([]store.UserProfile(nil), d.users...))
	if err != nil {
		d.mu.Unlock()
		return false, err
	}
	d.users = users
	snapshot := append([]store.UserProfile(nil), users...)
	d.mu.Unlock()

	return d.store.SaveUsers(ctx, snapshot), nil
}

func indexOf(users []store.UserProfile, id string) int {
	for i := range users {
		if users[i].ID == id {
			return i
		}
	}
	return -1
}
