package core

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dcode.dev/mentor-hub/internal/store"
)

var (
	ErrCommunityNotFound = errors.New("community not found")
	ErrPostNotFound      = errors.New("post not found")
)

// CommunityService holds the communities shared by every session of the process.
type CommunityService struct {
	mu          sync.RWMutex
	communities []store.Community
	logger      *zap.Logger
	now         func() time.Time
}

func NewCommunityService(logger *zap.Logger) *CommunityService {
	return &CommunityService{logger: logger, now: time.Now}
}

// Create adds a community with the creator as its first member. Newest first.
func (s *CommunityService) Create(creator store.UserProfile, name, description string) (store.Community, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Community{}, &ValidationError{Field: "name", Message: "community name is required"}
	}
	c := store.Community{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		MemberIDs:   []string{creator.ID},
		Posts:       []store.CommunityPost{},
	}

	s.mu.Lock()
	s.communities = append([]store.Community{c}, s.communities...)
	s.mu.Unlock()

	s.logger.Info("Community created", zap.String("community_id", c.ID), zap.String("creator_id", creator.ID))
	return c.Clone(), nil
}

func (s *CommunityService) List() []store.Community {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Community, len(s.communities))
	for i, c := range s.communities {
		out[i] = c.Clone()
	}
	return out
}

func (s *CommunityService) Get(id string) (store.Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(id)
	if i < 0 {
		return store.Community{}, ErrCommunityNotFound
	}
	return s.communities[i].Clone(), nil
}

// Join adds userID to the members. Joining twice is a no-op.
func (s *CommunityService) Join(id, userID string) (store.Community, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return store.Community{}, ErrCommunityNotFound
	}
	if !s.communities[i].HasMember(userID) {
		s.communities[i].MemberIDs = append(s.communities[i].MemberIDs, userID)
	}
	return s.communities[i].Clone(), nil
}

// Post puts a new post at the top of the community feed.
func (s *CommunityService) Post(id string, author store.UserProfile, text string) (store.CommunityPost, error) {
	if strings.TrimSpace(text) == "" {
		return store.CommunityPost{}, &ValidationError{Field: "text", Message: "post text is required"}
	}
	p := store.CommunityPost{
		ID:           uuid.NewString(),
		AuthorID:     author.ID,
		AuthorName:   author.Name,
		AuthorAvatar: author.Avatar,
		Text:         text,
		Timestamp:    s.now(),
		Replies:      []store.CommunityReply{},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return store.CommunityPost{}, ErrCommunityNotFound
	}
	s.communities[i].Posts = append([]store.CommunityPost{p}, s.communities[i].Posts...)
	return p, nil
}

// Reply appends a reply under a post.
func (s *CommunityService) Reply(id, postID string, author store.UserProfile, text string) (store.CommunityReply, error) {
	if strings.TrimSpace(text) == "" {
		return store.CommunityReply{}, &ValidationError{Field: "text", Message: "reply text is required"}
	}
	r := store.CommunityReply{
		ID:           uuid.NewString(),
		AuthorID:     author.ID,
		AuthorName:   author.Name,
		AuthorAvatar: author.Avatar,
		Text:         text,
		Timestamp:    s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return store.CommunityReply{}, ErrCommunityNotFound
	}
	posts := s.communities[i].Posts
	for j := range posts {
		if posts[j].ID == postID {
			posts[j].Replies = append(posts[j].Replies, r)
			return r, nil
		}
	}
	return store.CommunityReply{}, ErrPostNotFound
}

func (s *CommunityService) indexLocked(id string) int {
	for i := range s.communities {
		if s.communities[i].ID == id {
			return i
		}
	}
	return -1
}
