package store

import "time"

type UserRole string

const (
	RoleMentor UserRole = "Mentor"
	RoleMentee UserRole = "Mentee"
	RoleBoth   UserRole = "Both"
)

func (r UserRole) Valid() bool {
	return r == RoleMentor || r == RoleMentee || r == RoleBoth
}

// CanMentor reports whether profiles with this role are listed as mentors and carry ratings.
func (r UserRole) CanMentor() bool { return r == RoleMentor || r == RoleBoth }

// CanBeMentored reports whether profiles with this role are listed as mentees.
func (r UserRole) CanBeMentored() bool { return r == RoleMentee || r == RoleBoth }

// MentorStats only exists on mentor-capable profiles.
type MentorStats struct {
	Rating      float64 `json:"rating"`
	RatingCount int     `json:"ratingCount"`
}

type UserProfile struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Role      UserRole `json:"role"`
	Avatar    string   `json:"avatar"`
	Skills    []string `json:"skills"`
	Interests []string `json:"interests"`
	Bio       string   `json:"bio"`
	Password  string   `json:"password,omitempty"` // bcrypt hash
	GithubURL string   `json:"githubUrl,omitempty"`
	*MentorStats
}

// Normalize makes the rating variant match the role and replaces nil tag lists.
func (u *UserProfile) Normalize() {
	if u.Skills == nil {
		u.Skills = []string{}
	}
	if u.Interests == nil {
		u.Interests = []string{}
	}
	switch {
	case u.Role.CanMentor() && u.MentorStats == nil:
		u.MentorStats = &MentorStats{}
	case !u.Role.CanMentor():
		u.MentorStats = nil
	}
}

// Clone returns a deep copy.
func (u UserProfile) Clone() UserProfile {
	c := u
	c.Skills = append([]string{}, u.Skills...)
	c.Interests = append([]string{}, u.Interests...)
	if u.MentorStats != nil {
		stats := *u.MentorStats
		c.MentorStats = &stats
	}
	return c
}

// Public returns a copy without the credential.
func (u UserProfile) Public() UserProfile {
	c := u.Clone()
	c.Password = ""
	return c
}

type ChatMessage struct {
	ID         string          `json:"id"`
	SenderID   string          `json:"senderId"`
	SenderName string          `json:"senderName"`
	Text       string          `json:"text"`
	Timestamp  time.Time       `json:"timestamp"`
	ReadBy     map[string]bool `json:"readBy,omitempty"`
}

func (m ChatMessage) IsReadBy(userID string) bool {
	return m.ReadBy[userID]
}

func (m ChatMessage) Clone() ChatMessage {
	c := m
	if m.ReadBy != nil {
		c.ReadBy = make(map[string]bool, len(m.ReadBy))
		for k, v := range m.ReadBy {
			c.ReadBy[k] = v
		}
	}
	return c
}

type Conversation struct {
	ID           string        `json:"id"`
	Participants []UserProfile `json:"participants"`
	Messages     []ChatMessage `json:"messages"`
	IsGroupChat  bool          `json:"isGroupChat"`
}

func (c *Conversation) Clone() *Conversation {
	out := &Conversation{
		ID:           c.ID,
		IsGroupChat:  c.IsGroupChat,
		Participants: make([]UserProfile, len(c.Participants)),
		Messages:     make([]ChatMessage, len(c.Messages)),
	}
	for i, p := range c.Participants {
		out.Participants[i] = p.Clone()
	}
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// LastMessage returns the newest message, if any.
func (c *Conversation) LastMessage() (ChatMessage, bool) {
	if len(c.Messages) == 0 {
		return ChatMessage{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// Others returns the participants other than userID, in snapshot order.
func (c *Conversation) Others(userID string) []UserProfile {
	others := make([]UserProfile, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.ID != userID {
			others = append(others, p)
		}
	}
	return others
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

type MatchResult struct {
	MentorID string `json:"mentorId"`
	Reason   string `json:"reason"`
}

type CommunityReply struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"authorId"`
	AuthorName   string    `json:"authorName"`
	AuthorAvatar string    `json:"authorAvatar"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
}

type CommunityPost struct {
	ID           string           `json:"id"`
	AuthorID     string           `json:"authorId"`
	AuthorName   string           `json:"authorName"`
	AuthorAvatar string           `json:"authorAvatar"`
	Text         string           `json:"text"`
	Timestamp    time.Time        `json:"timestamp"`
	Replies      []CommunityReply `json:"replies"`
}

type Community struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	MemberIDs   []string        `json:"memberIds"`
	Posts       []CommunityPost `json:"posts"`
}

func (c Community) Clone() Community {
	out := c
	out.MemberIDs = append([]string{}, c.MemberIDs...)
	out.Posts = make([]CommunityPost, len(c.Posts))
	for i, p := range c.Posts {
		p.Replies = append([]CommunityReply{}, p.Replies...)
		out.Posts[i] = p
	}
	return out
}

func (c Community) HasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Booking struct {
	ID        string    `json:"id"`
	MentorID  string    `json:"mentorId"`
	MenteeID  string    `json:"menteeId"`
	Date      time.Time `json:"date"`
	Slot      string    `json:"slot"`
	CreatedAt time.Time `json:"createdAt"`
}
