package core

type View string

const (
	ViewLogin           View = "login"
	ViewProfileSetup    View = "profile_setup"
	ViewDashboard       View = "dashboard"
	ViewMentors         View = "mentors"
	ViewMentees         View = "mentees"
	ViewCommunities     View = "communities"
	ViewChat            View = "chat"
	ViewChatsList       View = "chats_list"
	ViewAIAssistantChat View = "ai_assistant_chat"
)

func (v View) Valid() bool {
	switch v {
	case ViewLogin, ViewProfileSetup, ViewDashboard, ViewMentors, ViewMentees,
		ViewCommunities, ViewChat, ViewChatsList, ViewAIAssistantChat:
		return true
	}
	return false
}

// clearsSelection reports whether entering v drops the active conversation
// and community.
func (v View) clearsSelection() bool {
	switch v {
	case ViewDashboard, ViewMentors, ViewMentees, ViewCommunities, ViewChatsList:
		return true
	}
	return false
}

// Control identifies a submit control that waits on the AI gateway.
type Control string

const (
	ControlMatches     Control = "matches"
	ControlAssistant   Control = "assistant"
	ControlIcebreakers Control = "icebreakers"
	ControlReply       Control = "reply"
)

// ViewState is what the presentation layer renders from.
type ViewState struct {
	View                   View      `json:"view"`
	UserID                 string    `json:"userId,omitempty"`
	ActiveConversationID   string    `json:"activeConversationId,omitempty"`
	ActiveCommunityID      string    `json:"activeCommunityId,omitempty"`
	UnreadCount            int       `json:"unreadCount"`
	Loading                bool      `json:"loading"`
	InFlight               []Control `json:"inFlight"`
	NeedsProfileCompletion bool      `json:"needsProfileCompletion"`
}
