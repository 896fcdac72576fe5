package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"dcode.dev/mentor-hub/internal/metrics"
	"dcode.dev/mentor-hub/internal/store"
)

const (
	AssistantSenderID   = "ai-assistant"
	AssistantSenderName = "DCODE AI"

	fallbackMatchReason    = "Could not generate AI reason. This is a fallback suggestion."
	fallbackReply          = "Sorry, I'm having trouble connecting right now. Let's try again in a moment."
	fallbackAssistantReply = "I'm sorry, I'm encountering a technical issue at the moment. Please try asking again in a little bit."

	fallbackMatchCount = 2
	maxMatches         = 3
	icebreakerCount    = 3

	assistantSystemInstruction = "You are DCODE AI, a helpful assistant specializing in mentorship and open-source software development best practices. " +
		"Your goal is to provide clear, encouraging, and actionable advice to both mentors and mentees. Keep your responses concise and friendly."
)

// Gateway turns generator calls into results that always resolve: every
// failure is logged, counted and replaced by a fixed fallback.
type Gateway struct {
	gen    Generator
	logger *zap.Logger
}

func NewGateway(gen Generator, logger *zap.Logger) *Gateway {
	if gen == nil {
		gen = unavailableModel{}
	}
	return &Gateway{gen: gen, logger: logger}
}

func (g *Gateway) Close() error { return g.gen.Close() }

func (g *Gateway) call(ctx context.Context, op string, p Prompt) (string, error) {
	start := time.Now()
	text, err := g.gen.Generate(ctx, p)
	metrics.GatewayRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return text, err
}

func (g *Gateway) fallback(op string, err error) {
	metrics.GatewayRequestsTotal.WithLabelValues(op, "fallback").Inc()
	g.logger.Warn("AI request failed, using fallback", zap.String("operation", op), zap.Error(err))
}

func (g *Gateway) ok(op string) {
	metrics.GatewayRequestsTotal.WithLabelValues(op, "ok").Inc()
}

// SuggestMatches ranks up to three candidates for seeker. Results only name
// known candidates.
func (g *Gateway) SuggestMatches(ctx context.Context, seeker store.UserProfile, candidates []store.UserProfile) []store.MatchResult {
	const op = "matches"
	if len(candidates) == 0 {
		return []store.MatchResult{}
	}

	text, err := g.call(ctx, op, Prompt{Text: matchesPrompt(seeker, candidates), Shape: ShapeMatches})
	if err == nil {
		var out struct {
			Matches []store.MatchResult `json:"matches"`
		}
		if err = json.Unmarshal([]byte(stripCodeFence(text)), &out); err == nil {
			known := make(map[string]bool, len(candidates))
			for _, c := range candidates {
				known[c.ID] = true
			}
			results := []store.MatchResult{}
			seen := map[string]bool{}
			for _, m := range out.Matches {
				if !known[m.MentorID] || seen[m.MentorID] {
					continue
				}
				seen[m.MentorID] = true
				results = append(results, m)
				if len(results) == maxMatches {
					break
				}
			}
			if len(results) > 0 {
				g.ok(op)
				return results
			}
			err = fmt.Errorf("no known candidates in %d suggestions", len(out.Matches))
		}
	}

	g.fallback(op, err)
	n := fallbackMatchCount
	if len(candidates) < n {
		n = len(candidates)
	}
	results := make([]store.MatchResult, n)
	for i := 0; i < n; i++ {
		results[i] = store.MatchResult{MentorID: candidates[i].ID, Reason: fallbackMatchReason}
	}
	return results
}

// Icebreakers returns exactly three openers for mentee to send to mentor.
func (g *Gateway) Icebreakers(ctx context.Context, mentee, mentor store.UserProfile) []string {
	const op = "icebreakers"
	text, err := g.call(ctx, op, Prompt{Text: icebreakersPrompt(mentee, mentor), Shape: ShapeIcebreakers})
	if err == nil {
		var out struct {
			Icebreakers []string `json:"icebreakers"`
		}
		if err = json.Unmarshal([]byte(stripCodeFence(text)), &out); err == nil {
			if len(out.Icebreakers) == icebreakerCount {
				g.ok(op)
				return out.Icebreakers
			}
			err = fmt.Errorf("got %d icebreakers, want %d", len(out.Icebreakers), icebreakerCount)
		}
	}

	g.fallback(op, err)
	return FallbackIcebreakers(mentor)
}

// FallbackIcebreakers are the template openers for mentor.
func FallbackIcebreakers(mentor store.UserProfile) []string {
	skill := "your area of expertise"
	if len(mentor.Skills) > 0 {
		skill = mentor.Skills[0]
	}
	interest := "your interests"
	if len(mentor.Interests) > 0 {
		interest = mentor.Interests[0]
	}
	return []string{
		fmt.Sprintf("Hi %s! I'm excited to connect. What's one piece of advice you have for someone starting out in your field?", mentor.Name),
		fmt.Sprintf("Hello %s, thanks for matching. I was really impressed by your skills in %s.", mentor.Name, skill),
		fmt.Sprintf("Hi %s, I'm hoping to learn more about %s. Could you tell me a bit about your journey?", mentor.Name, interest),
	}
}

// SuggestReply drafts the next message as the first other participant.
func (g *Gateway) SuggestReply(ctx context.Context, history []store.ChatMessage, current store.UserProfile, others []store.UserProfile) string {
	const op = "reply"
	if len(others) == 0 {
		g.fallback(op, ErrNoParticipants)
		return fallbackReply
	}
	persona := others[0]
	system := fmt.Sprintf("You are %s, a helpful and encouraging %s in the DCODE mentorship program.\n"+
		"Your expertise includes %s.\n"+
		"You are chatting with %s, a %s.\n"+
		"Your response should be friendly, supportive, and relevant to the conversation. Keep your response concise, like a real chat message.",
		persona.Name, persona.Role, strings.Join(persona.Skills, ", "), current.Name, current.Role)
	text := fmt.Sprintf("Here is the recent conversation history:\n---\n%s\n---\nNow, provide a response from your perspective as %s.",
		formatHistory(history), persona.Name)

	reply, err := g.call(ctx, op, Prompt{System: system, Text: text})
	if err == nil && strings.TrimSpace(reply) == "" {
		err = fmt.Errorf("empty reply")
	}
	if err != nil {
		g.fallback(op, err)
		return fallbackReply
	}
	g.ok(op)
	return reply
}

// AssistantReply answers the assistant panel as DCODE AI.
func (g *Gateway) AssistantReply(ctx context.Context, history []store.ChatMessage) string {
	const op = "assistant"
	text := fmt.Sprintf("Here is the recent conversation history:\n---\n%s\n---\nNow, provide a helpful response as %s.",
		formatHistory(history), AssistantSenderName)

	reply, err := g.call(ctx, op, Prompt{System: assistantSystemInstruction, Text: text})
	if err == nil && strings.TrimSpace(reply) == "" {
		err = fmt.Errorf("empty reply")
	}
	if err != nil {
		g.fallback(op, err)
		return fallbackAssistantReply
	}
	g.ok(op)
	return reply
}

func formatHistory(history []store.ChatMessage) string {
	lines := make([]string, len(history))
	for i, m := range history {
		lines[i] = m.SenderName + ": " + m.Text
	}
	return strings.Join(lines, "\n")
}

func joinOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ", ")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func matchesPrompt(seeker store.UserProfile, candidates []store.UserProfile) string {
	var b strings.Builder
	b.WriteString("You are a sophisticated matchmaking AI for an open-source mentorship program called DCODE.\n")
	b.WriteString("Your task is to find the best mentor for a student mentee based on their skills, interests, and GitHub profile activity.\n\n")
	fmt.Fprintf(&b, "Mentee Profile:\n- Name: %s\n- Skills: %s\n- Interests: %s\n- Bio: %s\n- GitHub: %s\n\n",
		seeker.Name, joinOr(seeker.Skills, "None specified"), joinOr(seeker.Interests, "None specified"),
		seeker.Bio, orDefault(seeker.GithubURL, "Not provided"))
	b.WriteString("Available Mentors:\n")
	for _, m := range candidates {
		fmt.Fprintf(&b, "- Mentor ID: %s\n  - Name: %s\n  - Skills: %s\n  - Interests: %s\n  - Bio: %s\n  - GitHub: %s\n",
			m.ID, m.Name, strings.Join(m.Skills, ", "), strings.Join(m.Interests, ", "), m.Bio, orDefault(m.GithubURL, "Not provided"))
	}
	fmt.Fprintf(&b, "\nBased on the information provided, suggest the top 2-3 best mentor matches for %s.\n", seeker.Name)
	b.WriteString("For each suggestion, provide the mentor's ID and a concise, one-sentence reason for the match, " +
		"focusing on skill overlap, shared interests, and relevant open-source experience visible on GitHub.")
	return b.String()
}

func icebreakersPrompt(mentee, mentor store.UserProfile) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant for DCODE, a mentorship platform.\n")
	b.WriteString("A mentee is starting a conversation with a potential mentor for the first time.\n")
	b.WriteString("Generate 3 distinct, friendly, and engaging conversation starters (icebreakers) for the mentee to send.\n")
	fmt.Fprintf(&b, "The icebreakers should be personalized based on the profiles provided. Refer to the mentor by name, e.g., \"Hi %s...\".\n", mentor.Name)
	b.WriteString("Keep them concise, under 25 words each.\n\n")
	fmt.Fprintf(&b, "Mentee Profile:\n- Name: %s\n- Skills: %s\n- Interests: %s\n\n",
		mentee.Name, joinOr(mentee.Skills, "None specified"), joinOr(mentee.Interests, "None specified"))
	fmt.Fprintf(&b, "Mentor Profile:\n- Name: %s\n- Skills: %s\n- Interests: %s\n\n",
		mentor.Name, strings.Join(mentor.Skills, ", "), strings.Join(mentor.Interests, ", "))
	b.WriteString("Generate 3 icebreakers.")
	return b.String()
}

// stripCodeFence removes a Markdown code fence some models wrap JSON in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
