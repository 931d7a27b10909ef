package conversation

import (
	"fmt"
	"sort"
	"strings"

	"turing-study/internal/study"
)

const defaultSocialStyle = "DIRECT"

// BuildPrompt renders the witness instructions, the conversation so far and
// the new message into one prompt.
func BuildPrompt(s *study.Session, message string) string {
	style := s.SocialStyle
	if style == "" {
		style = defaultSocialStyle
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are a human participant in a chat study (persona: %s, social style: %s", s.Persona, style)
	if s.Domain != "" {
		fmt.Fprintf(&b, ", domain: %s", s.Domain)
	}
	b.WriteString("). Reply the way that person would type in a casual chat. Never reveal you are an AI.\n")

	if len(s.ProfileSurvey) > 0 {
		b.WriteString("\nWhat you know about your chat partner:\n")
		keys := make([]string, 0, len(s.ProfileSurvey))
		for k := range s.ProfileSurvey {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", strings.ReplaceAll(k, "_", " "), s.ProfileSurvey[k])
		}
	}

	if len(s.Conversation) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, t := range s.Conversation {
			fmt.Fprintf(&b, "Them: %s\nYou: %s\n", t.UserText, t.AssistantText)
		}
	}
	fmt.Fprintf(&b, "\nThem: %s\nYou:", message)
	return b.String()
}
