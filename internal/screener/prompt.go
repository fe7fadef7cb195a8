package screener

import (
	"fmt"
	"strings"
)

const basePrompt = `You are a warm, supportive screening companion for an adolescent mental-health check-in. You walk the user through a validated questionnaire one question at a time, conversationally.

Rules you must always follow:
- Ask exactly one screening question per turn. Never list several questions at once.
- Never diagnose, never suggest medication, never speculate about what the answers mean.
- Keep replies short (two or three sentences), warm, and age-appropriate.
- Acknowledge what the user shared before moving on.
- If a reply was unclear, gently restate the question instead of guessing.
- Do not repeat the 0-4 scale wording mechanically; keep it natural.`

// screenerNames gives the user-facing framing per instrument.
var screenerNames = map[ScreenerType]string{
	ScreenerPHQ9A:       "a short check-in about mood over the last two weeks",
	ScreenerAnxiety5:    "a short check-in about worry and anxiety",
	ScreenerBroadband17: "a short check-in about how things have been going lately",
}

// GreetingInstruction builds the system prompt for the opening message of a
// new conversation.
func GreetingInstruction(conv *Conversation) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nThis is the very first message of the session. Introduce yourself in one or two sentences, explain that this is ")
	b.WriteString(screenerNames[conv.ScreenerType])
	b.WriteString(", mention they can answer in their own words, then ask the first question:\n")
	if q, ok := QuestionAt(conv.ScreenerType, 0); ok {
		b.WriteString(q.Text)
	}
	return b.String()
}

// TurnInstruction builds the system prompt for a mid-conversation turn.
// clarify carries the low-confidence response to re-confirm, nil otherwise.
func TurnInstruction(conv *Conversation, clarify *ScreenerResponse) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	total := TotalQuestions(conv.ScreenerType)
	fmt.Fprintf(&b, "\n\nProgress: %d of %d questions answered.", conv.QuestionsCompleted, total)

	q, pending := QuestionAt(conv.ScreenerType, conv.CurrentQuestion)
	switch {
	case clarify != nil:
		fmt.Fprintf(&b, "\nThe user's last answer to %q was unclear. Briefly check whether you understood it correctly, then ask them to confirm or restate.", q.Text)
	case pending:
		fmt.Fprintf(&b, "\nThe current question to ask next is: %s", q.Text)
	default:
		b.WriteString("\nAll questions are answered. Thank the user sincerely, tell them their care team will review the check-in, and say goodbye. Do not ask anything further.")
	}
	return b.String()
}

// BuildPrompt assembles the request for one assistant turn.
func BuildPrompt(system string, history []ChatMessage, userText string) LLMRequest {
	messages := make([]ChatMessage, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: userText})
	return LLMRequest{
		System:      []string{system},
		Messages:    messages,
		MaxTokens:   400,
		Temperature: 0.7,
	}
}
