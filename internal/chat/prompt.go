package chat

import (
	"strings"

	"github.com/MegaGrindStone/weather-chat/internal/models"
)

const promptPreamble = `You are an AI assistant answering questions **strictly based on the provided API data**.
If the answer is not found in the API context, reply with "I don't have that information."
You need to answer questions in normal human language, not in code. Don't say "Here is the response from the API" or anything like that.`

// BuildPrompt lays out the full generate prompt: the instructions, the API context, the transcript of the
// conversation so far and the new input, ending with the cue for the model to answer.
//
// The prompt grows with the conversation; nothing is truncated.
func BuildPrompt(apiContext string, history []models.Message, input string) string {
	var sb strings.Builder

	sb.WriteString(promptPreamble)
	sb.WriteString("\n\n### API Context:\n")
	sb.WriteString(apiContext)
	sb.WriteString("\n\n### Conversation History:\n")
	for i, msg := range history {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(msg.Role.Label())
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
	}
	sb.WriteString("\n\nUser: ")
	sb.WriteString(input)
	sb.WriteString("\nAI:")

	return sb.String()
}
