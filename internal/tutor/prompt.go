package tutor

import (
	"strings"

	"github.com/ent0n29/vaani/internal/conversation"
)

// SystemPrompt is the tutor persona used for every conversational turn.
const SystemPrompt = `You are Vaani AI, a bilingual English speaking tutor for Hindi users.

If the user writes in Hindi or Hinglish:
- Convert it into natural English
- Show the corrected English sentence
- Explain in simple Hindi
- Give one short practice sentence

If the user writes in English:
- Correct grammar and fluency
- Explain mistakes in Hindi
- Encourage repetition

Keep responses short and spoken.`

const quizSystemPrompt = `You write English quiz questions for Hindi speaking learners.
Reply with JSON only, in this shape:
{"questions":[{"topic":"<topic>","question":"<question>","options":["A) ...","B) ...","C) ...","D) ..."],"answer":"<A|B|C|D>","explanation":"<one line, may use simple Hindi>"}]}`

const feedbackSystemPrompt = `You are a friendly English speaking coach for Hindi speakers.
Answer with exactly these lines and nothing else:
FLUENCY: <1-10>
CORRECTED: <corrected sentence>
SUGGESTION: <one short suggestion>
MISTAKE: <main mistake, or none>
HINDI_TIP: <one tip in simple Hindi>`

// historyWindow is the number of prior messages rendered into a prompt.
const historyWindow = 6

// BuildPrompt renders the recent history and the new utterance as a
// User/Assistant transcript ending in an open assistant turn. Assistant
// messages that decode as teaching replies are reduced to their English
// sentence.
func BuildPrompt(utterance string, history []conversation.Message) string {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	var b strings.Builder
	for _, msg := range history {
		switch msg.Role {
		case conversation.RoleUser:
			b.WriteString("User: ")
			b.WriteString(msg.Content)
			b.WriteByte('\n')
		case conversation.RoleAssistant:
			if msg.Content == "" {
				continue
			}
			b.WriteString("Assistant: ")
			b.WriteString(assistantDisplay(msg.Content))
			b.WriteByte('\n')
		}
	}
	b.WriteString("User: ")
	b.WriteString(utterance)
	b.WriteString("\nAssistant:")
	return b.String()
}

func assistantDisplay(content string) string {
	resp, ok := AsResponse(ParseTeachingResponse(content))
	if !ok {
		return content
	}
	if resp.English != "" {
		return resp.English
	}
	if resp.BetterSentence != "" {
		return resp.BetterSentence
	}
	return content
}

func quizPrompt(topic string) string {
	return "Generate a quiz question. Topic: " + topic + "\nOutput valid JSON:\n"
}

func feedbackPrompt(sentence string) string {
	return `Analyze this sentence spoken by a Hindi speaker: "` + sentence + `"` + "\nFeedback:"
}
