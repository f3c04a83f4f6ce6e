package tutor

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed quiz_bank.yaml
var defaultQuizBankYAML []byte

// QuizQuestion is a single multiple-choice question.
type QuizQuestion struct {
	Topic       string   `json:"topic,omitempty" yaml:"topic"`
	Question    string   `json:"question" yaml:"question"`
	Options     []string `json:"options" yaml:"options"`
	Answer      string   `json:"answer" yaml:"answer"`
	Explanation string   `json:"explanation,omitempty" yaml:"explanation"`
}

// QuizResult reports whether the question came from the offline bank.
type QuizResult struct {
	IsFallback bool         `json:"is_fallback"`
	Question   QuizQuestion `json:"question"`
}

// ParseQuizResponse decodes the first question of a model reply. The reply
// must carry a question, at least two options and an answer.
func ParseQuizResponse(text string) (QuizQuestion, bool) {
	span, ok := extractJSONObject(text)
	if !ok {
		return QuizQuestion{}, false
	}
	var data struct {
		Questions []QuizQuestion `json:"questions"`
	}
	if err := json.Unmarshal([]byte(span), &data); err != nil || len(data.Questions) == 0 {
		return QuizQuestion{}, false
	}
	q := data.Questions[0]
	if q.Question == "" || q.Answer == "" || len(q.Options) < 2 {
		return QuizQuestion{}, false
	}
	switch q.Answer {
	case "A", "B", "C", "D":
	default:
		// "b) goes" or "b" still name a letter.
		q.Answer = strings.ToUpper(string([]rune(q.Answer)[:1]))
	}
	return q, true
}

// QuizBank holds the offline questions.
type QuizBank struct {
	questions []QuizQuestion
	intn      func(n int) int
}

// NewQuizBank parses a YAML document with a top-level questions list.
func NewQuizBank(data []byte) (*QuizBank, error) {
	var doc struct {
		Questions []QuizQuestion `yaml:"questions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse quiz bank: %w", err)
	}
	if len(doc.Questions) == 0 {
		return nil, fmt.Errorf("parse quiz bank: no questions")
	}
	return &QuizBank{questions: doc.Questions, intn: rand.IntN}, nil
}

// DefaultQuizBank returns the embedded question bank.
func DefaultQuizBank() *QuizBank {
	b, err := NewQuizBank(defaultQuizBankYAML)
	if err != nil {
		panic(err)
	}
	return b
}

// Pick returns a random question for topic. "random", an empty topic or a
// topic with no questions picks from the whole bank.
func (b *QuizBank) Pick(topic string) QuizQuestion {
	pool := b.questions
	if topic != "" && topic != "random" {
		var matched []QuizQuestion
		for _, q := range b.questions {
			if q.Topic == topic {
				matched = append(matched, q)
			}
		}
		if len(matched) > 0 {
			pool = matched
		}
	}
	return pool[b.intn(len(pool))]
}

// Topics lists the distinct topics in bank order.
func (b *QuizBank) Topics() []string {
	seen := make(map[string]bool)
	var out []string
	for _, q := range b.questions {
		if q.Topic != "" && !seen[q.Topic] {
			seen[q.Topic] = true
			out = append(out, q.Topic)
		}
	}
	return out
}
