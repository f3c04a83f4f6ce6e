package tutor

import (
	"encoding/json"
	"strings"
)

// Mode is the kind of teaching the model chose.
type Mode string

const (
	ModeTranslate  Mode = "translate"
	ModeCorrection Mode = "correction"
	ModeUnknown    Mode = "unknown"
)

// TeachingResponse is the structured reply the tutor prompt asks for. Any
// field may be empty.
type TeachingResponse struct {
	Mode             Mode     `json:"mode"`
	English          string   `json:"english,omitempty"`
	BetterSentence   string   `json:"better_sentence,omitempty"`
	YourSentence     string   `json:"your_sentence,omitempty"`
	HindiExplanation string   `json:"hindi_explanation,omitempty"`
	Tip              string   `json:"tip,omitempty"`
	Practice         string   `json:"practice,omitempty"`
	Mistakes         []string `json:"mistakes,omitempty"`
}

// UnmarshalJSON accepts "mistakes" as a list or a single string and maps
// unexpected modes to ModeUnknown.
func (t *TeachingResponse) UnmarshalJSON(data []byte) error {
	type plain TeachingResponse
	var raw struct {
		plain
		Mistakes json.RawMessage `json:"mistakes,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = TeachingResponse(raw.plain)
	t.Mistakes = nil
	if len(raw.Mistakes) > 0 {
		var list []string
		if err := json.Unmarshal(raw.Mistakes, &list); err == nil {
			t.Mistakes = list
		} else {
			var one string
			if err := json.Unmarshal(raw.Mistakes, &one); err == nil && one != "" {
				t.Mistakes = []string{one}
			}
		}
	}
	switch t.Mode {
	case ModeTranslate, ModeCorrection:
	default:
		t.Mode = ModeUnknown
	}
	return nil
}

// SpokenEnglish is the English sentence the learner should hear.
func (t TeachingResponse) SpokenEnglish() string {
	for _, s := range []string{t.English, t.BetterSentence, t.YourSentence} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Teaching is the outcome of parsing a reply: Parsed or Unparsed.
type Teaching interface {
	isTeaching()
}

// Parsed carries a successfully decoded reply.
type Parsed struct {
	Response TeachingResponse
}

// Unparsed marks free text that held no usable JSON object.
type Unparsed struct{}

func (Parsed) isTeaching()   {}
func (Unparsed) isTeaching() {}

// ParseTeachingResponse decodes the first JSON object in text.
func ParseTeachingResponse(text string) Teaching {
	span, ok := extractJSONObject(text)
	if !ok {
		return Unparsed{}
	}
	var resp TeachingResponse
	if err := json.Unmarshal([]byte(span), &resp); err != nil {
		return Unparsed{}
	}
	return Parsed{Response: resp}
}

// AsResponse returns the decoded reply when t is Parsed.
func AsResponse(t Teaching) (TeachingResponse, bool) {
	p, ok := t.(Parsed)
	if !ok {
		return TeachingResponse{}, false
	}
	return p.Response, true
}
