package model

import "github.com/google/uuid"

// QuestionType discriminates how a question is answered and graded.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeBoolean        QuestionType = "boolean"
	QuestionTypeFreeText       QuestionType = "free_text"
)

// BooleanOptions is the implicit option set for boolean questions.
var BooleanOptions = []string{"True", "False"}

// MediaKind enumerates supported question media attachments.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindAudio MediaKind = "audio"
)

// Media is an optional attachment rendered alongside a question.
type Media struct {
	URL  string    `json:"url"`
	Kind MediaKind `json:"kind"`
}

// Question is the full server-side question, including the correct
// answer. It must never be sent to a student before submission.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	ExamID        uuid.UUID    `json:"exam_id"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"type"`
	Options       []string     `json:"options,omitempty"`
	Points        float64      `json:"points"`
	Media         *Media       `json:"media,omitempty"`
	CorrectAnswer string       `json:"correct_answer"`
	OrderNum      int          `json:"order_num"`
}

// QuestionForStudent is the answer-stripped question shipped to clients.
type QuestionForStudent struct {
	ID       uuid.UUID    `json:"id"`
	Text     string       `json:"text"`
	Type     QuestionType `json:"type"`
	Options  []string     `json:"options,omitempty"`
	Points   float64      `json:"points"`
	Media    *Media       `json:"media,omitempty"`
	OrderNum int          `json:"order_num"`
}

// ForStudent strips the grading fields from a question.
func (q Question) ForStudent() QuestionForStudent {
	opts := q.Options
	if q.Type == QuestionTypeBoolean && len(opts) == 0 {
		opts = BooleanOptions
	}
	return QuestionForStudent{
		ID:       q.ID,
		Text:     q.Text,
		Type:     q.Type,
		Options:  opts,
		Points:   q.Points,
		Media:    q.Media,
		OrderNum: q.OrderNum,
	}
}
