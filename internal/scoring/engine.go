package scoring

import (
	"math"

	"github.com/classora/assessment-backend/internal/model"
)

// KeyItem is the minimal per-question view the engine needs to grade:
// the correct answer, the weight and the type. It deliberately excludes
// prompt text so the key can be cached compactly in Redis.
type KeyItem struct {
	QuestionID string             `json:"question_id"`
	Type       model.QuestionType `json:"type"`
	Points     float64            `json:"points"`
	Answer     string             `json:"answer"`
}

// KeyFromQuestions builds a grading key from full question rows.
func KeyFromQuestions(questions []model.Question) []KeyItem {
	key := make([]KeyItem, len(questions))
	for i, q := range questions {
		key[i] = KeyItem{
			QuestionID: q.ID.String(),
			Type:       q.Type,
			Points:     q.Points,
			Answer:     q.CorrectAnswer,
		}
	}
	return key
}

// Breakdown is the result of automatic grading.
type Breakdown struct {
	TotalPoints   float64 `json:"total_points"`
	EarnedPoints  float64 `json:"earned_points"`
	Percentage    float64 `json:"percentage"`
	PendingManual int     `json:"pending_manual"`
}

// Option configures engine policy.
type Option func(*Engine)

// WithExcludeManual excludes free-text questions from the automatic
// percentage. The default counts them with zero credit, making the
// automatic score provisional until a grading authority reviews them.
func WithExcludeManual(exclude bool) Option {
	return func(e *Engine) { e.excludeManual = exclude }
}

// Engine computes per-question correctness and the aggregate percentage.
type Engine struct {
	excludeManual bool
}

// NewEngine creates an Engine with the given policy options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Score grades the captured answers against the key. Absent answers score
// zero for every question type; they are expected input, not an error.
func (e *Engine) Score(key []KeyItem, answers map[string]string) Breakdown {
	var b Breakdown

	for _, item := range key {
		points := item.Points
		if points <= 0 {
			points = 1 // default weight
		}

		value, answered := answers[item.QuestionID]

		switch item.Type {
		case model.QuestionTypeMultipleChoice, model.QuestionTypeBoolean:
			b.TotalPoints += points
			// Exact, case-sensitive match.
			if answered && value == item.Answer {
				b.EarnedPoints += points
			}
		case model.QuestionTypeFreeText:
			b.PendingManual++
			if !e.excludeManual {
				b.TotalPoints += points
			}
		}
	}

	if b.TotalPoints > 0 {
		b.Percentage = math.Round(b.EarnedPoints / b.TotalPoints * 100)
	}
	return b
}
