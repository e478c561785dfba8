package scoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/classora/assessment-backend/internal/model"
)

func twoChoiceKey() []KeyItem {
	return []KeyItem{
		{QuestionID: "q1", Type: model.QuestionTypeMultipleChoice, Points: 1, Answer: "B"},
		{QuestionID: "q2", Type: model.QuestionTypeBoolean, Points: 1, Answer: "True"},
	}
}

func TestScoreHalfCorrect(t *testing.T) {
	b := NewEngine().Score(twoChoiceKey(), map[string]string{"q1": "B", "q2": "False"})

	assert.Equal(t, 2.0, b.TotalPoints)
	assert.Equal(t, 1.0, b.EarnedPoints)
	assert.Equal(t, 50.0, b.Percentage)
}

func TestScoreEmptyAnswers(t *testing.T) {
	b := NewEngine().Score(twoChoiceKey(), map[string]string{})

	assert.Equal(t, 0.0, b.EarnedPoints)
	assert.Equal(t, 0.0, b.Percentage)
}

func TestScoreEmptyKey(t *testing.T) {
	// totalPoints == 0 must not divide by zero.
	b := NewEngine().Score(nil, map[string]string{"q1": "A"})

	assert.Equal(t, 0.0, b.TotalPoints)
	assert.Equal(t, 0.0, b.Percentage)
}

func TestScoreCaseSensitiveMatch(t *testing.T) {
	key := []KeyItem{{QuestionID: "q1", Type: model.QuestionTypeMultipleChoice, Points: 2, Answer: "Paris"}}

	b := NewEngine().Score(key, map[string]string{"q1": "paris"})
	assert.Equal(t, 0.0, b.EarnedPoints)

	b = NewEngine().Score(key, map[string]string{"q1": "Paris"})
	assert.Equal(t, 2.0, b.EarnedPoints)
	assert.Equal(t, 100.0, b.Percentage)
}

func TestScoreFreeTextCountsTowardTotal(t *testing.T) {
	key := []KeyItem{
		{QuestionID: "q1", Type: model.QuestionTypeMultipleChoice, Points: 1, Answer: "A"},
		{QuestionID: "q2", Type: model.QuestionTypeFreeText, Points: 3},
	}

	b := NewEngine().Score(key, map[string]string{"q1": "A", "q2": "an essay"})

	assert.Equal(t, 4.0, b.TotalPoints)
	assert.Equal(t, 1.0, b.EarnedPoints)
	assert.Equal(t, 25.0, b.Percentage)
	assert.Equal(t, 1, b.PendingManual)
}

func TestScoreFreeTextExcludedByPolicy(t *testing.T) {
	key := []KeyItem{
		{QuestionID: "q1", Type: model.QuestionTypeMultipleChoice, Points: 1, Answer: "A"},
		{QuestionID: "q2", Type: model.QuestionTypeFreeText, Points: 3},
	}

	b := NewEngine(WithExcludeManual(true)).Score(key, map[string]string{"q1": "A"})

	assert.Equal(t, 1.0, b.TotalPoints)
	assert.Equal(t, 100.0, b.Percentage)
	assert.Equal(t, 1, b.PendingManual)
}

func TestScoreDefaultWeight(t *testing.T) {
	key := []KeyItem{{QuestionID: "q1", Type: model.QuestionTypeBoolean, Answer: "False"}}

	b := NewEngine().Score(key, map[string]string{"q1": "False"})

	assert.Equal(t, 1.0, b.TotalPoints)
	assert.Equal(t, 1.0, b.EarnedPoints)
}

func TestScorePercentageBounds(t *testing.T) {
	for n := 1; n <= 7; n++ {
		key := make([]KeyItem, n)
		answers := make(map[string]string, n)
		for i := range key {
			id := fmt.Sprintf("q%d", i)
			key[i] = KeyItem{QuestionID: id, Type: model.QuestionTypeMultipleChoice, Points: float64(i + 1), Answer: "X"}
			if i%2 == 0 {
				answers[id] = "X"
			}
		}

		b := NewEngine().Score(key, answers)
		assert.GreaterOrEqual(t, b.Percentage, 0.0)
		assert.LessOrEqual(t, b.Percentage, 100.0)
	}
}

func TestKeyFromQuestions(t *testing.T) {
	questions := []model.Question{
		{Text: "2+2?", Type: model.QuestionTypeMultipleChoice, Points: 2, CorrectAnswer: "4"},
		{Text: "Explain.", Type: model.QuestionTypeFreeText, Points: 5},
	}

	key := KeyFromQuestions(questions)

	assert.Len(t, key, 2)
	assert.Equal(t, "4", key[0].Answer)
	assert.Equal(t, 5.0, key[1].Points)
	assert.Equal(t, model.QuestionTypeFreeText, key[1].Type)
}
