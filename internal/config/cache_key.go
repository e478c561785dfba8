package config

import "fmt"

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamPaperKey returns the cache key for the student-safe exam snapshot.
func (r *CacheKeyStruct) ExamPaperKey(examID string) string {
	return fmt.Sprintf("exam:%s:paper", examID)
}

// ExamAnswerKeyKey returns the cache key for an exam's grading key hash.
func (r *CacheKeyStruct) ExamAnswerKeyKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// StudentAnswersKey returns the cache key for a student's live answer buffer.
func (r *CacheKeyStruct) StudentAnswersKey(examID string, studentID int64) string {
	return fmt.Sprintf("student:%d:exam:%s:answers", studentID, examID)
}

// AttemptStartKey returns the cache key for an attempt's start timestamp.
func (r *CacheKeyStruct) AttemptStartKey(examID string, studentID int64) string {
	return fmt.Sprintf("student:%d:exam:%s:attempt_start", studentID, examID)
}

var CacheKey = NewCacheKeyStruct()
