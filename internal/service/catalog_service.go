package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classora/assessment-backend/internal/config"
	"github.com/classora/assessment-backend/internal/model"
	"github.com/classora/assessment-backend/internal/repository"
	"github.com/classora/assessment-backend/internal/scoring"
)

// Domain errors for the catalog read path.
var (
	// ErrExamNotFound covers both an unknown exam ID and an exam that is
	// not assigned to the requesting student; the distinction must not
	// leak to clients.
	ErrExamNotFound = errors.New("exam not found or not assigned to student")
	// ErrExamNotAvailable marks an exam that exists but is not published.
	ErrExamNotAvailable = errors.New("exam is not available")
)

// CatalogService is the read-only access path to exam definitions and a
// student's assignment list. It never mutates assignment state. Published
// exams are cached in Redis as a student-safe paper plus a separate
// grading-key hash used for in-RAM scoring.
type CatalogService struct {
	examRepo       *repository.ExamRepository
	questionRepo   *repository.QuestionRepository
	assignmentRepo *repository.AssignmentRepository
	rdb            *redis.Client
	log            zerolog.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	assignmentRepo *repository.AssignmentRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *CatalogService {
	return &CatalogService{
		examRepo:       examRepo,
		questionRepo:   questionRepo,
		assignmentRepo: assignmentRepo,
		rdb:            rdb,
		log:            log.With().Str("component", "catalog_service").Logger(),
	}
}

// FetchExam returns the student-safe exam snapshot for an exam assigned
// to the student. Correct answers are never included.
func (s *CatalogService) FetchExam(ctx context.Context, examID uuid.UUID, studentID int64) (*model.ExamPaper, error) {
	// Scope by assignment first: an exam that exists but is not assigned
	// to this student is indistinguishable from a missing one.
	if _, err := s.assignmentRepo.GetByExamAndStudent(ctx, examID, studentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("check assignment: %w", err)
	}

	return s.getPaper(ctx, examID)
}

// ListAssignments returns the student's exam assignments with exam
// summaries, used to partition upcoming vs past views.
func (s *CatalogService) ListAssignments(ctx context.Context, studentID int64) ([]model.AssignmentOverview, error) {
	list, err := s.assignmentRepo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return list, nil
}

// getPaper retrieves the cached paper, rebuilding the cache from
// PostgreSQL on a miss.
func (s *CatalogService) getPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPaperKey(examID.String())).Bytes()
	if err == nil {
		var paper model.ExamPaper
		if err := json.Unmarshal(data, &paper); err != nil {
			return nil, fmt.Errorf("unmarshal paper: %w", err)
		}
		return &paper, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get paper: %w", err)
	}

	// Cache miss: fall back to PostgreSQL and self-heal the cache.
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotAvailable
	}
	if err := s.WarmExamCache(ctx, exam); err != nil {
		return nil, err
	}
	return s.buildPaper(ctx, exam)
}

// GetAnswerKey retrieves the grading key from Redis for in-RAM scoring,
// falling back to PostgreSQL on a miss.
func (s *CatalogService) GetAnswerKey(ctx context.Context, examID uuid.UUID) ([]scoring.KeyItem, error) {
	entries, err := s.rdb.HGetAll(ctx, config.CacheKey.ExamAnswerKeyKey(examID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if len(entries) > 0 {
		key := make([]scoring.KeyItem, 0, len(entries))
		for _, raw := range entries {
			var item scoring.KeyItem
			if err := json.Unmarshal([]byte(raw), &item); err != nil {
				return nil, fmt.Errorf("unmarshal key item: %w", err)
			}
			key = append(key, item)
		}
		return key, nil
	}

	questions, err := s.questionRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrExamNotAvailable
	}
	return scoring.KeyFromQuestions(questions), nil
}

// WarmExamCache loads an exam's paper and grading key from PostgreSQL
// into Redis. Used at startup prewarm and on cache misses.
func (s *CatalogService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrExamNotAvailable
	}

	studentQuestions := make([]model.QuestionForStudent, len(questions))
	for i, q := range questions {
		studentQuestions[i] = q.ForStudent()
	}

	paper := model.ExamPaper{
		ExamID:          exam.ID,
		Title:           exam.Title,
		Description:     exam.Description,
		DurationMinutes: exam.DurationMinutes,
		Questions:       studentQuestions,
	}
	paperJSON, err := json.Marshal(paper)
	if err != nil {
		return fmt.Errorf("marshal paper: %w", err)
	}

	keyEntries := make(map[string]interface{}, len(questions))
	for _, item := range scoring.KeyFromQuestions(questions) {
		raw, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal key item: %w", err)
		}
		keyEntries[item.QuestionID] = raw
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ExamPaperKey(exam.ID.String()), paperJSON, 0)
	pipe.Del(ctx, config.CacheKey.ExamAnswerKeyKey(exam.ID.String()))
	pipe.HSet(ctx, config.CacheKey.ExamAnswerKeyKey(exam.ID.String()), keyEntries)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all published exams into Redis on startup so no
// lazy load races a thundering herd of students joining at exam time.
func (s *CatalogService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}
	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

func (s *CatalogService) buildPaper(ctx context.Context, exam *model.Exam) (*model.ExamPaper, error) {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	studentQuestions := make([]model.QuestionForStudent, len(questions))
	for i, q := range questions {
		studentQuestions[i] = q.ForStudent()
	}
	return &model.ExamPaper{
		ExamID:          exam.ID,
		Title:           exam.Title,
		Description:     exam.Description,
		DurationMinutes: exam.DurationMinutes,
		Questions:       studentQuestions,
	}, nil
}
