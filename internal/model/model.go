package model

import (
	"context"
	"time"
)

// QuestionKind is the scoring strategy a question is routed to.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "multiple-choice"
	KindWriting        QuestionKind = "writing"
	KindFillInBlank    QuestionKind = "fill-in-blank"
	KindText           QuestionKind = "text"
)

// TaskType identifies an IELTS Writing sub-task.
type TaskType string

const (
	Task1 TaskType = "Task 1"
	Task2 TaskType = "Task 2"
)

// AttemptStatus represents the status of a learner's test attempt.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in progress"
	AttemptAbandoned  AttemptStatus = "abandoned"
	AttemptCompleted  AttemptStatus = "completed"
)

// Test is the full nested test structure: parts, sections, questions.
// Traversal order is significant for writing task numbering.
type Test struct {
	ID       string     `json:"testId"`
	Name     string     `json:"testName"`
	TypeName string     `json:"testTypeName"`
	Parts    []TestPart `json:"testParts"`
}

// TestPart is one part of a test.
type TestPart struct {
	ID         string    `json:"partId,omitempty"`
	PartNumber int       `json:"partNumber,omitempty"`
	Title      string    `json:"title,omitempty"`
	Sections   []Section `json:"sections"`
}

// Section groups questions within a part.
type Section struct {
	ID            string     `json:"sectionId,omitempty"`
	SectionNumber int        `json:"sectionNumber,omitempty"`
	Instructions  string     `json:"instructions,omitempty"`
	QuestionType  string     `json:"questionType,omitempty"`
	Questions     []Question `json:"questions"`
}

// Question is a single test question with its optional stored answer.
type Question struct {
	ID      string          `json:"questionId"`
	Number  int             `json:"questionNumber,omitempty"`
	Content QuestionContent `json:"content"`
	Answer  *AnswerKey      `json:"answer,omitempty"`
	Marks   float64         `json:"marks,omitempty"`
}

// MaxMarks returns the configured marks, defaulting to 1.
func (q Question) MaxMarks() float64 {
	if q.Marks > 0 {
		return q.Marks
	}
	return 1
}

// AnswerKey is the stored correct-answer data for a question.
type AnswerKey struct {
	QuestionID         string `json:"questionId,omitempty"`
	CorrectAnswer      string `json:"correctAnswer"`
	AlternativeAnswers string `json:"alternativeAnswers,omitempty"`
	Explanation        string `json:"explanation,omitempty"`
}

// FindQuestion locates a question by ID anywhere in the test.
func (t *Test) FindQuestion(id string) (*Question, bool) {
	if t == nil {
		return nil, false
	}
	for pi := range t.Parts {
		for si := range t.Parts[pi].Sections {
			qs := t.Parts[pi].Sections[si].Questions
			for qi := range qs {
				if qs[qi].ID == id {
					return &qs[qi], true
				}
			}
		}
	}
	return nil, false
}

// QuestionCount returns the number of questions across all parts.
func (t *Test) QuestionCount() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, p := range t.Parts {
		for _, s := range p.Sections {
			n += len(s.Questions)
		}
	}
	return n
}

// UserAnswerSubmission is one answered question.
type UserAnswerSubmission struct {
	QuestionID string      `json:"questionId"`
	Answer     AnswerValue `json:"answer"`
}

// ComparisonResult is the outcome of scoring one answer.
type ComparisonResult struct {
	IsCorrect               bool    `json:"isCorrect"`
	MarksAwarded            float64 `json:"marksAwarded"`
	Explanation             string  `json:"explanation,omitempty"`
	UserAnswerNormalized    string  `json:"userAnswerNormalized,omitempty"`
	CorrectAnswerNormalized string  `json:"correctAnswerNormalized,omitempty"`
}

// ScoredAnswer pairs a submission with its result and the question it was scored against.
type ScoredAnswer struct {
	QuestionID string           `json:"questionId"`
	Result     ComparisonResult `json:"result"`
	Question   *Question        `json:"questionData,omitempty"`
}

// Statistics summarizes a set of scored answers.
type Statistics struct {
	TotalQuestions int     `json:"totalQuestions"`
	CorrectAnswers int     `json:"correctAnswers"`
	TotalMarks     float64 `json:"totalMarks"`
	MarksAwarded   float64 `json:"marksAwarded"`
	Percentage     int     `json:"percentage"`
	Accuracy       int     `json:"accuracy"`
}

// SectionScore summarizes results for one section of a test.
type SectionScore struct {
	SectionID      string  `json:"sectionId"`
	SectionNumber  int     `json:"sectionNumber"`
	TotalQuestions int     `json:"totalQuestions"`
	CorrectAnswers int     `json:"correctAnswers"`
	MarksAwarded   float64 `json:"marksAwarded"`
	MaxMarks       float64 `json:"maxMarks"`
}

// Attempt is a learner's attempt at a test.
type Attempt struct {
	ID         string        `json:"userTestId"`
	UserID     string        `json:"userId"`
	TestID     string        `json:"testId"`
	Status     AttemptStatus `json:"status"`
	StartedAt  time.Time     `json:"startTime"`
	EndedAt    *time.Time    `json:"endTime,omitempty"`
	NumCorrect int           `json:"numCorrectAnswer"`
	Feedback   string        `json:"feedback,omitempty"`
}

// UserResponse is the stored raw answer for one question of an attempt.
type UserResponse struct {
	AttemptID    string  `json:"userTestId"`
	QuestionID   string  `json:"questionId"`
	UserAnswer   string  `json:"userAnswer"`
	MarksAwarded float64 `json:"marksAwarded"`
}

// EvaluationRequest is the payload sent to a writing evaluator.
type EvaluationRequest struct {
	Question string `json:"question"`
	Essay    string `json:"essay"`
}

// EvaluationResult is a band score with feedback text.
type EvaluationResult struct {
	Score          string `json:"score"`
	EvaluationText string `json:"evaluation_text"`
}

// WritingTask is one learner essay extracted from a writing test.
type WritingTask struct {
	QuestionID     string            `json:"questionId"`
	QuestionNumber int               `json:"questionNumber"`
	TaskType       TaskType          `json:"taskType"`
	QuestionText   string            `json:"questionText"`
	UserEssay      string            `json:"userEssay"`
	WordCount      int               `json:"wordCount"`
	IsEvaluatable  bool              `json:"isEvaluatable"`
	SectionNumber  int               `json:"sectionNumber"`
	Evaluation     *EvaluationResult `json:"evaluation,omitempty"`
}

// WritingResult is the aggregated outcome of a writing evaluation run.
type WritingResult struct {
	AttemptID        string        `json:"userTestId,omitempty"`
	TestID           string        `json:"testId,omitempty"`
	Tasks            []WritingTask `json:"writingTasks"`
	OverallBandScore float64       `json:"overallBandScore"`
	TotalWords       int           `json:"totalWords"`
	EvaluatedTasks   int           `json:"evaluatedTasks"`
}

// ServiceConfig holds runtime parameters set via CLI flags.
type ServiceConfig struct {
	EvalDelay     time.Duration // pause between sequential essay evaluations
	CORSOrigins   []string
	JWTSecret     string // empty disables bearer token checks
	PromptVariant string // grading prompt variant for the llm evaluator
}

// Identity is the authenticated learner taken from a bearer token.
type Identity struct {
	Subject string
	Role    string
}

type identityCtxKey struct{}

// ContextWithIdentity stores the caller identity in the request context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the caller identity from context, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityCtxKey{}).(*Identity)
	return id
}
