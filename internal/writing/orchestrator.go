package writing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/bandscore/internal/model"
)

// FallbackScore is the band attached to a task whose evaluation failed.
const FallbackScore = "5.0"

// defaultBand is the overall band when no task was evaluated.
const defaultBand = 5.0

// ErrNoTest is returned when a run is started without a test structure.
var ErrNoTest = errors.New("no test structure to evaluate")

// Evaluator scores a single essay. Implementations call a remote service.
type Evaluator interface {
	Evaluate(ctx context.Context, req model.EvaluationRequest) (model.EvaluationResult, error)
}

// State is a stage of an evaluation run.
type State string

const (
	StateExtracting State = "extracting"
	StateEvaluating State = "evaluating"
	StateAggregated State = "aggregated"
	StateFailed     State = "failed"
)

// EventType represents the type of progress event
type EventType string

const (
	EventExtracted    EventType = "extracted"
	EventTaskStart    EventType = "task_start"
	EventTaskComplete EventType = "task_complete"
	EventAggregated   EventType = "aggregated"
	EventFailed       EventType = "failed"
)

// ProgressEvent reports a step of an evaluation run. Current is 1-based
// and counts evaluable tasks only.
type ProgressEvent struct {
	Type        EventType `json:"type"`
	State       State     `json:"state"`
	Current     int       `json:"current"`
	Total       int       `json:"total"`
	Description string    `json:"currentTask,omitempty"`
	QuestionID  string    `json:"questionId,omitempty"`
	Score       string    `json:"score,omitempty"`
	Failed      bool      `json:"failed,omitempty"`
}

// ProgressListener receives progress updates
type ProgressListener func(event ProgressEvent)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDelay sets the pause between consecutive evaluations. Zero disables it.
func WithDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.delay = d
	}
}

// WithProgressListener registers a listener at construction time.
func WithProgressListener(l ProgressListener) Option {
	return func(o *Orchestrator) {
		o.listeners = append(o.listeners, l)
	}
}

// Orchestrator evaluates the essays of a writing test one at a time.
// It holds no per-run state, so one Orchestrator may serve many runs.
type Orchestrator struct {
	evaluator Evaluator
	delay     time.Duration

	progressMu sync.Mutex
	listeners  []ProgressListener
}

// New creates an Orchestrator around an evaluator.
func New(ev Evaluator, opts ...Option) *Orchestrator {
	o := &Orchestrator{evaluator: ev}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnProgress registers a progress listener
func (o *Orchestrator) OnProgress(listener ProgressListener) {
	o.progressMu.Lock()
	defer o.progressMu.Unlock()
	o.listeners = append(o.listeners, listener)
}

func (o *Orchestrator) notifyProgress(event ProgressEvent) {
	o.progressMu.Lock()
	listeners := make([]ProgressListener, len(o.listeners))
	copy(listeners, o.listeners)
	o.progressMu.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// Run extracts the writing tasks of a test, evaluates the evaluable ones in
// order and aggregates the band score. A failed evaluation gets a fallback
// result and the run continues. Cancelling ctx stops the run before the next
// task starts; the in-flight call is not interrupted by the orchestrator.
func (o *Orchestrator) Run(ctx context.Context, test *model.Test, responses []model.UserResponse) (*model.WritingResult, error) {
	if test == nil {
		o.notifyProgress(ProgressEvent{Type: EventFailed, State: StateFailed})
		return nil, ErrNoTest
	}

	tasks := ExtractTasks(test, responses)
	var evaluable []int
	for i := range tasks {
		if tasks[i].IsEvaluatable {
			evaluable = append(evaluable, i)
		}
	}
	slog.Info("extracted writing tasks", "test_id", test.ID, "tasks", len(tasks), "evaluable", len(evaluable))
	o.notifyProgress(ProgressEvent{Type: EventExtracted, State: StateExtracting, Total: len(evaluable)})

	for n, idx := range evaluable {
		if n > 0 && o.delay > 0 {
			if err := sleep(ctx, o.delay); err != nil {
				return nil, fmt.Errorf("writing evaluation cancelled: %w", err)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("writing evaluation cancelled: %w", err)
		}

		task := &tasks[idx]
		desc := describe(*task)
		o.notifyProgress(ProgressEvent{
			Type:        EventTaskStart,
			State:       StateEvaluating,
			Current:     n + 1,
			Total:       len(evaluable),
			Description: desc,
			QuestionID:  task.QuestionID,
		})

		result, failed := o.evaluate(ctx, *task)
		task.Evaluation = &result

		o.notifyProgress(ProgressEvent{
			Type:        EventTaskComplete,
			State:       StateEvaluating,
			Current:     n + 1,
			Total:       len(evaluable),
			Description: desc,
			QuestionID:  task.QuestionID,
			Score:       result.Score,
			Failed:      failed,
		})
	}

	res := Aggregate(tasks)
	res.TestID = test.ID
	o.notifyProgress(ProgressEvent{
		Type:    EventAggregated,
		State:   StateAggregated,
		Current: len(evaluable),
		Total:   len(evaluable),
		Score:   strconv.FormatFloat(res.OverallBandScore, 'f', 1, 64),
	})
	return res, nil
}

func (o *Orchestrator) evaluate(ctx context.Context, task model.WritingTask) (model.EvaluationResult, bool) {
	slog.Debug("evaluating writing task", "question_id", task.QuestionID, "task_type", task.TaskType, "words", task.WordCount)

	result, err := o.evaluator.Evaluate(ctx, model.EvaluationRequest{
		Question: task.QuestionText,
		Essay:    task.UserEssay,
	})
	if err == nil {
		if _, ok := parseBand(result.Score); !ok {
			err = fmt.Errorf("invalid band score %q", result.Score)
		}
	}
	if err != nil {
		slog.Warn("writing evaluation failed", "question_id", task.QuestionID, "error", err)
		return Fallback(err), true
	}

	slog.Info("writing task evaluated", "question_id", task.QuestionID, "task_type", task.TaskType, "score", result.Score)
	return result, false
}

// Fallback builds the placeholder result for a failed evaluation.
func Fallback(err error) model.EvaluationResult {
	return model.EvaluationResult{
		Score:          FallbackScore,
		EvaluationText: "Error: Could not evaluate this task. " + err.Error(),
	}
}

// Aggregate computes the overall band (mean of evaluated tasks, one decimal),
// total words across all tasks and the number of evaluated tasks.
func Aggregate(tasks []model.WritingTask) *model.WritingResult {
	res := &model.WritingResult{Tasks: tasks}
	var sum float64
	for _, t := range tasks {
		res.TotalWords += t.WordCount
		if t.Evaluation == nil {
			continue
		}
		score, ok := parseBand(t.Evaluation.Score)
		if !ok {
			continue
		}
		sum += score
		res.EvaluatedTasks++
	}

	band := defaultBand
	if res.EvaluatedTasks > 0 {
		band = sum / float64(res.EvaluatedTasks)
	}
	res.OverallBandScore = math.Round(band*10) / 10
	return res
}

// parseBand reads a band score. NaN, infinities and values outside 0-9
// are rejected.
func parseBand(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 9 {
		return 0, false
	}
	return v, true
}

func describe(t model.WritingTask) string {
	return fmt.Sprintf("%s - %d words", t.TaskType, t.WordCount)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
