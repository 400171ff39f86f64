package writing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pavelanni/bandscore/internal/model"
)

func question(id, text string) model.Question {
	return model.Question{ID: id, Content: model.NewTextContent(text)}
}

func TestDetermineTaskType(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		section int
		want    model.TaskType
	}{
		{"bar chart in section 1", "The bar chart shows sales by region.", 1, model.Task1},
		{"bar chart in section 2", "The bar chart shows sales by region.", 2, model.Task1},
		{"to what extent in section 2", "To what extent do you agree?", 2, model.Task2},
		{"to what extent in section 1", "To what extent do you agree?", 1, model.Task2},
		{"both keyword sets fall back to section 2", "Discuss the chart.", 2, model.Task2},
		{"both keyword sets fall back to section 1", "Discuss the chart.", 1, model.Task1},
		{"neither falls back to section 3", "Write about your hometown.", 3, model.Task2},
		{"neither falls back to section 1", "Write about your hometown.", 1, model.Task1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DetermineTaskType(question("q", tt.text), tt.section))
		})
	}
}

func TestIsEvaluatable(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		section int
		want    bool
	}{
		{"task 2 prompt in section 2", "Some say X. To what extent do you agree or disagree?", 2, true},
		{"task 2 prompt in section 1", "To what extent do you agree or disagree?", 1, false},
		{"visual prompt", "Give your opinion on the line graph.", 2, false},
		{"no task 2 phrase", "Write a letter to your landlord.", 2, false},
		{"json content", `{"question":"Discuss both views and give your own opinion."}`, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsEvaluatable(question("q", tt.text), tt.section))
		})
	}
}

func TestWordCount(t *testing.T) {
	require.Equal(t, 0, WordCount(""))
	require.Equal(t, 0, WordCount("   \n\t"))
	require.Equal(t, 3, WordCount("  one two\nthree "))
}

func writingTest() *model.Test {
	return &model.Test{
		ID:       "w1",
		TypeName: "Writing",
		Parts: []model.TestPart{{
			Sections: []model.Section{
				{Questions: []model.Question{
					question("t1", "The bar chart below shows household spending. Summarise the information."),
				}},
				{Questions: []model.Question{
					question("t2", "Some people think university should be free. To what extent do you agree or disagree?"),
					question("t3", "Discuss both views and give your own opinion on remote work."),
					question("t4", "Unanswered: give reasons for your answer."),
				}},
			},
		}},
	}
}

func responses() []model.UserResponse {
	return []model.UserResponse{
		{QuestionID: "t1", UserAnswer: strings.Repeat("spending ", 160)},
		{QuestionID: "t2", UserAnswer: strings.Repeat("education ", 260)},
		{QuestionID: "t3", UserAnswer: strings.Repeat("remote ", 250)},
		{QuestionID: "t4", UserAnswer: "   "},
		{QuestionID: "t2", UserAnswer: "duplicate response is ignored"},
	}
}

func TestExtractTasks(t *testing.T) {
	tasks := ExtractTasks(writingTest(), responses())
	require.Len(t, tasks, 3)

	require.Equal(t, "t1", tasks[0].QuestionID)
	require.Equal(t, model.Task1, tasks[0].TaskType)
	require.Equal(t, 1, tasks[0].SectionNumber)
	require.Equal(t, 1, tasks[0].QuestionNumber)
	require.False(t, tasks[0].IsEvaluatable)
	require.Equal(t, 160, tasks[0].WordCount)

	require.Equal(t, "t2", tasks[1].QuestionID)
	require.Equal(t, model.Task2, tasks[1].TaskType)
	require.Equal(t, 2, tasks[1].SectionNumber)
	require.True(t, tasks[1].IsEvaluatable)
	require.Equal(t, 260, tasks[1].WordCount)

	require.Equal(t, 2, tasks[2].SectionNumber)
	require.True(t, tasks[2].IsEvaluatable)

	for _, task := range tasks {
		require.Nil(t, task.Evaluation)
	}
	require.Nil(t, ExtractTasks(nil, responses()))
}

type fakeEvaluator struct {
	mu      sync.Mutex
	calls   []model.EvaluationRequest
	results map[string]model.EvaluationResult
	errs    map[string]error
	active  int
	maxSeen int
}

func (f *fakeEvaluator) Evaluate(_ context.Context, req model.EvaluationRequest) (model.EvaluationResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	for prefix, err := range f.errs {
		if strings.HasPrefix(req.Essay, prefix) {
			return model.EvaluationResult{}, err
		}
	}
	for prefix, res := range f.results {
		if strings.HasPrefix(req.Essay, prefix) {
			return res, nil
		}
	}
	return model.EvaluationResult{Score: "6.0", EvaluationText: "ok"}, nil
}

func TestOrchestratorRunWithFailure(t *testing.T) {
	ev := &fakeEvaluator{
		results: map[string]model.EvaluationResult{"education": {Score: "7.0", EvaluationText: "Well argued."}},
		errs:    map[string]error{"remote": errors.New("evaluate returned 503")},
	}

	var events []ProgressEvent
	o := New(ev, WithDelay(0))
	o.OnProgress(func(e ProgressEvent) { events = append(events, e) })

	res, err := o.Run(context.Background(), writingTest(), responses())
	require.NoError(t, err)
	require.Len(t, res.Tasks, 3)

	require.Nil(t, res.Tasks[0].Evaluation)
	require.Equal(t, "7.0", res.Tasks[1].Evaluation.Score)
	require.Equal(t, FallbackScore, res.Tasks[2].Evaluation.Score)
	require.Contains(t, res.Tasks[2].Evaluation.EvaluationText, "Error:")
	require.Contains(t, res.Tasks[2].Evaluation.EvaluationText, "evaluate returned 503")

	require.Equal(t, 6.0, res.OverallBandScore)
	require.Equal(t, 2, res.EvaluatedTasks)
	require.Equal(t, 160+260+250, res.TotalWords)
	require.Equal(t, "w1", res.TestID)

	require.Len(t, ev.calls, 2)
	require.Equal(t, 1, ev.maxSeen)
	require.True(t, strings.HasPrefix(ev.calls[0].Question, "Some people think"))

	var completes []ProgressEvent
	for _, e := range events {
		if e.Type == EventTaskComplete {
			completes = append(completes, e)
		}
	}
	require.Len(t, completes, 2)
	require.Equal(t, 1, completes[0].Current)
	require.Equal(t, 2, completes[0].Total)
	require.Equal(t, "Task 2 - 260 words", completes[0].Description)
	require.False(t, completes[0].Failed)
	require.Equal(t, 2, completes[1].Current)
	require.True(t, completes[1].Failed)

	require.Equal(t, EventExtracted, events[0].Type)
	require.Equal(t, EventAggregated, events[len(events)-1].Type)
	require.Equal(t, "6.0", events[len(events)-1].Score)
}

func TestOrchestratorMalformedScoreFallsBack(t *testing.T) {
	for _, score := range []string{"great", "NaN", "Inf", "-Inf", "1e400", "9.5", "-1"} {
		t.Run(score, func(t *testing.T) {
			ev := &fakeEvaluator{results: map[string]model.EvaluationResult{
				"education": {Score: score, EvaluationText: "?"},
				"remote":    {Score: "8.0"},
			}}

			res, err := New(ev).Run(context.Background(), writingTest(), responses())
			require.NoError(t, err)
			require.Equal(t, FallbackScore, res.Tasks[1].Evaluation.Score)
			require.Contains(t, res.Tasks[1].Evaluation.EvaluationText, "invalid band score")
			require.Equal(t, 6.5, res.OverallBandScore)

			_, err = json.Marshal(res)
			require.NoError(t, err)
		})
	}
}

func TestOrchestratorNoEvaluableTasks(t *testing.T) {
	ev := &fakeEvaluator{}
	res, err := New(ev).Run(context.Background(), writingTest(), []model.UserResponse{
		{QuestionID: "t1", UserAnswer: "a short description of the chart"},
	})
	require.NoError(t, err)
	require.Equal(t, 5.0, res.OverallBandScore)
	require.Zero(t, res.EvaluatedTasks)
	require.Equal(t, 6, res.TotalWords)
	require.Empty(t, ev.calls)
}

func TestOrchestratorNilTest(t *testing.T) {
	var failed bool
	o := New(&fakeEvaluator{}, WithProgressListener(func(e ProgressEvent) {
		failed = failed || e.State == StateFailed
	}))
	_, err := o.Run(context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrNoTest)
	require.True(t, failed)
}

func TestOrchestratorCancelBetweenTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ev := &fakeEvaluator{}
	o := New(ev, WithDelay(time.Hour))
	o.OnProgress(func(e ProgressEvent) {
		if e.Type == EventTaskComplete {
			cancel()
		}
	})

	_, err := o.Run(ctx, writingTest(), responses())
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, ev.calls, 1)
}

func TestAggregate(t *testing.T) {
	require.Equal(t, 5.0, Aggregate(nil).OverallBandScore)

	tasks := []model.WritingTask{
		{WordCount: 10, Evaluation: &model.EvaluationResult{Score: "6.5"}},
		{WordCount: 20, Evaluation: &model.EvaluationResult{Score: "7.0"}},
		{WordCount: 30, Evaluation: &model.EvaluationResult{Score: "5.5"}},
		{WordCount: 5},
	}
	res := Aggregate(tasks)
	require.Equal(t, 6.3, res.OverallBandScore)
	require.Equal(t, 3, res.EvaluatedTasks)
	require.Equal(t, 65, res.TotalWords)

	tasks = append(tasks, model.WritingTask{Evaluation: &model.EvaluationResult{Score: "NaN"}})
	res = Aggregate(tasks)
	require.Equal(t, 6.3, res.OverallBandScore)
	require.Equal(t, 3, res.EvaluatedTasks)
}

func TestTips(t *testing.T) {
	tests := []struct {
		name    string
		words   int
		isTask2 bool
		wantIDs []string
	}{
		{"task 2 too short", 120, true, []string{TipTooShort, TipTask2Structure}},
		{"task 2 expand", 300, true, []string{TipExpand, TipTask2Structure}},
		{"task 2 good", 350, true, []string{TipGoodCount, TipTask2Structure}},
		{"task 2 too long", 450, true, []string{TipTooLong, TipTask2Structure}},
		{"task 1 too short", 140, false, []string{TipTooShort}},
		{"task 1 good", 220, false, []string{TipGoodCount}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, tip := range Tips(tt.words, tt.isTask2) {
				ids = append(ids, tip.ID)
			}
			require.Equal(t, tt.wantIDs, ids)
		})
	}
	require.Equal(t, map[string]any{"Min": 250, "Count": 120}, Tips(120, true)[0].Data)
}

func TestTierFor(t *testing.T) {
	tests := map[string]BandTier{
		"8.5": BandExcellent,
		"7.0": BandGood,
		"6.5": BandCompetent,
		"5.0": BandModest,
		"4.5": BandLimited,
		"n/a": BandLimited,
	}
	for score, want := range tests {
		require.Equal(t, want, TierFor(score), score)
	}
}
