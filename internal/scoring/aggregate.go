package scoring

import (
	"math"

	"github.com/pavelanni/bandscore/internal/model"
)

// ScoreAllAnswers scores every submission against the test. A submission
// whose question is missing, or has no stored answer, gets a zero-mark
// placeholder; the batch always completes.
func ScoreAllAnswers(answers []model.UserAnswerSubmission, test *model.Test) []model.ScoredAnswer {
	results := make([]model.ScoredAnswer, 0, len(answers))
	for _, a := range answers {
		q, ok := test.FindQuestion(a.QuestionID)
		if !ok || q.Answer == nil {
			results = append(results, model.ScoredAnswer{
				QuestionID: a.QuestionID,
				Result: model.ComparisonResult{
					IsCorrect:    false,
					MarksAwarded: 0,
					Explanation:  "Question data not found",
				},
				Question: q,
			})
			continue
		}

		results = append(results, model.ScoredAnswer{
			QuestionID: a.QuestionID,
			Result:     ScoreAnswer(*q, a.Answer),
			Question:   q,
		})
	}
	return results
}

// ScoreAnswer dispatches one answer to the comparator for its question kind.
// The question must carry an answer key.
func ScoreAnswer(q model.Question, answer model.AnswerValue) model.ComparisonResult {
	key := *q.Answer
	maxMarks := q.MaxMarks()

	switch DetermineQuestionType(q) {
	case model.KindMultipleChoice:
		return CompareMultipleChoice(answer, key.CorrectAnswer, maxMarks)
	case model.KindWriting:
		return ScoreWritingAnswer(answer.Flatten(), maxMarks)
	default:
		return CompareAnswers(answer, key, maxMarks)
	}
}

// GenerateStatistics summarizes scored answers. Questions that could not be
// found count one mark towards the total.
func GenerateStatistics(results []model.ScoredAnswer) model.Statistics {
	var stats model.Statistics
	stats.TotalQuestions = len(results)
	for _, r := range results {
		if r.Result.IsCorrect {
			stats.CorrectAnswers++
		}
		stats.TotalMarks += maxMarksOf(r)
		stats.MarksAwarded += r.Result.MarksAwarded
	}
	stats.MarksAwarded = round2(stats.MarksAwarded)
	stats.Percentage = percent(stats.MarksAwarded, stats.TotalMarks)
	stats.Accuracy = percent(float64(stats.CorrectAnswers), float64(stats.TotalQuestions))
	return stats
}

// SectionScores summarizes results per section in traversal order. A
// question counts as correct for its section when it earned any marks.
func SectionScores(test *model.Test, results []model.ScoredAnswer) []model.SectionScore {
	if test == nil {
		return nil
	}
	byQuestion := make(map[string]model.ComparisonResult, len(results))
	for _, r := range results {
		byQuestion[r.QuestionID] = r.Result
	}

	var scores []model.SectionScore
	sectionNumber := 0
	for _, p := range test.Parts {
		for _, s := range p.Sections {
			sectionNumber++
			sc := model.SectionScore{
				SectionID:      s.ID,
				SectionNumber:  sectionNumber,
				TotalQuestions: len(s.Questions),
			}
			if s.SectionNumber > 0 {
				sc.SectionNumber = s.SectionNumber
			}
			for _, q := range s.Questions {
				sc.MaxMarks += q.MaxMarks()
				res, ok := byQuestion[q.ID]
				if !ok {
					continue
				}
				if res.MarksAwarded > 0 {
					sc.CorrectAnswers++
				}
				sc.MarksAwarded += res.MarksAwarded
			}
			sc.MarksAwarded = round2(sc.MarksAwarded)
			scores = append(scores, sc)
		}
	}
	return scores
}

func maxMarksOf(r model.ScoredAnswer) float64 {
	if r.Question == nil {
		return 1
	}
	return r.Question.MaxMarks()
}

func percent(part, total float64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(part / total * 100))
}
