package writing

import (
	"strings"

	"github.com/pavelanni/bandscore/internal/model"
)

// ExtractTasks walks the test in document order and builds one task per
// question that has a non-blank response. Section numbers count every
// section traversed, answered or not, starting at 1.
func ExtractTasks(test *model.Test, responses []model.UserResponse) []model.WritingTask {
	if test == nil {
		return nil
	}

	byQuestion := make(map[string]string, len(responses))
	for _, r := range responses {
		if _, seen := byQuestion[r.QuestionID]; !seen {
			byQuestion[r.QuestionID] = r.UserAnswer
		}
	}

	var tasks []model.WritingTask
	sectionNumber := 1
	for _, part := range test.Parts {
		for _, section := range part.Sections {
			for _, q := range section.Questions {
				essay, ok := byQuestion[q.ID]
				if !ok || strings.TrimSpace(essay) == "" {
					continue
				}
				number := q.Number
				if number == 0 {
					number = sectionNumber
				}
				tasks = append(tasks, model.WritingTask{
					QuestionID:     q.ID,
					QuestionNumber: number,
					TaskType:       DetermineTaskType(q, sectionNumber),
					QuestionText:   ExtractQuestionText(q),
					UserEssay:      essay,
					WordCount:      WordCount(essay),
					IsEvaluatable:  IsEvaluatable(q, sectionNumber),
					SectionNumber:  sectionNumber,
				})
			}
			sectionNumber++
		}
	}
	return tasks
}
