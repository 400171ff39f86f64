// Package writing extracts essay tasks from a writing test, classifies them
// and drives their sequential evaluation by an external evaluator.
package writing

import (
	"strings"

	"github.com/pavelanni/bandscore/internal/model"
)

var (
	task1TypeKeywords = []string{"chart", "graph", "table", "diagram", "map", "process", "describe"}
	task2TypeKeywords = []string{"discuss", "agree", "opinion", "extent", "advantages", "essay"}

	evaluableTask2Phrases = []string{
		"discuss both views",
		"to what extent",
		"agree or disagree",
		"advantages and disadvantages",
		"causes and solutions",
		"problems and solutions",
		"opinion",
		"view",
		"argument",
		"essay",
		"give reasons",
		"do you think",
	}
	visualTask1Phrases = []string{
		"chart", "graph", "table", "diagram", "map", "process",
		"bar chart", "line graph", "pie chart", "flow chart",
	}
)

// ExtractQuestionText returns the prompt text of a question.
func ExtractQuestionText(q model.Question) string {
	return q.Content.Text()
}

// WordCount counts whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// DetermineTaskType decides between Task 1 and Task 2 from prompt keywords.
// When both or neither keyword set matches, the section decides: section 1
// is Task 1, everything else Task 2.
func DetermineTaskType(q model.Question, sectionNumber int) model.TaskType {
	text := strings.ToLower(ExtractQuestionText(q))
	hasTask1 := containsAny(text, task1TypeKeywords)
	hasTask2 := containsAny(text, task2TypeKeywords)

	switch {
	case hasTask2 && !hasTask1:
		return model.Task2
	case hasTask1 && !hasTask2:
		return model.Task1
	case sectionNumber == 1:
		return model.Task1
	default:
		return model.Task2
	}
}

// IsEvaluatable reports whether a question can be band-scored by the
// automated evaluator: a section 2 opinion/argument prompt that does not
// describe visual data.
func IsEvaluatable(q model.Question, sectionNumber int) bool {
	if sectionNumber != 2 {
		return false
	}
	text := strings.ToLower(ExtractQuestionText(q))
	return containsAny(text, evaluableTask2Phrases) && !containsAny(text, visualTask1Phrases)
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
