package scoring

import (
	"strings"

	"github.com/pavelanni/bandscore/internal/model"
)

// kindMarkers are checked in order against the serialized question content.
// The match is case-sensitive.
var kindMarkers = []struct {
	kind    model.QuestionKind
	markers []string
}{
	{model.KindMultipleChoice, []string{"multiple", "choice"}},
	{model.KindWriting, []string{"essay", "writing"}},
	{model.KindFillInBlank, []string{"fill", "blank"}},
}

// DetermineQuestionType classifies a question by substring markers in its
// content. Questions without content are plain text questions.
func DetermineQuestionType(q model.Question) model.QuestionKind {
	content := q.Content.Serialized()
	if content == "" {
		return model.KindText
	}
	for _, km := range kindMarkers {
		for _, m := range km.markers {
			if strings.Contains(content, m) {
				return km.kind
			}
		}
	}
	return model.KindText
}
