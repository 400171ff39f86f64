package scoring

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/bandscore/internal/model"
)

const (
	// partialThreshold is the minimum word similarity that earns partial credit.
	partialThreshold = 0.5

	// minWritingChars is the trimmed length a writing answer must exceed to be scored.
	minWritingChars = 50
)

// CompareAnswers scores a short-answer response against the stored answer,
// trying the correct answer, then each comma-separated alternative, then
// word-overlap partial credit.
func CompareAnswers(userAnswer model.AnswerValue, key model.AnswerKey, maxMarks float64) model.ComparisonResult {
	userNorm := Normalize(userAnswer.Flatten())
	correctNorm := Normalize(key.CorrectAnswer)

	if userNorm == correctNorm {
		return model.ComparisonResult{
			IsCorrect:               true,
			MarksAwarded:            maxMarks,
			Explanation:             key.Explanation,
			UserAnswerNormalized:    userNorm,
			CorrectAnswerNormalized: correctNorm,
		}
	}

	if key.AlternativeAnswers != "" {
		for _, alt := range strings.Split(key.AlternativeAnswers, ",") {
			altNorm := Normalize(alt)
			if altNorm == "" {
				continue
			}
			if userNorm == altNorm {
				return model.ComparisonResult{
					IsCorrect:               true,
					MarksAwarded:            maxMarks,
					Explanation:             key.Explanation,
					UserAnswerNormalized:    userNorm,
					CorrectAnswerNormalized: altNorm,
				}
			}
		}
	}

	if similarity := PartialMatch(userNorm, correctNorm); similarity >= partialThreshold {
		return model.ComparisonResult{
			IsCorrect:               false,
			MarksAwarded:            round2(maxMarks * similarity),
			Explanation:             fmt.Sprintf("Partial credit: %d%% match", int(math.Round(similarity*100))),
			UserAnswerNormalized:    userNorm,
			CorrectAnswerNormalized: correctNorm,
		}
	}

	return model.ComparisonResult{
		IsCorrect:               false,
		MarksAwarded:            0,
		Explanation:             key.Explanation,
		UserAnswerNormalized:    userNorm,
		CorrectAnswerNormalized: correctNorm,
	}
}

// PartialMatch returns the share of correct-answer words covered by the
// user's words. Every user word occurrence found in the correct answer
// counts, so repeated words can push the raw ratio past 1; it is capped at 1
// to keep marks within the question maximum.
func PartialMatch(userNorm, correctNorm string) float64 {
	correctWords := words(correctNorm)
	if len(correctWords) == 0 {
		return 0
	}
	matchCount := 0
	for _, w := range words(userNorm) {
		if slices.Contains(correctWords, w) {
			matchCount++
		}
	}
	return math.Min(float64(matchCount)/float64(len(correctWords)), 1)
}

// CompareMultipleChoice is an exact, case-insensitive, trimmed comparison.
// There is no partial credit.
func CompareMultipleChoice(userAnswer model.AnswerValue, correctAnswer string, maxMarks float64) model.ComparisonResult {
	userNorm := strings.ToLower(strings.TrimSpace(userAnswer.Flatten()))
	correctNorm := strings.ToLower(strings.TrimSpace(correctAnswer))

	isCorrect := userNorm == correctNorm
	marks := 0.0
	if isCorrect {
		marks = maxMarks
	}
	return model.ComparisonResult{
		IsCorrect:               isCorrect,
		MarksAwarded:            marks,
		UserAnswerNormalized:    userNorm,
		CorrectAnswerNormalized: correctNorm,
	}
}

// writingTier maps a minimum word count to a score fraction.
type writingTier struct {
	minWords int
	fraction float64
}

var writingTiers = []writingTier{
	{150, 0.8},
	{100, 0.6},
	{50, 0.4},
}

// ScoreWritingAnswer applies the word-count heuristic used for essays in
// objective scoring. Answers of 50 characters or fewer score nothing.
func ScoreWritingAnswer(userAnswer string, maxMarks float64) model.ComparisonResult {
	trimmed := strings.TrimSpace(userAnswer)
	if utf8.RuneCountInString(trimmed) <= minWritingChars {
		return model.ComparisonResult{
			IsCorrect:    false,
			MarksAwarded: 0,
			Explanation:  "Response too short or empty",
		}
	}

	wordCount := len(strings.Fields(trimmed))
	fraction := 0.0
	for _, tier := range writingTiers {
		if wordCount >= tier.minWords {
			fraction = tier.fraction
			break
		}
	}

	advice := "Consider expanding your response."
	if fraction >= 0.6 {
		advice = "Good response length."
	}
	return model.ComparisonResult{
		IsCorrect:    fraction >= 0.6,
		MarksAwarded: round2(maxMarks * fraction),
		Explanation:  fmt.Sprintf("Word count: %d. %s", wordCount, advice),
	}
}
