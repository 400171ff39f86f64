package writing

import "strconv"

// Tip is a writing advice message ID with its template data. Messages are
// rendered by the i18n layer.
type Tip struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data,omitempty"`
}

// Tip message IDs.
const (
	TipTooShort       = "TipTooShort"
	TipExpand         = "TipExpand"
	TipTooLong        = "TipTooLong"
	TipGoodCount      = "TipGoodCount"
	TipTask2Structure = "TipTask2Structure"
)

// maxRecommendedWords is the length above which an essay is flagged as too long.
const maxRecommendedWords = 400

// Tips returns length advice for an essay of wordCount words.
func Tips(wordCount int, isTask2 bool) []Tip {
	minWords, optimalWords := 150, 200
	if isTask2 {
		minWords, optimalWords = 250, 320
	}

	var tips []Tip
	switch {
	case wordCount < minWords:
		tips = append(tips, Tip{ID: TipTooShort, Data: map[string]any{"Min": minWords, "Count": wordCount}})
	case wordCount < optimalWords:
		tips = append(tips, Tip{ID: TipExpand, Data: map[string]any{"Optimal": optimalWords}})
	case wordCount > maxRecommendedWords:
		tips = append(tips, Tip{ID: TipTooLong})
	default:
		tips = append(tips, Tip{ID: TipGoodCount, Data: map[string]any{"Count": wordCount}})
	}

	if isTask2 {
		tips = append(tips, Tip{ID: TipTask2Structure})
	}
	return tips
}

// BandTier is a coarse description of a band score.
type BandTier string

const (
	BandExcellent BandTier = "BandExcellent"
	BandGood      BandTier = "BandGood"
	BandCompetent BandTier = "BandCompetent"
	BandModest    BandTier = "BandModest"
	BandLimited   BandTier = "BandLimited"
)

// TierFor maps a band score string to its tier. Unparsable scores are limited.
func TierFor(score string) BandTier {
	v, err := strconv.ParseFloat(score, 64)
	if err != nil {
		return BandLimited
	}
	switch {
	case v >= 8:
		return BandExcellent
	case v >= 7:
		return BandGood
	case v >= 6:
		return BandCompetent
	case v >= 5:
		return BandModest
	default:
		return BandLimited
	}
}
