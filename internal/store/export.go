package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/bandscore/internal/model"
	"github.com/pavelanni/bandscore/internal/scoring"
)

// ExportTest builds export-ready results for every attempt of a test.
// Statistics are recomputed from the stored answers.
func (s *Store) ExportTest(testID string) (*model.TestExport, error) {
	test, err := s.GetTest(testID)
	if err != nil {
		return nil, fmt.Errorf("get test %s: %w", testID, err)
	}
	attempts, err := s.ListAttempts(testID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	export := &model.TestExport{
		TestID:   test.ID,
		TestName: test.Name,
		TestType: test.TypeName,
		Date:     time.Now().UTC().Format(time.DateOnly),
		Results:  []model.AttemptResult{},
	}
	for _, a := range attempts {
		responses, err := s.GetResponses(a.ID)
		if err != nil {
			return nil, fmt.Errorf("get responses of %s: %w", a.ID, err)
		}
		subs, err := s.GetSubmissions(a.ID)
		if err != nil {
			return nil, fmt.Errorf("get answers of %s: %w", a.ID, err)
		}
		scored := scoring.ScoreAllAnswers(subs, test)

		res := model.AttemptResult{
			AttemptID:  a.ID,
			UserID:     a.UserID,
			Status:     a.Status,
			StartedAt:  a.StartedAt,
			EndedAt:    a.EndedAt,
			Responses:  responses,
			Statistics: scoring.GenerateStatistics(scored),
			Sections:   scoring.SectionScores(test, scored),
		}

		writing, err := s.GetWritingResult(a.ID)
		switch {
		case err == nil:
			res.Writing = writing
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("get writing result of %s: %w", a.ID, err)
		}

		export.Results = append(export.Results, res)
	}
	return export, nil
}
