package model

import "time"

// TestExport is the top-level JSON structure for result export.
type TestExport struct {
	TestID   string          `json:"test_id"`
	TestName string          `json:"test_name"`
	TestType string          `json:"test_type"`
	Date     string          `json:"date"`
	Results  []AttemptResult `json:"results"`
}

// AttemptResult holds one learner's attempt data for export.
type AttemptResult struct {
	AttemptID  string         `json:"attempt_id"`
	UserID     string         `json:"user_id"`
	Status     AttemptStatus  `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
	Responses  []UserResponse `json:"responses"`
	Statistics Statistics     `json:"statistics"`
	Sections   []SectionScore `json:"sections,omitempty"`
	Writing    *WritingResult `json:"writing,omitempty"`
}
