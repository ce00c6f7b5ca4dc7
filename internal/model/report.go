package model

import "time"

// Detection is one row's prediction and its MITRE tag.
type Detection struct {
	Row        int    `json:"row"`
	Prediction int    `json:"prediction"`
	Tag        string `json:"mitre_tag"`
}

// Explanation holds per-feature contribution scores for every explained row.
// Scores[i][j] is feature j's contribution to row i's predicted class.
type Explanation struct {
	Algorithm  string      `json:"algorithm"`
	Features   []string    `json:"features"`
	Scores     [][]float64 `json:"scores"`
	BaseValues []float64   `json:"base_values"`
}

// Len returns the number of explained rows.
func (e *Explanation) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Scores)
}

// FeatureImportance is one entry of the global importance ranking.
type FeatureImportance struct {
	Feature string  `json:"feature"`
	MeanAbs float64 `json:"mean_abs"`
}

// ClassCount is the number of rows predicted as a class id.
type ClassCount struct {
	Class int `json:"class"`
	Count int `json:"count"`
}

// TagCount is the number of rows mapped to a MITRE tag.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Summary aggregates a detection run for display.
type Summary struct {
	Rows        int                 `json:"rows"`
	ClassCounts []ClassCount        `json:"class_counts"`
	TagCounts   []TagCount          `json:"tag_counts"`
	TopFeatures []FeatureImportance `json:"top_features"`
	Head        []Detection         `json:"head"`
	Tail        []Detection         `json:"tail"`
}

// ModelInfo describes the loaded classifier artifact.
type ModelInfo struct {
	Path     string   `json:"path"`
	Format   string   `json:"format"`
	Features []string `json:"features"`
	Classes  []int    `json:"classes"`
}

// Fallback records why the bundled sample replaced an upload.
type Fallback struct {
	Reason string `json:"reason"` // "absent" or "unparseable"
	Detail string `json:"detail,omitempty"`
}

// Report is the complete result of one detection run.
type Report struct {
	ID         string      `json:"id"`
	CreatedAt  time.Time   `json:"created_at"`
	Source     Source      `json:"source"`
	Fallback   *Fallback   `json:"fallback,omitempty"`
	Model      ModelInfo   `json:"model"`
	Columns    []string    `json:"columns"`
	Sample     [][]string  `json:"sample"`
	Detections []Detection `json:"detections"`
	Summary    Summary     `json:"summary"`

	// Explanation is recomputed per run and never persisted.
	Explanation *Explanation `json:"-"`
}
