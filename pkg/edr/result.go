package edr

import "time"

// Result is the outcome of one detection run.
// This is the stable public type; internal representations may evolve
// independently without breaking consumers.
type Result struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Source    string    `json:"source"`             // upload or sample
	Fallback  string    `json:"fallback,omitempty"` // why the sample was used: absent, unparseable
	Rows      int       `json:"rows"`

	Detections  []Detection  `json:"detections"`
	ClassCounts []ClassCount `json:"class_counts"`
	TagCounts   []TagCount   `json:"tag_counts"`   // most frequent first
	TopFeatures []Feature    `json:"top_features"` // highest mean |SHAP| first

	// Scores[i][j] is feature Features[j]'s contribution to row i's
	// predicted class. Empty when there were no rows.
	Features []string    `json:"features"`
	Scores   [][]float64 `json:"scores,omitempty"`
}

// Detection is one record's prediction.
type Detection struct {
	Row   int    `json:"row"`
	Class int    `json:"class"`
	Tag   string `json:"mitre_tag"`
}

// ClassCount is the number of records predicted as a class.
type ClassCount struct {
	Class int `json:"class"`
	Count int `json:"count"`
}

// TagCount is the number of records mapped to a MITRE tag.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Feature is one entry of the global importance ranking.
type Feature struct {
	Name    string  `json:"name"`
	MeanAbs float64 `json:"mean_abs"`
}
