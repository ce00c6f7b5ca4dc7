package model

import "errors"

// ErrSchemaMismatch means an input table or feature matrix does not carry
// the features the model was trained on. It is fatal for a run.
var ErrSchemaMismatch = errors.New("schema mismatch")
