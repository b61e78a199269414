package duckdb

import "github.com/loglens/loglens/internal/model"

// Type aliases re-export model types so store method signatures stay short.
type LogEntry = model.LogEntry
type Prediction = model.Prediction
type TimeRange = model.TimeRange
type SearchFilter = model.SearchFilter
type SearchPage = model.SearchPage
type SearchResult = model.SearchResult
