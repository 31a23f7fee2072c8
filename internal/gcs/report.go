package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"
)

// ReportObject names a run report: prefix/YYYY-MM-DD/<runID>.json.
func ReportObject(prefix, runID string, startedAt time.Time) string {
	return path.Join(prefix, startedAt.UTC().Format("2006-01-02"), runID+".json")
}

// UploadReport writes report as indented JSON and returns its gs:// URI.
func UploadReport(ctx context.Context, store ObjectStore, bucket, prefix, runID string, startedAt time.Time, report interface{}) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("UploadReport: marshal report: %w", err)
	}

	object := ReportObject(prefix, runID, startedAt)
	if _, err := store.Put(ctx, bucket, object, data, "application/json", false); err != nil {
		return "", fmt.Errorf("UploadReport: %w", err)
	}
	return URI(bucket, object), nil
}

// Fetch downloads the object a gs:// URI points at.
func Fetch(ctx context.Context, store ObjectStore, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	data, err := store.Get(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	return data, nil
}
