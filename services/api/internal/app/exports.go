package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"formpilot/pkg/domain"
	"formpilot/pkg/storage"
)

// RequestExport queues a CSV export of a form's submissions.
func (a *App) RequestExport(ctx context.Context, userID, formID string) (domain.ExportJob, error) {
	if a.exports == nil {
		return domain.ExportJob{}, ErrExportsDisabled
	}
	form, err := a.ownedForm(ctx, userID, formID)
	if err != nil {
		return domain.ExportJob{}, err
	}
	job, err := a.exports.Enqueue(ctx, form.ID, form.UserID)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("enqueue export: %w", err)
	}
	return job, nil
}

// ExportStatus reports a job to the user who requested it. Finished jobs carry
// a presigned download link.
func (a *App) ExportStatus(ctx context.Context, userID, jobID string) (domain.ExportJob, error) {
	if a.exports == nil {
		return domain.ExportJob{}, ErrExportsDisabled
	}
	userID, err := requireUser(userID)
	if err != nil {
		return domain.ExportJob{}, err
	}
	job, ok, err := a.exports.GetJob(ctx, strings.TrimSpace(jobID))
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("get export: %w", err)
	}
	if !ok || job.UserID != userID {
		return domain.ExportJob{}, ErrExportNotFound
	}
	if job.Status == domain.ExportDone && job.ObjectKey != "" {
		link, err := a.objects.PresignGet(ctx, job.ObjectKey, a.exportExpiry)
		if err != nil {
			return domain.ExportJob{}, fmt.Errorf("presign export: %w", err)
		}
		job.DownloadURL = link
	}
	return job, nil
}

// ProcessExport renders a job's CSV and uploads it. It is the queue handler.
func (a *App) ProcessExport(ctx context.Context, job domain.ExportJob) (string, error) {
	form, ok, err := a.store.GetForm(ctx, job.FormID)
	if err != nil {
		return "", fmt.Errorf("get form: %w", err)
	}
	if !ok {
		return "", ErrFormNotFound
	}
	subs, err := a.store.ListSubmissions(ctx, form.ID)
	if err != nil {
		return "", fmt.Errorf("list submissions: %w", err)
	}
	data, err := renderCSV(form.Definition, subs)
	if err != nil {
		return "", err
	}
	key := storage.ExportKey(form.ID, job.ID)
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "text/csv"); err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	return key, nil
}

// renderCSV writes one row per submission: id, time, each defined field in
// order, then any extra keys respondents sent, sorted.
func renderCSV(def domain.FormDefinition, subs []domain.Submission) ([]byte, error) {
	known := make(map[string]struct{}, len(def.Fields))
	header := []string{"submissionId", "submittedAt"}
	for _, f := range def.Fields {
		known[f.ID] = struct{}{}
		header = append(header, f.Label)
	}
	extraSet := map[string]struct{}{}
	for _, s := range subs {
		for k := range s.Data {
			if _, ok := known[k]; !ok {
				extraSet[k] = struct{}{}
			}
		}
	}
	extras := make([]string, 0, len(extraSet))
	for k := range extraSet {
		extras = append(extras, k)
	}
	sort.Strings(extras)
	header = append(header, extras...)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, s := range subs {
		row := []string{s.ID, s.SubmittedAt.UTC().Format(time.RFC3339)}
		for _, f := range def.Fields {
			row = append(row, cellValue(s.Data[f.ID]))
		}
		for _, k := range extras {
			row = append(row, cellValue(s.Data[k]))
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func cellValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, cellValue(item))
		}
		return strings.Join(parts, "; ")
	case []string:
		return strings.Join(x, "; ")
	case float64, bool, int, int64:
		return fmt.Sprint(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
