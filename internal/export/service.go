// Package export builds backup archives of the catch log.
package export

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/yuin/goldmark"

	"github.com/creelapp/creel/internal/db"
	apperrors "github.com/creelapp/creel/internal/errors"
	"github.com/creelapp/creel/internal/logging"
	"github.com/creelapp/creel/internal/models"
	"github.com/creelapp/creel/internal/queue"
)

// Manifest describes an archive's contents for integrity checks.
type Manifest struct {
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	RecordCount int               `json:"record_count"`
	FailedCount int               `json:"failed_count"`
	PhotoCount  int               `json:"photo_count"`
	Checksums   map[string]string `json:"checksums"`
}

// PhotoEntry records one photo referenced by the catch log. The photo bytes
// stay on disk; the entry carries enough to verify them against a backup.
type PhotoEntry struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
	Missing   bool   `json:"missing,omitempty"`
}

// Result summarizes a finished export.
type Result struct {
	Path        string `json:"path"`
	SizeBytes   int64  `json:"size_bytes"`
	RecordCount int    `json:"record_count"`
	Checksum    string `json:"checksum"`
}

// Events receives export lifecycle notifications.
type Events interface {
	ExportStarted()
	ExportCompleted(path string, sizeBytes int64, recordCount int, checksum string)
	ExportFailed(errMsg string)
}

type nopEvents struct{}

func (nopEvents) ExportStarted() {}

func (nopEvents) ExportCompleted(string, int64, int, string) {}

func (nopEvents) ExportFailed(string) {}

// Service writes tar.gz backups under <dataDir>/exports.
type Service struct {
	repo    *db.Repository
	queue   *queue.Service
	dataDir string
	outDir  string
	events  Events
}

// NewService creates an export service. A nil events handler disables
// notifications.
func NewService(repo *db.Repository, q *queue.Service, dataDir string, events Events) *Service {
	if events == nil {
		events = nopEvents{}
	}
	return &Service{
		repo:    repo,
		queue:   q,
		dataDir: dataDir,
		outDir:  filepath.Join(dataDir, "exports"),
		events:  events,
	}
}

// Export writes a backup archive containing the full catch log, any
// terminally failed queue items, a rendered HTML report and a manifest with
// per-file checksums. It returns the archive path and its checksum.
func (s *Service) Export(ctx context.Context) (*Result, error) {
	s.events.ExportStarted()

	result, err := s.export(ctx)
	if err != nil {
		s.events.ExportFailed(err.Error())
		logging.Error("Export failed", err, nil)
		return nil, err
	}

	s.events.ExportCompleted(result.Path, result.SizeBytes, result.RecordCount, result.Checksum)
	logging.Info("Export completed", map[string]interface{}{
		"path":    result.Path,
		"records": result.RecordCount,
		"bytes":   result.SizeBytes,
	})
	return result, nil
}

func (s *Service) export(ctx context.Context) (*Result, error) {
	if err := os.MkdirAll(s.outDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to create export directory", err)
	}

	catches, err := s.collectCatches()
	if err != nil {
		return nil, err
	}
	failed, err := s.queue.ListFailed(ctx)
	if err != nil {
		return nil, err
	}
	photos := s.collectPhotos(catches)

	catchesJSON, err := json.MarshalIndent(catches, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to encode catches", err)
	}
	failedJSON, err := json.MarshalIndent(failed, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to encode failed queue", err)
	}
	photosJSON, err := json.MarshalIndent(photos, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to encode photo manifest", err)
	}
	report, err := renderReport(catches, failed)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		Version:     1,
		CreatedAt:   time.Now().UTC(),
		RecordCount: len(catches),
		FailedCount: len(failed),
		PhotoCount:  len(photos),
		Checksums: map[string]string{
			"catches.json":      checksum(catchesJSON),
			"failed_queue.json": checksum(failedJSON),
			"photos.json":       checksum(photosJSON),
			"report.html":       checksum(report),
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to encode manifest", err)
	}

	name := fmt.Sprintf("creel-export-%s.tar.gz", time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(s.outDir, name)

	size, err := writeArchive(path, map[string][]byte{
		"manifest.json":     manifestJSON,
		"catches.json":      catchesJSON,
		"failed_queue.json": failedJSON,
		"photos.json":       photosJSON,
		"report.html":       report,
	})
	if err != nil {
		return nil, err
	}

	archive, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to read back archive", err)
	}

	return &Result{
		Path:        path,
		SizeBytes:   size,
		RecordCount: len(catches),
		Checksum:    checksum(archive),
	}, nil
}

func (s *Service) collectCatches() ([]*models.Catch, error) {
	const pageSize = 500
	var all []*models.Catch
	for offset := 0; ; offset += pageSize {
		page, err := s.repo.ListCatches(nil, pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// collectPhotos builds the photo manifest for every photo the catch log
// references. A missing file is recorded rather than failing the export; the
// record may have synced from a device whose photo never made it over.
func (s *Service) collectPhotos(catches []*models.Catch) []PhotoEntry {
	entries := make([]PhotoEntry, 0)
	for _, c := range catches {
		if c.PhotoPath == "" {
			continue
		}
		entry := PhotoEntry{Path: c.PhotoPath}
		data, err := os.ReadFile(filepath.Join(s.dataDir, filepath.FromSlash(c.PhotoPath)))
		if err != nil {
			entry.Missing = true
		} else {
			entry.SizeBytes = int64(len(data))
			entry.Checksum = checksum(data)
		}
		entries = append(entries, entry)
	}
	return entries
}

func writeArchive(path string, files map[string][]byte) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrExportFailed, "failed to create archive", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	// Manifest first, then data files in a fixed order.
	order := []string{"manifest.json", "catches.json", "failed_queue.json", "photos.json", "report.html"}
	now := time.Now()
	for _, name := range order {
		content, ok := files[name]
		if !ok {
			continue
		}
		hdr := &tar.Header{
			Name:    name,
			Mode:    0644,
			Size:    int64(len(content)),
			ModTime: now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return 0, apperrors.Wrap(apperrors.ErrExportFailed, "failed to write archive header", err)
		}
		if _, err := tw.Write(content); err != nil {
			return 0, apperrors.Wrap(apperrors.ErrExportFailed, "failed to write archive entry", err)
		}
	}

	if err := tw.Close(); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrExportFailed, "failed to finalize archive", err)
	}
	if err := gz.Close(); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrExportFailed, "failed to finalize compression", err)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrExportFailed, "failed to stat archive", err)
	}
	return info.Size(), nil
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Catch Log Export</title></head>
<body>
<h1>Catch Log Export</h1>
<p>Generated {{.GeneratedAt}} &mdash; {{.RecordCount}} catches, {{.FailedCount}} unsynced failures.</p>
{{range .Entries}}
<section>
<h2>{{.Species}}</h2>
<p>Caught {{.CaughtAt}}{{if .Location}} at {{.Location}}{{end}}</p>
{{.Notes}}
</section>
{{end}}
</body>
</html>
`))

type reportEntry struct {
	Species  string
	CaughtAt string
	Location string
	Notes    template.HTML
}

// renderReport produces a standalone HTML summary. Catch notes are markdown
// and rendered through goldmark.
func renderReport(catches []*models.Catch, failed []*models.QueueItem) ([]byte, error) {
	md := goldmark.New()

	entries := make([]reportEntry, 0, len(catches))
	for _, c := range catches {
		var notes bytes.Buffer
		if c.Notes != "" {
			if err := md.Convert([]byte(c.Notes), &notes); err != nil {
				return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to render notes", err)
			}
		}
		entries = append(entries, reportEntry{
			Species:  c.Species,
			CaughtAt: time.Unix(c.CaughtAt, 0).UTC().Format("2006-01-02 15:04"),
			Location: c.Location,
			Notes:    template.HTML(notes.String()),
		})
	}

	var out bytes.Buffer
	err := reportTemplate.Execute(&out, map[string]interface{}{
		"GeneratedAt": time.Now().UTC().Format("2006-01-02 15:04"),
		"RecordCount": len(catches),
		"FailedCount": len(failed),
		"Entries":     entries,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to render report", err)
	}
	return out.Bytes(), nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
