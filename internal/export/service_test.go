package export

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/creelapp/creel/internal/db"
	"github.com/creelapp/creel/internal/models"
	"github.com/creelapp/creel/internal/queue"
)

func newTestService(t *testing.T) (*Service, *db.Repository, *queue.Service, string) {
	t.Helper()

	dataDir := t.TempDir()
	database, err := db.Open(dataDir)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("failed to initialize migrations: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	store, err := queue.NewStore(database.DB)
	if err != nil {
		t.Fatalf("failed to create queue store: %v", err)
	}
	q := queue.NewService(store, 50, 40, 3, nil)
	repo := db.NewRepository(database.DB)

	return NewService(repo, q, dataDir, nil), repo, q, dataDir
}

func readArchive(t *testing.T, path string) map[string][]byte {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("archive is not gzip: %v", err)
	}
	tr := tar.NewReader(gz)

	files := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read archive: %v", err)
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("failed to read entry %s: %v", hdr.Name, err)
		}
		files[hdr.Name] = content
	}
	return files
}

func TestExportArchiveContents(t *testing.T) {
	svc, repo, q, _ := newTestService(t)
	ctx := context.Background()

	catch := &models.Catch{
		Species:  "pike",
		WeightKg: 4.2,
		Location: "north shore",
		Notes:    "caught on a **spinner** at dawn",
		CaughtAt: 1700000000,
	}
	if err := repo.CreateCatch(catch); err != nil {
		t.Fatalf("failed to create catch: %v", err)
	}

	// One terminally failed item should land in failed_queue.json.
	payload := json.RawMessage(`{"id":"4fa0e5d1-9c5b-4f0e-8a3c-0f4cf03a1c11","species":"ghost"}`)
	item, err := q.Enqueue(ctx, models.OperationUpdate, "catches", payload)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := q.MarkSyncing(ctx, item.ID.String()); err != nil {
			t.Fatalf("mark syncing failed: %v", err)
		}
		if _, err := q.MarkFailed(ctx, item.ID.String(), "no such record"); err != nil {
			t.Fatalf("mark failed errored: %v", err)
		}
	}

	result, err := svc.Export(ctx)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if result.RecordCount != 1 {
		t.Errorf("expected 1 record, got %d", result.RecordCount)
	}

	files := readArchive(t, result.Path)
	for _, name := range []string{"manifest.json", "catches.json", "failed_queue.json", "photos.json", "report.html"} {
		if _, ok := files[name]; !ok {
			t.Errorf("archive missing %s", name)
		}
	}

	var catches []*models.Catch
	if err := json.Unmarshal(files["catches.json"], &catches); err != nil {
		t.Fatalf("catches.json invalid: %v", err)
	}
	if len(catches) != 1 || catches[0].Species != "pike" {
		t.Errorf("unexpected catches content: %+v", catches)
	}

	var failed []*models.QueueItem
	if err := json.Unmarshal(files["failed_queue.json"], &failed); err != nil {
		t.Fatalf("failed_queue.json invalid: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != item.ID {
		t.Errorf("unexpected failed queue content: %+v", failed)
	}

	// Notes are markdown, rendered in the report.
	report := string(files["report.html"])
	if !strings.Contains(report, "<strong>spinner</strong>") {
		t.Errorf("report did not render markdown notes: %s", report)
	}
	if !strings.Contains(report, "pike") {
		t.Error("report missing catch species")
	}
}

func TestExportManifestChecksums(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	if err := repo.CreateCatch(&models.Catch{Species: "perch", CaughtAt: 1700000100}); err != nil {
		t.Fatalf("failed to create catch: %v", err)
	}

	result, err := svc.Export(ctx)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	files := readArchive(t, result.Path)
	var manifest Manifest
	if err := json.Unmarshal(files["manifest.json"], &manifest); err != nil {
		t.Fatalf("manifest invalid: %v", err)
	}
	if manifest.Version != 1 || manifest.RecordCount != 1 {
		t.Errorf("unexpected manifest: %+v", manifest)
	}

	for name, want := range manifest.Checksums {
		sum := sha256.Sum256(files[name])
		if got := hex.EncodeToString(sum[:]); got != want {
			t.Errorf("%s checksum mismatch: %s != %s", name, got, want)
		}
	}

	// The result checksum covers the whole archive file.
	archive, err := os.ReadFile(result.Path)
	if err != nil {
		t.Fatalf("failed to read archive: %v", err)
	}
	sum := sha256.Sum256(archive)
	if hex.EncodeToString(sum[:]) != result.Checksum {
		t.Error("archive checksum mismatch")
	}
	if result.SizeBytes != int64(len(archive)) {
		t.Errorf("expected size %d, got %d", len(archive), result.SizeBytes)
	}
}

type exportEventRecorder struct {
	started   int
	completed int
	failed    []string
}

func (r *exportEventRecorder) ExportStarted() { r.started++ }
func (r *exportEventRecorder) ExportCompleted(path string, size int64, count int, checksum string) {
	r.completed++
}
func (r *exportEventRecorder) ExportFailed(errMsg string) { r.failed = append(r.failed, errMsg) }

func TestExportEvents(t *testing.T) {
	svc, repo, q, dataDir := newTestService(t)
	events := &exportEventRecorder{}
	svc = NewService(repo, q, dataDir, events)

	if _, err := svc.Export(context.Background()); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if events.started != 1 || events.completed != 1 {
		t.Errorf("expected start and completion events, got %+v", events)
	}
}

func TestExportPhotoManifest(t *testing.T) {
	svc, repo, _, dataDir := newTestService(t)

	photoDir := filepath.Join(dataDir, "photos")
	if err := os.MkdirAll(photoDir, 0755); err != nil {
		t.Fatalf("failed to create photo dir: %v", err)
	}
	photoBytes := []byte("not really a jpeg")
	if err := os.WriteFile(filepath.Join(photoDir, "a.jpg"), photoBytes, 0644); err != nil {
		t.Fatalf("failed to write photo: %v", err)
	}

	present := &models.Catch{Species: "trout", CaughtAt: 1700000200, PhotoPath: "photos/a.jpg"}
	gone := &models.Catch{Species: "bream", CaughtAt: 1700000300, PhotoPath: "photos/gone.jpg"}
	for _, c := range []*models.Catch{present, gone} {
		if err := repo.CreateCatch(c); err != nil {
			t.Fatalf("failed to create catch: %v", err)
		}
	}

	result, err := svc.Export(context.Background())
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	files := readArchive(t, result.Path)
	var photos []PhotoEntry
	if err := json.Unmarshal(files["photos.json"], &photos); err != nil {
		t.Fatalf("photos.json invalid: %v", err)
	}
	if len(photos) != 2 {
		t.Fatalf("expected 2 photo entries, got %d", len(photos))
	}

	byPath := make(map[string]PhotoEntry)
	for _, p := range photos {
		byPath[p.Path] = p
	}
	sum := sha256.Sum256(photoBytes)
	if got := byPath["photos/a.jpg"]; got.Missing || got.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("unexpected entry for present photo: %+v", got)
	}
	if got := byPath["photos/gone.jpg"]; !got.Missing || got.Checksum != "" {
		t.Errorf("unexpected entry for missing photo: %+v", got)
	}
}

func TestExportEmptyLog(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	result, err := svc.Export(context.Background())
	if err != nil {
		t.Fatalf("export of empty log failed: %v", err)
	}
	if result.RecordCount != 0 {
		t.Errorf("expected 0 records, got %d", result.RecordCount)
	}
}
