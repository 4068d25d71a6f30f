package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)
	sqlFileRe      = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)
	createTableRe  = regexp.MustCompile(`(?i)CREATE TABLE(?: IF NOT EXISTS)?\s+([a-z0-9_]+)\s*\(`)
)

// Tables keyed by provider or outbox identity rather than by business.
var globalTables = map[string]bool{
	"checkout_webhook_events": true,
	"outbox_dlq":              true,
}

// File is one goose SQL migration on disk or in the embedded FS.
type File struct {
	Version int64
	Name    string
	Path    string
}

// ListFiles returns the SQL migrations in fsys/dir ordered by version.
// Non-sql entries are ignored; malformed names and duplicate versions fail.
func ListFiles(fsys fs.FS, dir string) ([]File, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	var files []File
	seen := map[int64]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", e.Name())
		}
		version, _ := strconv.ParseInt(m[1], 10, 64)
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %d in %q and %q", version, prev, e.Name())
		}
		seen[version] = e.Name()
		files = append(files, File{Version: version, Name: m[2], Path: filepath.ToSlash(filepath.Join(dir, e.Name()))})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// ValidateDir checks the migrations in a directory on disk.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return ValidateFS(os.DirFS(dir), ".")
}

// ValidateFS checks filenames, goose annotations and tenancy: every table
// created in an Up section carries business_id or hangs off a parent that does.
func ValidateFS(fsys fs.FS, dir string) error {
	files, err := ListFiles(fsys, dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		b, err := fs.ReadFile(fsys, f.Path)
		if err != nil {
			return fmt.Errorf("read file %q: %w", f.Path, err)
		}
		if err := validateSQL(string(b)); err != nil {
			return fmt.Errorf("migration %q: %w", f.Path, err)
		}
	}
	return nil
}

func validateSQL(txt string) error {
	upIdx := strings.Index(txt, "-- +goose Up")
	if upIdx < 0 {
		return fmt.Errorf(`missing "-- +goose Up"`)
	}
	downIdx := strings.Index(txt, "-- +goose Down")
	if downIdx < 0 {
		return fmt.Errorf(`missing "-- +goose Down"`)
	}
	if downIdx < upIdx {
		return fmt.Errorf("down section precedes up section")
	}
	if b, e := strings.Count(txt, "-- +goose StatementBegin"), strings.Count(txt, "-- +goose StatementEnd"); b != e {
		return fmt.Errorf("unbalanced StatementBegin/StatementEnd (%d/%d)", b, e)
	}

	up := txt[upIdx:downIdx]
	locs := createTableRe.FindAllStringSubmatchIndex(up, -1)
	for i, loc := range locs {
		table := strings.ToLower(up[loc[2]:loc[3]])
		end := len(up)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := up[loc[1]:end]
		if close := strings.Index(body, "\n);"); close >= 0 {
			body = body[:close]
		}
		if globalTables[table] || strings.Contains(body, "business_id") || strings.Contains(strings.ToUpper(body), "REFERENCES") {
			continue
		}
		return fmt.Errorf("table %s has neither business_id nor a parent reference", table)
	}
	return nil
}

// CreateSQLMigration writes an empty goose migration named
// <dir>/<YYYYMMDDHHMMSS>_<name>.sql. The version is bumped past the newest
// existing file so two migrations created in the same second never collide.
func CreateSQLMigration(dir string, name string) (string, error) {
	return createSQLMigration(dir, name, time.Now().UTC())
}

func createSQLMigration(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	if name == "" {
		return "", fmt.Errorf("name is required")
	}

	safe := strings.ToLower(strings.TrimSpace(name))
	safe = strings.ReplaceAll(safe, " ", "_")
	safe = nameSanitizeRe.ReplaceAllString(safe, "_")
	safe = strings.Trim(safe, "_")
	if safe == "" {
		return "", fmt.Errorf("name %q results in empty sanitized filename", name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	existing, err := ListFiles(os.DirFS(dir), ".")
	if err != nil {
		return "", err
	}
	version, _ := strconv.ParseInt(now.Format("20060102150405"), 10, 64)
	if n := len(existing); n > 0 && existing[n-1].Version >= version {
		latest, _ := time.Parse("20060102150405", strconv.FormatInt(existing[n-1].Version, 10))
		version, _ = strconv.ParseInt(latest.Add(time.Second).Format("20060102150405"), 10, 64)
	}

	fullpath := filepath.Join(dir, fmt.Sprintf("%d_%s.sql", version, safe))
	template := fmt.Sprintf(`-- +goose Up
-- +goose StatementBegin
-- %s: tenant tables need business_id
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %s
-- +goose StatementEnd
`, safe, safe)

	if err := os.WriteFile(fullpath, []byte(template), 0o644); err != nil {
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}
	return fullpath, nil
}
