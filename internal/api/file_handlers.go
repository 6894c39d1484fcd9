package api

import (
	"archive/tar"
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/opsdeck/opsdeck-backend/internal"
)

// Files larger than this are refused by the content endpoint; the console
// is for source trees, not artifact downloads.
const maxFileReadBytes = 2 << 20 // 2 MiB

var errPathEscape = errors.New("path escapes project root")

func loadProject(projectID string) (*database.Project, error) {
	id, err := uuid.Parse(projectID)
	if err != nil {
		return nil, err
	}
	var p database.Project
	err = database.DB.Get(&p, `SELECT id, name, path, description, created_at, updated_at FROM projects WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// resolveInProject joins a client-supplied relative path onto the project
// root and rejects anything that resolves outside of it.
func resolveInProject(root, rel string) (string, error) {
	rel = strings.TrimPrefix(rel, "/")
	full := filepath.Clean(filepath.Join(root, rel))
	cleanRoot := filepath.Clean(root)
	if full != cleanRoot && !strings.HasPrefix(full, cleanRoot+string(filepath.Separator)) {
		return "", errPathEscape
	}
	return full, nil
}

func projectFrom(c *gin.Context) (*database.Project, bool) {
	p, err := loadProject(c.Param("projectId"))
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project ID"})
		}
		return nil, false
	}
	return p, true
}

type fileEntry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Dir     bool      `json:"dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// ListFiles returns the entries of a directory inside the project (?path=).
func ListFiles(c *gin.Context) {
	p, ok := projectFrom(c)
	if !ok {
		return
	}
	dir, err := resolveInProject(p.Path, c.Query("path"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid path"})
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Directory not found"})
		return
	}
	out := make([]fileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(p.Path, filepath.Join(dir, e.Name()))
		out = append(out, fileEntry{
			Name:    e.Name(),
			Path:    rel,
			Dir:     e.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	c.JSON(http.StatusOK, out)
}

// ReadFileContent returns a file's contents (?path=).
func ReadFileContent(c *gin.Context) {
	p, ok := projectFrom(c)
	if !ok {
		return
	}
	rel := c.Query("path")
	if rel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter required"})
		return
	}
	full, err := resolveInProject(p.Path, rel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid path"})
		return
	}
	info, err := os.Stat(full)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	if info.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Path is a directory"})
		return
	}
	if info.Size() > maxFileReadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File exceeds %d bytes", maxFileReadBytes)})
		return
	}
	data, err := os.ReadFile(full)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": rel, "size": info.Size(), "content": string(data)})
}

// WriteFileContent creates or overwrites a file (?path=). Parent directories
// are created as needed.
func WriteFileContent(c *gin.Context) {
	p, ok := projectFrom(c)
	if !ok {
		return
	}
	rel := c.Query("path")
	if rel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter required"})
		return
	}
	full, err := resolveInProject(p.Path, rel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid path"})
		return
	}
	var req WriteFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create parent directories"})
		return
	}
	if err := os.WriteFile(full, []byte(req.Content), 0o644); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write file"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "File written", "path": rel, "size": len(req.Content)})
}

// DeleteFile removes a single file (?path=). Directories are refused.
func DeleteFile(c *gin.Context) {
	p, ok := projectFrom(c)
	if !ok {
		return
	}
	rel := c.Query("path")
	if rel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter required"})
		return
	}
	full, err := resolveInProject(p.Path, rel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid path"})
		return
	}
	info, err := os.Stat(full)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	if info.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Refusing to delete a directory"})
		return
	}
	if err := os.Remove(full); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete file"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "File deleted", "path": rel})
}

// writeProjectArchive tars a project tree, gzipped, into w. The .git
// directory and node_modules are excluded to keep archives small.
func writeProjectArchive(w io.Writer, root string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	defer func() {
		tw.Close()
		gz.Close()
	}()

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() && (d.Name() == ".git" || d.Name() == "node_modules") {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return nil
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

func backupDir() string {
	if d := os.Getenv("OPSDECK_BACKUP_DIR"); d != "" {
		return d
	}
	return "/var/backups/opsdeck"
}

func archiveName(projectName string, at time.Time) string {
	return fmt.Sprintf("%s-%s.tar.gz", projectName, at.Format("20060102-150405"))
}

// BackupProject streams a gzipped tar of the whole project tree.
func BackupProject(c *gin.Context) {
	p, ok := projectFrom(c)
	if !ok {
		return
	}
	filename := archiveName(p.Name, time.Now())
	c.Writer.Header().Set("Content-Type", "application/gzip")
	c.Writer.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)
	_ = writeProjectArchive(c.Writer, p.Path)
}

// CreateBackup archives the project into the server-side backup directory.
func CreateBackup(c *gin.Context) {
	p, ok := projectFrom(c)
	if !ok {
		return
	}
	dir := backupDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cannot create backup directory: " + err.Error()})
		return
	}
	filename := archiveName(p.Name, time.Now())
	full := filepath.Join(dir, filename)
	f, err := os.Create(full)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cannot create archive: " + err.Error()})
		return
	}
	start := time.Now()
	werr := writeProjectArchive(f, p.Path)
	cerr := f.Close()
	RecordExternalOp("backup", time.Since(start), werr == nil && cerr == nil)
	if werr != nil || cerr != nil {
		_ = os.Remove(full)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Backup failed"})
		return
	}
	info, err := os.Stat(full)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Backup failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"archive": filename, "size": info.Size(), "created_at": info.ModTime()})
}

// ListBackups returns this project's archives in the backup directory.
func ListBackups(c *gin.Context) {
	p, ok := projectFrom(c)
	if !ok {
		return
	}
	entries, err := os.ReadDir(backupDir())
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, []fileEntry{})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cannot read backup directory"})
		return
	}
	out := []fileEntry{}
	prefix := p.Name + "-"
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ".tar.gz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, fileEntry{
			Name:    e.Name(),
			Path:    e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	c.JSON(http.StatusOK, out)
}
