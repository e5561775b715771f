package fs

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"mnemo/internal/port"
)

// Walker finds importable files under a root with doublestar globs.
type Walker struct {
	includes []string
	excludes []string
	maxSize  int64
}

// NewWalker builds a walker. Files larger than maxSize bytes are skipped
// when maxSize > 0.
func NewWalker(includes, excludes []string, maxSize int64) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
		maxSize:  maxSize,
	}
}

// Walk returns matching files sorted by path. A root that is a regular file
// is returned as-is, without pattern checks.
func (w *Walker) Walk(root string) ([]port.FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return []port.FileInfo{{Path: root, ModTime: st.ModTime().Unix(), Size: st.Size()}}, nil
	}

	seen := make(map[string]port.FileInfo)
	fsys := os.DirFS(root)
	for _, pattern := range w.includes {
		err := doublestar.GlobWalk(fsys, pattern, func(rel string, d fs.DirEntry) error {
			if d.IsDir() || w.excluded(rel) {
				return nil
			}
			if _, ok := seen[rel]; ok {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if !info.Mode().IsRegular() || (w.maxSize > 0 && info.Size() > w.maxSize) {
				return nil
			}
			seen[rel] = port.FileInfo{
				Path:    filepath.Join(root, filepath.FromSlash(rel)),
				ModTime: info.ModTime().Unix(),
				Size:    info.Size(),
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	files := make([]port.FileInfo, 0, len(seen))
	for _, f := range seen {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (w *Walker) excluded(rel string) bool {
	for _, pattern := range w.excludes {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
	}
	return false
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
