// Package ignore decides which paths under the synchronization root are
// never mirrored. Rules use gitignore syntax.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

var defaultLines = []string{
	// VCS
	".git",
	".svn",
	// editors
	"*.swp",
	"*.swx",
	"*~",
	`~\$*`, // office lock files
	".#*",
	// temp files written by tools before an atomic rename
	"*.tmp",
	"*.part",
	"*.crdownload",
	// OS
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// Matcher applies ignore rules to absolute paths under a root.
type Matcher struct {
	root       string
	ignoreFile string
	rules      *gitignore.GitIgnore
	count      int
}

// Load builds a matcher from the default rules plus the lines of
// ignoreFile. A missing ignore file is not an error. The ignore file
// itself is always ignored.
func Load(root, ignoreFile string) (*Matcher, error) {
	lines := append([]string(nil), defaultLines...)

	if ignoreFile != "" {
		extra, err := readLines(ignoreFile)
		if err != nil {
			return nil, err
		}

		lines = append(lines, extra...)
	}

	return &Matcher{
		root:       root,
		ignoreFile: ignoreFile,
		rules:      gitignore.CompileIgnoreLines(lines...),
		count:      len(lines),
	}, nil
}

// Rules returns the number of active rules.
func (m *Matcher) Rules() int {
	return m.count
}

// Match reports whether an absolute path under the root is ignored. The
// root itself and paths outside it are never ignored.
func (m *Matcher) Match(absPath string) bool {
	if m == nil {
		return false
	}

	if m.ignoreFile != "" && absPath == m.ignoreFile {
		return true
	}

	rel, err := filepath.Rel(m.root, absPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}

	return m.rules.MatchesPath(filepath.ToSlash(rel))
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		lines = append(lines, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}

	return lines, nil
}
