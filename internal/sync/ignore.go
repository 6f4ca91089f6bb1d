package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/dropsync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

const IgnoreFileName = ".dropsyncignore"

var defaultIgnoreLines = []string{
	IgnoreFileName,
	// partial downloads
	".*.dropsync-*",
	// vcs
	".git",
	".svn",
	".hg",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// IgnoreList matches paths relative to a local root against the default
// rules plus the root's .dropsyncignore. The same rules apply to both
// directions.
type IgnoreList struct {
	baseDir string
	ignore  *gitignore.GitIgnore
}

func NewIgnoreList(baseDir string) *IgnoreList {
	return &IgnoreList{baseDir: baseDir}
}

func (s *IgnoreList) Load() {
	lines := append([]string(nil), defaultIgnoreLines...)
	ignorePath := filepath.Join(s.baseDir, IgnoreFileName)

	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("open ignore file", "path", ignorePath, "error", err)
		} else {
			defer file.Close()

			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				lines = append(lines, line)
				rules++
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("read ignore file", "path", ignorePath, "error", err)
			} else {
				slog.Debug("loaded ignore file", "path", ignorePath, "rules", rules)
			}
		}
	}

	s.ignore = gitignore.CompileIgnoreLines(lines...)
}

// ShouldIgnore reports whether the slash separated relative path rel is
// excluded from syncing. Directory only rules ("build/") need isDir.
func (s *IgnoreList) ShouldIgnore(rel string, isDir bool) bool {
	if s.ignore == nil || rel == "" {
		return false
	}
	if s.ignore.MatchesPath(rel) {
		return true
	}
	return isDir && s.ignore.MatchesPath(rel+"/")
}
