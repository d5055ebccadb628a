package versioning

import (
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// hardcodedExclusions is the default ignore list's non-.gitignore half: VCS
// metadata, dependency/build/cache directories, binary artifacts, OS/editor
// junk, and AgentSmithy's own state directory.
var hardcodedExclusions = []string{
	".git/", ".hg/", ".svn/",
	"node_modules/", "vendor/", ".venv/", "venv/", "__pycache__/",
	"dist/", "build/", "target/", ".cache/",
	"*.pyc", "*.o", "*.so", "*.dylib", "*.dll", "*.exe", "*.class",
	".DS_Store", "Thumbs.db", "*.swp", "*.swo", "*~",
	".agentsmithy/",
}

// IgnoreMatcher decides whether a workdir-relative path is excluded from
// ordinary tree walks. It does not apply to force-staged paths: the staging
// area always overrides it.
type IgnoreMatcher struct {
	matcher *gitignore.GitIgnore
}

// LoadIgnoreMatcher builds the ignore list from the hardcoded defaults plus
// workdir's .gitignore, if present.
func LoadIgnoreMatcher(workdir string) (*IgnoreMatcher, error) {
	lines := append([]string{}, hardcodedExclusions...)
	if data, err := os.ReadFile(filepath.Join(workdir, ".gitignore")); err == nil {
		lines = append(lines, splitLines(string(data))...)
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return &IgnoreMatcher{matcher: gitignore.CompileIgnoreLines(lines...)}, nil
}

// Matches reports whether rel (workdir-relative, forward-slash separated)
// should be excluded from an unforced tree walk.
func (m *IgnoreMatcher) Matches(rel string) bool {
	return m.matcher.MatchesPath(rel)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
