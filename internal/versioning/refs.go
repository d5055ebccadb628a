package versioning

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// RefMain is the name of the last-approved ref.
const RefMain = "main"

var sessionRefPattern = regexp.MustCompile(`^session_(\d+)$`)

// SessionRefName formats the ref name for session number n.
func SessionRefName(n int) string {
	return fmt.Sprintf("session_%d", n)
}

func (s *Store) refPath(name string) string {
	return filepath.Join(s.root, "refs", name)
}

// ReadRef returns the commit hash a ref currently points to, or "" if the
// ref does not exist yet (e.g. main before the first approve).
func (s *Store) ReadRef(name string) (Hash, error) {
	data, err := os.ReadFile(s.refPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return Hash(strings.TrimSpace(string(data))), nil
}

// WriteRef atomically points name at hash.
func (s *Store) WriteRef(name string, hash Hash) error {
	path := s.refPath(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(hash), 0o644); err != nil {
		return fmt.Errorf("write ref %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

// LatestSessionNumber scans refs/ for the highest existing session_N and
// returns it (0 if none exist yet).
func (s *Store) LatestSessionNumber() (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "refs"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	best := 0
	for _, e := range entries {
		m := sessionRefPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	return best, nil
}

// ListSessionRefs returns every session_N ref name present, sorted
// ascending, including merged/abandoned ones, kept for recovery.
func (s *Store) ListSessionRefs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "refs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if sessionRefPattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
