// Package credentials persists per-account proxies and tokens in line-oriented files.
// Line i of every file belongs to account i.
package credentials

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/checkinbot/checkinbot/internal/config"
	"github.com/checkinbot/checkinbot/internal/errors"
	"github.com/checkinbot/checkinbot/internal/models"
)

// Store reads and rewrites the credential files.
type Store struct {
	files config.FilesConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store over the given files.
func NewStore(files config.FilesConfig) *Store {
	return &Store{
		files: files,
		locks: make(map[string]*sync.Mutex),
	}
}

// Files returns the backing file paths.
func (s *Store) Files() config.FilesConfig {
	return s.files
}

// LoadAll reads every account. The proxy, access and refresh files must exist and
// hold the same number of lines. Identity tokens are optional.
func (s *Store) LoadAll() ([]models.AccountRecord, error) {
	proxies, err := s.readRequired(s.files.Proxies)
	if err != nil {
		return nil, err
	}
	access, err := s.readRequired(s.files.AccessTokens)
	if err != nil {
		return nil, err
	}
	refresh, err := s.readRequired(s.files.RefreshTokens)
	if err != nil {
		return nil, err
	}

	if len(proxies) != len(access) || len(access) != len(refresh) {
		return nil, &errors.ErrConfigMismatch{
			Proxies:       len(proxies),
			AccessTokens:  len(access),
			RefreshTokens: len(refresh),
		}
	}

	identity, err := s.readOptional(s.files.IdentityTokens)
	if err != nil {
		return nil, err
	}

	records := make([]models.AccountRecord, len(proxies))
	for i := range proxies {
		records[i] = models.AccountRecord{
			Index:        i,
			Proxy:        proxies[i],
			AccessToken:  access[i],
			RefreshToken: refresh[i],
		}
		if i < len(identity) {
			records[i].IdentityToken = identity[i]
		}
	}
	return records, nil
}

// SaveTokens replaces entry index of the access and refresh files.
func (s *Store) SaveTokens(index int, accessToken, refreshToken string) error {
	if err := s.replace(s.files.AccessTokens, index, accessToken); err != nil {
		return err
	}
	return s.replace(s.files.RefreshTokens, index, refreshToken)
}

// SaveIdentityToken replaces entry index of the identity file, creating it if needed.
func (s *Store) SaveIdentityToken(index int, token string) error {
	return s.replace(s.files.IdentityTokens, index, token)
}

// Densify returns lines extended with blank entries so that index is addressable.
// The input slice is never modified.
func Densify(lines []string, index int) []string {
	size := len(lines)
	if index >= size {
		size = index + 1
	}
	out := make([]string, size)
	copy(out, lines)
	return out
}

func (s *Store) replace(path string, index int, value string) error {
	if index < 0 {
		return &errors.ErrFileWrite{Path: path, Err: os.ErrInvalid}
	}

	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	lines, err := s.readOptional(path)
	if err != nil {
		return err
	}

	lines = Densify(lines, index)
	lines[index] = strings.TrimSpace(value)
	return writeLines(path, lines)
}

func (s *Store) lockFor(path string) *sync.Mutex {
	key := filepath.Clean(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

func (s *Store) readRequired(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.ErrConfigMissing{Path: path}
		}
		return nil, &errors.ErrFileRead{Path: path, Err: err}
	}
	return splitLines(path, data)
}

func (s *Store) readOptional(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &errors.ErrFileRead{Path: path, Err: err}
	}
	return splitLines(path, data)
}

// splitLines returns the trimmed lines of data. Blank lines are kept as empty
// entries; a final newline does not start another entry.
func splitLines(path string, data []byte) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, &errors.ErrFileRead{Path: path, Err: err}
	}
	return lines, nil
}

// writeLines replaces path atomically with one entry per line.
func writeLines(path string, lines []string) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return &errors.ErrFileWrite{Path: path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &errors.ErrFileWrite{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &errors.ErrFileWrite{Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		_ = os.Remove(tmpName)
		return &errors.ErrFileWrite{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return &errors.ErrFileWrite{Path: path, Err: err}
	}
	return nil
}
