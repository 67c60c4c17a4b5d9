package clips

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/types"
)

var audioExtensions = map[string]bool{
	".aac": true, ".mp3": true, ".wav": true,
	".m4a": true, ".flac": true, ".ogg": true,
}

// call_20240110_093000.aac style names carry the call date.
var callDatePattern = regexp.MustCompile(`(\d{8})[_-]?(\d{6})?`)

// Store enumerates candidate audio files from a source directory. It owns
// no business logic; processing status lives in the persistence gateway.
type Store struct {
	dir string
	log *logrus.Entry
}

func NewStore(dir string, log *logrus.Entry) *Store {
	return &Store{dir: dir, log: log.WithField("component", "clips")}
}

// Discover lists recognized audio files once. The source directory is never
// watched and the files are never mutated.
func (s *Store) Discover() ([]types.Clip, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read clips dir %s: %w", s.dir, err)
	}

	now := time.Now().UTC()
	var out []types.Clip
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !audioExtensions[ext] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.log.WithField("file", entry.Name()).WithError(err).Warn("stat failed, skipping")
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		out = append(out, types.Clip{
			ID:           ClipID(path),
			Path:         path,
			Size:         info.Size(),
			CallDate:     ParseCallDate(entry.Name()),
			DiscoveredAt: now,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	s.log.WithField("count", len(out)).WithField("dir", s.dir).Info("clips discovered")
	return out, nil
}

// ClipID derives a stable identifier from the absolute source path.
func ClipID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha1.Sum([]byte(abs))
	return hex.EncodeToString(sum[:])[:16]
}

// ParseCallDate pulls YYYYMMDD[_HHMMSS] out of a clip filename, empty when
// the name carries no date.
func ParseCallDate(name string) string {
	m := callDatePattern.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	if m[2] != "" {
		return m[1] + "_" + m[2]
	}
	return m[1]
}
