package recorder

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const filenameLayout = "2006-01-02_15-04-05"

// Session is one bounded CSV recording. The header row is written exactly
// once at creation; every appended row has the same column count as the
// header, with missing readings written as empty cells.
type Session struct {
	path      string
	startedAt time.Time
	columns   int

	file   *os.File
	writer *csv.Writer
}

// NewSession creates a timestamped CSV file under baseDir (created if
// absent) and writes the header: a Timestamp column followed by the given
// value columns.
func NewSession(baseDir string, valueColumns []string) (*Session, error) {
	if len(valueColumns) == 0 {
		return nil, errors.New("session needs at least one value column")
	}

	err := os.MkdirAll(baseDir, 0o755)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create data directory %s", baseDir)
	}

	startedAt := time.Now()
	path, file, err := createUnique(baseDir, "DATA-"+startedAt.Format(filenameLayout))
	if err != nil {
		return nil, err
	}

	s := &Session{
		path:      path,
		startedAt: startedAt,
		columns:   len(valueColumns),
		file:      file,
		writer:    csv.NewWriter(file),
	}

	header := append([]string{"Timestamp"}, valueColumns...)
	if err := s.writer.Write(header); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "failed to write session header")
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "failed to flush session header")
	}

	return s, nil
}

// createUnique opens a fresh file, suffixing the name when two sessions
// start within the same second.
func createUnique(baseDir, stem string) (string, *os.File, error) {
	for attempt := 0; attempt < 100; attempt++ {
		name := stem
		if attempt > 0 {
			name += "-" + strconv.Itoa(attempt+1)
		}
		path := filepath.Join(baseDir, name+".csv")

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, file, nil
		}
		if !os.IsExist(err) {
			return "", nil, errors.Wrapf(err, "failed to create session file %s", path)
		}
	}
	return "", nil, errors.Errorf("failed to find a free session filename under %s", baseDir)
}

// Append writes one data row. Values must align positionally with the
// header columns; nil entries are recorded as empty cells, never dropped.
func (s *Session) Append(timestamp time.Time, values []*float64) error {
	if s.file == nil {
		return errors.New("session is closed")
	}
	if len(values) != s.columns {
		return errors.Errorf("row has %d values, session header has %d columns", len(values), s.columns)
	}

	record := make([]string, 1+len(values))
	record[0] = strconv.FormatFloat(float64(timestamp.UnixNano())/1e9, 'f', 6, 64)
	for i, v := range values {
		if v != nil {
			record[1+i] = strconv.FormatFloat(*v, 'f', -1, 64)
		}
	}

	if err := s.writer.Write(record); err != nil {
		return errors.Wrap(err, "failed to write session row")
	}
	s.writer.Flush()
	return errors.Wrap(s.writer.Error(), "failed to flush session row")
}

// Filename returns the base name of the session file.
func (s *Session) Filename() string {
	return filepath.Base(s.path)
}

// Path returns the full path of the session file.
func (s *Session) Path() string {
	return s.path
}

func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

func (s *Session) Close() error {
	if s.file == nil {
		return nil
	}

	s.writer.Flush()
	flushErr := s.writer.Error()

	err := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return errors.Wrap(flushErr, "failed to flush session on close")
	}
	return errors.Wrap(err, "failed to close session file")
}
