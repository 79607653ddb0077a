// Package backup keeps the engine's internal state of one participant in an
// append-only file so that a restarted participant resumes where it stopped.
package backup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/drand/ordering/common/key"
	"github.com/drand/ordering/common/log"
	"github.com/drand/ordering/internal/fs"
	"github.com/drand/ordering/internal/metrics"
)

// DefaultFolder is the folder, relative to the working directory, holding the
// backups of every participant.
const DefaultFolder = "./ordering-backup"

const fileExtension = ".units"

var (
	// ErrReplayed is returned when the replay source is requested twice.
	ErrReplayed = errors.New("backup: replay source already taken")
	// ErrReplayPending is returned by appends issued before the replay source
	// was taken.
	ErrReplayPending = errors.New("backup: append before replay")
	// ErrClosed is returned by appends after Close.
	ErrClosed = errors.New("backup: closed")
)

// Log is the recovery log of one participant. Its content is replayed once at
// startup and then only ever appended to.
type Log struct {
	sync.Mutex
	path     string
	contents []byte
	replayed bool
	file     *os.File
	appended int64
	log      log.Logger
}

// FilePath returns where the backup of participant index lives under folder.
func FilePath(folder string, index key.Index) string {
	return path.Join(folder, index.String()+fileExtension)
}

// Open creates folder if needed, reads the existing backup of the participant
// into memory and opens the file for appending. A missing backup is an empty
// one.
func Open(l log.Logger, folder string, index key.Index) (*Log, error) {
	if _, err := fs.CreateSecureFolder(folder); err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	filePath := FilePath(folder, index)

	var contents []byte
	exists, err := fs.Exists(filePath)
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	if exists {
		if contents, err = os.ReadFile(filePath); err != nil {
			return nil, fmt.Errorf("backup: reading %s: %w", filePath, err)
		}
	}

	file, err := fs.OpenAppendOnly(filePath)
	if err != nil {
		return nil, fmt.Errorf("backup: opening %s: %w", filePath, err)
	}

	l.Infow("backup opened", "path", filePath, "bytes", len(contents))
	return &Log{
		path:     filePath,
		contents: contents,
		file:     file,
		log:      l,
	}, nil
}

// Path returns the backup file path.
func (b *Log) Path() string {
	return b.path
}

// Loader returns the content of the backup as it was when the log was
// opened. It can be taken only once.
func (b *Log) Loader() (io.Reader, error) {
	b.Lock()
	defer b.Unlock()
	if b.replayed {
		return nil, ErrReplayed
	}
	b.replayed = true
	r := bytes.NewReader(b.contents)
	b.contents = nil
	return r, nil
}

// Saver returns the append handle of the log.
func (b *Log) Saver() io.Writer {
	return (*saver)(b)
}

// Appended returns how many bytes were appended during this session.
func (b *Log) Appended() int64 {
	b.Lock()
	defer b.Unlock()
	return b.appended
}

// Close releases the underlying file.
func (b *Log) Close() error {
	b.Lock()
	defer b.Unlock()
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	return err
}

type saver Log

// Write appends p and syncs the file before returning, so that a successful
// write survives a crash.
func (s *saver) Write(p []byte) (int, error) {
	s.Lock()
	defer s.Unlock()
	if !s.replayed {
		return 0, ErrReplayPending
	}
	if s.file == nil {
		return 0, ErrClosed
	}
	n, err := s.file.Write(p)
	s.appended += int64(n)
	metrics.BackupBytesAppended.Add(float64(n))
	if err != nil {
		return n, fmt.Errorf("backup: appending to %s: %w", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return n, fmt.Errorf("backup: syncing %s: %w", s.path, err)
	}
	return n, nil
}
