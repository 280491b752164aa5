package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"remindbot/internal/reminder"
	"remindbot/pkg/logx"
)

// fileStore keeps one JSON file per reminder.
//
// Layout:
//   - <path>/reminders/<id>.json
//   - <path>/last_id
type fileStore struct {
	log logx.Logger

	dir         string
	counterPath string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	root := strings.TrimSpace(cfg.Path)
	if root == "" {
		return nil, errors.New("storage.path is required for the file driver")
	}
	dir := filepath.Join(root, "reminders")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	return &fileStore{
		log:         log,
		dir:         dir,
		counterPath: filepath.Join(root, "last_id"),
	}, nil
}

func (s *fileStore) pathFor(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Put(ctx context.Context, r reminder.Reminder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkReminder(r); err != nil {
		return err
	}
	b, err := json.MarshalIndent(toRecord(r), "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return writeFileAtomic(s.pathFor(r.ID), b, 0o600)
}

func (s *fileStore) List(ctx context.Context, chat, sender string) ([]reminder.Reminder, error) {
	all, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if r.Owned(chat, sender) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fileStore) LoadAll(ctx context.Context) ([]reminder.Reminder, error) {
	return s.scan(ctx)
}

func (s *fileStore) Delete(ctx context.Context, id, chat, sender string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !validID(id) {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	r, err := s.readLocked(s.pathFor(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		s.log.Warn("skip unreadable reminder on delete", logx.String("id", id), logx.Err(err))
		return false, nil
	}
	if !r.Owned(chat, sender) {
		return false, nil
	}
	if err := os.Remove(s.pathFor(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *fileStore) Advance(ctx context.Context, r reminder.Reminder) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := checkReminder(r); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	cur, err := s.readLocked(s.pathFor(r.ID))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		s.log.Warn("skip unreadable reminder on advance", logx.String("id", r.ID), logx.Err(err))
		return false, nil
	}
	if !sameRecord(cur, r) {
		return false, nil
	}
	cur.Time = r.Time
	cur.LastTriggered = r.LastTriggered
	b, err := json.MarshalIndent(toRecord(cur), "", "  ")
	if err != nil {
		return false, err
	}
	if err := writeFileAtomic(s.pathFor(r.ID), b, 0o600); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) NextID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	last := 0
	if b, err := os.ReadFile(s.counterPath); err == nil {
		if n, perr := strconv.Atoi(strings.TrimSpace(string(b))); perr == nil {
			last = n
		} else {
			s.log.Warn("id counter unreadable, restarting at 1", logx.String("path", s.counterPath))
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	next := nextSeq(last)
	if err := writeFileAtomic(s.counterPath, []byte(strconv.Itoa(next)), 0o600); err != nil {
		return "", err
	}
	return strconv.Itoa(next), nil
}

func (s *fileStore) scan(ctx context.Context) ([]reminder.Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]reminder.Reminder, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		r, err := s.readLocked(filepath.Join(s.dir, name))
		if err != nil {
			s.log.Warn("skip unreadable reminder", logx.String("file", name), logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	sortReminders(out)
	return out, nil
}

func (s *fileStore) readLocked(path string) (reminder.Reminder, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return reminder.Reminder{}, err
	}
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return reminder.Reminder{}, err
	}
	if want := strings.TrimSuffix(filepath.Base(path), ".json"); rec.ID != want {
		return reminder.Reminder{}, fmt.Errorf("%w: file %s holds id %q", errIDMismatch, filepath.Base(path), rec.ID)
	}
	return rec.reminder()
}

// writeFileAtomic writes via a temp file in the same directory, fsyncs and
// renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Chmod(perm); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
