// Package lock keeps a second chatlinkd from running against the same session.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file inside a session directory.
const FileName = "chatlinkd.lock"

// HeldError is returned when another process holds the session lock.
type HeldError struct {
	Owner Owner
	Path  string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("session lock held by PID %d (%s)", e.Owner.PID, e.Path)
}

// Owner describes the daemon holding a lock.
type Owner struct {
	PID     int
	UserID  int64
	Started time.Time
}

// Lock represents an acquired session lock file.
type Lock struct {
	file  *os.File
	path  string
	owner Owner
}

// Acquire takes an exclusive lock on the session directory.
// Returns *HeldError if another process already holds it.
func Acquire(sessionDir string) (*Lock, error) {
	lockPath := filepath.Join(sessionDir, FileName)

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		owner, _ := Read(sessionDir)
		_ = f.Close()
		return nil, &HeldError{Owner: owner, Path: lockPath}
	}

	l := &Lock{
		file:  f,
		path:  lockPath,
		owner: Owner{PID: os.Getpid(), Started: time.Now().UTC().Truncate(time.Second)},
	}
	if err := l.write(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

// SetUser records the signed-in user in the lock file.
func (l *Lock) SetUser(userID int64) error {
	if l == nil || l.file == nil {
		return errors.New("lock released")
	}
	l.owner.UserID = userID
	return l.write()
}

// Owner returns what this lock advertises.
func (l *Lock) Owner() Owner {
	return l.owner
}

func (l *Lock) write() error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	if _, err := l.file.Seek(0, 0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\nuser_id=%d\ntime=%s\n",
		l.owner.PID, l.owner.UserID, l.owner.Started.Format(time.RFC3339))
	_, err := l.file.WriteString(content)
	return err
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// Read parses the lock file of a session without taking the lock. A missing
// file returns an error wrapping os.ErrNotExist.
func Read(sessionDir string) (Owner, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, FileName))
	if err != nil {
		return Owner{}, err
	}
	return parse(string(data)), nil
}

func parse(content string) Owner {
	var o Owner
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(value)
		case "user_id":
			o.UserID, _ = strconv.ParseInt(value, 10, 64)
		case "time":
			o.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return o
}
