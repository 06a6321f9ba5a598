// Package fileconn stores an eventbook payload as a file on an afero.Fs.
//
// Writes go to a temporary file in the same directory that is then renamed over the target,
// a reader never sees a partial payload. With WithStamp every Persist writes a new file whose
// name carries the persist time, and Load returns the newest one. That is the layout used for
// backups.
package fileconn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/project-hadron/discovery-engines/eventbook"
)

const (
	fileMode = 0o644
	dirMode  = 0o755
)

var (
	ErrEmptyFileName   = errors.New("file name must not be empty")
	ErrInvalidFileName = errors.New("file name must not contain path separators")
)

// Option defines a functional option for configuring a Connector.
type Option func(*Connector) error

// WithStamp makes every Persist write a new file named <base>_<timestamp><ext>, using clock for the
// timestamp. A nil clock uses the wall clock.
func WithStamp(clock eventbook.Clock) Option {
	return func(c *Connector) error {
		if clock == nil {
			clock = eventbook.SystemClock()
		}

		c.stampClock = clock

		return nil
	}
}

// Connector is an eventbook.Connector backed by one file, or a series of stamped files.
type Connector struct {
	fs         afero.Fs
	dir        string
	name       string
	stampClock eventbook.Clock
}

var _ eventbook.Connector = (*Connector)(nil)

// New creates a Connector for the file name in dir. A nil fs uses the OS file system.
func New(fs afero.Fs, dir, name string, options ...Option) (*Connector, error) {
	if name == "" {
		return nil, errors.Join(eventbook.ErrValidation, ErrEmptyFileName)
	}

	if strings.ContainsAny(name, `/\`) {
		return nil, errors.Join(eventbook.ErrValidation, ErrInvalidFileName, fmt.Errorf("file %q", name))
	}

	if fs == nil {
		fs = afero.NewOsFs()
	}

	c := &Connector{fs: fs, dir: dir, name: name}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, errors.Join(eventbook.ErrValidation, err)
		}
	}

	return c, nil
}

// Path returns the target path, for a stamped connector the path without the stamp.
func (c *Connector) Path() string {
	return filepath.Join(c.dir, c.name)
}

func (c *Connector) Persist(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.dir != "" {
		if err := c.fs.MkdirAll(c.dir, dirMode); err != nil {
			return err
		}
	}

	target := c.Path()
	if c.stampClock != nil {
		target = c.stampedPath(eventbook.TimestampKey(c.stampClock.Now()))
	}

	tmp := filepath.Join(c.dir, "."+c.name+"."+uuid.NewString()+".tmp")

	if err := afero.WriteFile(c.fs, tmp, payload, fileMode); err != nil {
		return err
	}

	if err := c.fs.Rename(tmp, target); err != nil {
		_ = c.fs.Remove(tmp)
		return err
	}

	return nil
}

func (c *Connector) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := c.currentPath()
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(c.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Join(eventbook.ErrNotFound, fmt.Errorf("file %s", path))
	}

	return data, err
}

func (c *Connector) Exists(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path, err := c.currentPath()
	if errors.Is(err, eventbook.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return afero.Exists(c.fs, path)
}

// Stamped returns the paths of all stamped files, oldest first. Only <base>_<timestamp><ext> names
// with a valid eventbook.TimestampLayout stamp count, so files of other resources sharing the prefix
// are ignored.
func (c *Connector) Stamped() ([]string, error) {
	dir := c.dir
	if dir == "" {
		dir = "."
	}

	entries, err := afero.ReadDir(c.fs, dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	base, ext := c.splitName()

	var matches []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		stamp, ok := strings.CutPrefix(entry.Name(), base+"_")
		if !ok {
			continue
		}

		stamp, ok = strings.CutSuffix(stamp, ext)
		if !ok || len(stamp) != len(eventbook.TimestampLayout) {
			continue
		}

		if _, err := eventbook.ParseTimestampKey(stamp); err != nil {
			continue
		}

		matches = append(matches, filepath.Join(c.dir, entry.Name()))
	}

	sort.Strings(matches)

	return matches, nil
}

func (c *Connector) currentPath() (string, error) {
	if c.stampClock == nil {
		return c.Path(), nil
	}

	stamped, err := c.Stamped()
	if err != nil {
		return "", err
	}

	if len(stamped) == 0 {
		return "", errors.Join(eventbook.ErrNotFound, fmt.Errorf("no stamped file for %s", c.Path()))
	}

	return stamped[len(stamped)-1], nil
}

func (c *Connector) stampedPath(stamp string) string {
	base, ext := c.splitName()
	return filepath.Join(c.dir, base+"_"+stamp+ext)
}

func (c *Connector) splitName() (string, string) {
	ext := filepath.Ext(c.name)
	return strings.TrimSuffix(c.name, ext), ext
}
