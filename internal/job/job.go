// Package job describes a unit of analysis work.
package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lintwatch/internal/project"
	"lintwatch/internal/vfs"
)

var (
	ErrNoFiles       = errors.New("job has no files")
	ErrDuplicateFile = errors.New("job lists a file twice")
	ErrNoModule      = errors.New("job has no module")
)

// Job is an immutable analysis request: the files of one module and the trigger.
type Job struct {
	id        uuid.UUID
	module    *project.Module
	files     []*vfs.File
	trigger   Trigger
	createdAt time.Time
}

// New validates the inputs and creates a job. File order is preserved.
func New(module *project.Module, files []*vfs.File, trigger Trigger) (*Job, error) {
	if module == nil {
		return nil, ErrNoModule
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	seen := make(map[vfs.FileID]struct{}, len(files))
	for _, f := range files {
		if f == nil {
			return nil, fmt.Errorf("nil file: %w", ErrNoFiles)
		}
		if _, dup := seen[f.ID()]; dup {
			return nil, fmt.Errorf("%s: %w", f.Path(), ErrDuplicateFile)
		}
		seen[f.ID()] = struct{}{}
	}
	return &Job{
		id:        uuid.New(),
		module:    module,
		files:     append([]*vfs.File(nil), files...),
		trigger:   trigger,
		createdAt: time.Now(),
	}, nil
}

func (j *Job) ID() uuid.UUID { return j.id }
func (j *Job) Module() *project.Module { return j.module }
func (j *Job) Trigger() Trigger { return j.trigger }
func (j *Job) CreatedAt() time.Time { return j.createdAt }
func (j *Job) FileCount() int { return len(j.files) }

// Files returns a copy of the file list.
func (j *Job) Files() []*vfs.File {
	return append([]*vfs.File(nil), j.files...)
}

// Label is the progress title: the file name for one file, a count otherwise.
func (j *Job) Label() string {
	if len(j.files) == 1 {
		return fmt.Sprintf("Running analysis for '%s'", j.files[0].Name())
	}
	return fmt.Sprintf("Running analysis for %d files", len(j.files))
}

func (j *Job) String() string {
	return fmt.Sprintf("job %s (%s, %d files, %s)", j.id, j.module, len(j.files), j.trigger)
}
