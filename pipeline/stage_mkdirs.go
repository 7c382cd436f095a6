package pipeline

import (
	"context"
	"os"
)

type mkdirPath struct {
	path        string
	withParents bool
	mode        os.FileMode
}

// StageMkdirs ensures a list of directories exist, creating each in turn
// (optionally with parents) and skipping any that already exist.
type StageMkdirs struct {
	StageBase

	paths []mkdirPath
}

// NewStageMkdirs returns an empty StageMkdirs; use AddPath to populate it
// before attaching.
func NewStageMkdirs(name string) *StageMkdirs {
	sm := &StageMkdirs{}
	sm.StageBase = NewStageBase(name, sm, false)
	return sm
}

// AddPath appends a directory to create on Execute.
func (s *StageMkdirs) AddPath(path string, withParents bool, mode os.FileMode) {
	s.paths = append(s.paths, mkdirPath{path: path, withParents: withParents, mode: mode})
}

func (s *StageMkdirs) Execute(ctx context.Context, p *Pipeline) error {
	for _, mp := range s.paths {
		if info, err := os.Stat(mp.path); err == nil && info.IsDir() {
			continue
		}

		var err error
		if mp.withParents {
			err = os.MkdirAll(mp.path, mp.mode)
		} else {
			err = os.Mkdir(mp.path, mp.mode)
		}
		if err != nil {
			return &FilesystemError{Op: "mkdir", Path: mp.path, Err: err}
		}
	}
	return nil
}
