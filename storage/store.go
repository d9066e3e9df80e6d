// Copyright 2024 KnightRecs Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage persists trained models on the local file system. A
// snapshot consists of two artifacts written atomically: the model itself and
// the rating history of every user.
package storage

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/knightrecs/knightrecs/base/encoding"
	"github.com/knightrecs/knightrecs/base/log"
	"github.com/knightrecs/knightrecs/model"
)

const (
	modelFile    = "model.bin"
	profilesFile = "profiles.bin"

	formatTag           = "knightrecs"
	formatVersion int64 = 1
)

var (
	// ErrModelNotFound is returned by Load when no snapshot has been saved yet.
	ErrModelNotFound = errors.NotFoundf("model")
	// ErrCorruptedModel is returned by Load when an artifact exists but cannot
	// be decoded.
	ErrCorruptedModel = errors.NotValidf("model file")
)

// Meta identifies a model snapshot.
type Meta struct {
	SnapshotId string
	CreatedAt  time.Time
	Score      model.Score
}

// Snapshot bundles a trained model with the rating history needed to serve
// recommendations from it.
type Snapshot struct {
	Meta     Meta
	Model    model.MatrixFactorization
	Profiles map[int64][]int64
}

// NewSnapshot stamps a trained model with a fresh snapshot id.
func NewSnapshot(m model.MatrixFactorization, score model.Score, profiles map[int64][]int64) *Snapshot {
	return &Snapshot{
		Meta: Meta{
			SnapshotId: uuid.New().String(),
			CreatedAt:  time.Now().UTC(),
			Score:      score,
		},
		Model:    m,
		Profiles: profiles,
	}
}

// ModelStore saves and loads snapshots in a directory.
type ModelStore struct {
	path string
}

func NewModelStore(path string) *ModelStore {
	return &ModelStore{path: path}
}

func (s *ModelStore) modelPath() string {
	return filepath.Join(s.path, modelFile)
}

func (s *ModelStore) profilesPath() string {
	return filepath.Join(s.path, profilesFile)
}

// Exists reports whether a complete snapshot is present.
func (s *ModelStore) Exists() bool {
	if _, err := os.Stat(s.modelPath()); err != nil {
		return false
	}
	if _, err := os.Stat(s.profilesPath()); err != nil {
		return false
	}
	return true
}

// Save writes the snapshot. Each artifact is written to a temporary file and
// renamed into place, so a crashed save never leaves a partial artifact
// visible.
func (s *ModelStore) Save(snapshot *Snapshot) error {
	// create the snapshot folder if not exists
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err = os.MkdirAll(s.path, os.ModePerm); err != nil {
			return errors.Trace(err)
		}
	}
	if err := s.writeAtomic(s.modelPath(), func(w io.Writer) error {
		// 1. format header
		if err := writeHeader(w); err != nil {
			return errors.Trace(err)
		}
		// 2. meta
		if err := encoding.WriteGob(w, snapshot.Meta); err != nil {
			return errors.Trace(err)
		}
		// 3. model
		return model.MarshalModel(w, snapshot.Model)
	}); err != nil {
		return errors.Trace(err)
	}
	if err := s.writeAtomic(s.profilesPath(), func(w io.Writer) error {
		if err := writeHeader(w); err != nil {
			return errors.Trace(err)
		}
		return encoding.WriteGob(w, snapshot.Profiles)
	}); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("save model snapshot",
		zap.String("snapshot_id", snapshot.Meta.SnapshotId),
		zap.String("path", s.path))
	return nil
}

// Load reads the persisted snapshot. A missing artifact yields
// ErrModelNotFound, an unreadable one yields ErrCorruptedModel. A partially
// decoded snapshot is never returned.
func (s *ModelStore) Load() (*Snapshot, error) {
	if !s.Exists() {
		return nil, errors.Annotatef(ErrModelNotFound, "path %s", s.path)
	}
	snapshot := new(Snapshot)
	// load model
	if err := s.readArtifact(s.modelPath(), func(r io.Reader) error {
		if err := encoding.ReadGob(r, &snapshot.Meta); err != nil {
			return errors.Annotatef(ErrCorruptedModel, "read meta: %v", err)
		}
		var err error
		if snapshot.Model, err = model.UnmarshalModel(r); err != nil {
			return errors.Annotatef(ErrCorruptedModel, "read model: %v", err)
		}
		return nil
	}); err != nil {
		return nil, errors.Trace(err)
	}
	// load profiles
	if err := s.readArtifact(s.profilesPath(), func(r io.Reader) error {
		if err := encoding.ReadGob(r, &snapshot.Profiles); err != nil {
			return errors.Annotatef(ErrCorruptedModel, "read profiles: %v", err)
		}
		return nil
	}); err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("load model snapshot",
		zap.String("snapshot_id", snapshot.Meta.SnapshotId),
		zap.Time("created_at", snapshot.Meta.CreatedAt),
		zap.String("path", s.path))
	return snapshot, nil
}

func (s *ModelStore) writeAtomic(path string, write func(w io.Writer) error) error {
	temp := path + ".tmp"
	f, err := os.Create(temp)
	if err != nil {
		return errors.Trace(err)
	}
	if err = write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(temp)
		return errors.Trace(err)
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(temp)
		return errors.Trace(err)
	}
	return errors.Trace(os.Rename(temp, path))
}

func (s *ModelStore) readArtifact(path string, read func(r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		_ = f.Close()
	}()
	if err = readHeader(f); err != nil {
		return errors.Trace(err)
	}
	return read(f)
}

func writeHeader(w io.Writer) error {
	if err := encoding.WriteString(w, formatTag); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(binary.Write(w, binary.LittleEndian, formatVersion))
}

func readHeader(r io.Reader) error {
	tag, err := encoding.ReadString(r)
	if err != nil {
		return errors.Annotatef(ErrCorruptedModel, "read format tag: %v", err)
	}
	if tag != formatTag {
		return errors.Annotatef(ErrCorruptedModel, "unexpected format tag %q", tag)
	}
	var version int64
	if err = binary.Read(r, binary.LittleEndian, &version); err != nil {
		return errors.Annotatef(ErrCorruptedModel, "read format version: %v", err)
	}
	if version != formatVersion {
		return errors.Annotatef(ErrCorruptedModel, "unsupported format version %d", version)
	}
	return nil
}
