package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/atinyakov/GophRelay/internal/models"
)

// fileState is the on-disk layout of FileUserRepository.
type fileState struct {
	Users         map[models.UserID]models.UserRecord `json:"users"`
	Challenge     *models.SecurityChallenge           `json:"challenge,omitempty"`
	BackupChannel int64                               `json:"backup_channel,omitempty"`
}

// FileUserRepository keeps user records and settings in a single JSON file.
// It is meant for single-process deployments without a database.
type FileUserRepository struct {
	path  string
	mu    sync.Mutex
	state fileState
}

// NewFileUserRepository creates a repository backed by path. The file is
// created on the first save.
func NewFileUserRepository(path string) *FileUserRepository {
	return &FileUserRepository{
		path:  path,
		state: fileState{Users: make(map[models.UserID]models.UserRecord)},
	}
}

// Load reads the file. A missing file yields an empty snapshot.
func (r *FileUserRepository) Load(_ context.Context) (models.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.state = fileState{Users: make(map[models.UserID]models.UserRecord)}
			return models.Snapshot{}, nil
		}
		return models.Snapshot{}, fmt.Errorf("open store: %w", err)
	}
	defer f.Close()

	var st fileState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return models.Snapshot{}, fmt.Errorf("decode store: %w", err)
	}
	if st.Users == nil {
		st.Users = make(map[models.UserID]models.UserRecord)
	}
	r.state = st

	snap := models.Snapshot{
		Users:         make([]models.UserRecord, 0, len(st.Users)),
		BackupChannel: st.BackupChannel,
	}
	for _, u := range st.Users {
		snap.Users = append(snap.Users, u)
	}
	if st.Challenge != nil {
		c := *st.Challenge
		snap.Challenge = &c
	}
	return snap, nil
}

// SaveUser stores u and rewrites the file.
func (r *FileUserRepository) SaveUser(_ context.Context, u models.UserRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, existed := r.state.Users[u.ID]
	r.state.Users[u.ID] = u
	if err := r.save(); err != nil {
		if existed {
			r.state.Users[u.ID] = prev
		} else {
			delete(r.state.Users, u.ID)
		}
		return err
	}
	return nil
}

// SaveChallenge stores c and rewrites the file.
func (r *FileUserRepository) SaveChallenge(_ context.Context, c models.SecurityChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.state.Challenge
	r.state.Challenge = &c
	if err := r.save(); err != nil {
		r.state.Challenge = prev
		return err
	}
	return nil
}

// SaveBackupChannel stores chatID and rewrites the file.
func (r *FileUserRepository) SaveBackupChannel(_ context.Context, chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.state.BackupChannel
	r.state.BackupChannel = chatID
	if err := r.save(); err != nil {
		r.state.BackupChannel = prev
		return err
	}
	return nil
}

// save writes the state to a temporary file and renames it over the store,
// so a crash never leaves a truncated file behind.
func (r *FileUserRepository) save() error {
	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.state); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}
