package aichat

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"merilcat/pkg/llm"
)

// State is everything the chat plugin persists.
type State struct {
	Sessions map[string][]llm.Message `json:"sessions"`
	Mood     Mood                     `json:"mood"`
}

// Store persists State between runs.
type Store interface {
	// Load returns an empty State when nothing was saved yet.
	Load() (State, error)
	Save(State) error
	Close() error
}

// FileStore keeps State in a single JSON file, replaced atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore stores State at dir/history.json.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, "history.json")}, nil
}

func (s *FileStore) Load() (State, error) {
	state := State{Sessions: map[string][]llm.Message{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("read history: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return State{Sessions: map[string][]llm.Message{}}, fmt.Errorf("parse history: %w", err)
	}
	if state.Sessions == nil {
		state.Sessions = map[string][]llm.Message{}
	}
	return state, nil
}

func (s *FileStore) Save(state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

const (
	sessionPrefix = "session/"
	moodKey       = "mood"
)

// BadgerStore keeps one msgpack-encoded key per session in a badger
// database.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a database in dir, or an in-memory one when dir is
// empty.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Load() (State, error) {
	state := State{Sessions: map[string][]llm.Message{}}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(moodKey))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(v []byte) error {
				return msgpack.Unmarshal(v, &state.Mood)
			}); err != nil {
				return fmt.Errorf("decode mood: %w", err)
			}
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(sessionPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), sessionPrefix)
			var msgs []llm.Message
			if err := item.Value(func(v []byte) error {
				return msgpack.Unmarshal(v, &msgs)
			}); err != nil {
				return fmt.Errorf("decode session %s: %w", id, err)
			}
			state.Sessions[id] = msgs
		}
		return nil
	})
	if err != nil {
		return State{Sessions: map[string][]llm.Message{}}, fmt.Errorf("load badger store: %w", err)
	}
	return state, nil
}

func (s *BadgerStore) Save(state State) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	mood, err := msgpack.Marshal(state.Mood)
	if err != nil {
		return fmt.Errorf("encode mood: %w", err)
	}
	if err := wb.Set([]byte(moodKey), mood); err != nil {
		return err
	}
	for id, msgs := range state.Sessions {
		v, err := msgpack.Marshal(msgs)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", id, err)
		}
		if err := wb.Set([]byte(sessionPrefix+id), v); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush badger store: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
