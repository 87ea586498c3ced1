package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	SessionsBucket = "sessions"
)

// Journal хранит диагностику сессий синхронизатора
type Journal struct {
	db         *bbolt.DB
	mu         sync.RWMutex
	serializer Serializer
}

// Config содержит конфигурацию для Journal
type Config struct {
	Path       string
	FileMode   os.FileMode
	Options    *bbolt.Options
	Serializer Serializer
}

// Open открывает (или создает) журнал
func Open(cfg Config) (*Journal, error) {
	if cfg.Serializer == nil {
		cfg.Serializer = &MsgpackSerializer{}
	}

	if cfg.FileMode == 0 {
		cfg.FileMode = 0600
	}

	if cfg.Options == nil {
		// второй процесс не должен зависать на блокировке файла
		cfg.Options = &bbolt.Options{Timeout: time.Second}
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("open journal %s: %w", cfg.Path, err)
		}
	}

	db, err := bbolt.Open(cfg.Path, cfg.FileMode, cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", cfg.Path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(SessionsBucket))
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}

	return &Journal{
		db:         db,
		serializer: cfg.Serializer,
	}, nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return ErrNilDB
	}
	return j.db.Close()
}

// Save сохраняет или перезаписывает сессию
func (j *Journal) Save(s Session) error {
	if s.ID == "" {
		return ErrEmptySessionID
	}

	data, err := j.serializer.Serialize(&s)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(SessionsBucket))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(s.ID), data)
	})
}

// Get загружает сессию по идентификатору
func (j *Journal) Get(id string) (Session, error) {
	var s Session

	j.mu.RLock()
	defer j.mu.RUnlock()

	err := j.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(SessionsBucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return ErrSessionNotFound
		}
		return j.serializer.Deserialize(data, &s)
	})
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// List возвращает сессии от новых к старым; limit <= 0 - все
func (j *Journal) List(limit int) ([]Session, error) {
	var sessions []Session

	j.mu.RLock()
	defer j.mu.RUnlock()

	err := j.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(SessionsBucket))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var s Session
			if err := j.serializer.Deserialize(v, &s); err != nil {
				return fmt.Errorf("session %s: %w", k, err)
			}
			sessions = append(sessions, s)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(sessions, func(a, b Session) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// Delete удаляет сессию
func (j *Journal) Delete(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(SessionsBucket))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(id))
	})
}
