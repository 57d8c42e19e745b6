package qstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

/*
	Key layout. The big-endian id suffix on message keys makes badger's
	lexicographic iteration order identical to push order, so the oldest
	message of a queue is always the first key under its prefix.

		q::<name>          -> incarnation uuid of the queue
		m::<uuid>::<id:8>  -> payload bytes
		sys::lastid        -> last id handed out, 8 bytes big-endian

	Message keys hang off the incarnation uuid rather than the queue name.
	Deleting a queue removes the registry entry and retires the uuid, so a
	recreated queue starts empty no matter what happens to the old message
	keys; anything left behind is invisible and swept at the next open.
*/

const (
	queuePrefix   = "q::"
	messagePrefix = "m::"
	lastIDKey     = "sys::lastid"
)

func queueKey(name string) []byte {
	return append([]byte(queuePrefix), name...)
}

func messageKeyPrefix(incarnation string) []byte {
	k := make([]byte, 0, len(messagePrefix)+len(incarnation)+2)
	k = append(k, messagePrefix...)
	k = append(k, incarnation...)
	k = append(k, "::"...)
	return k
}

func messageKey(incarnation string, id uint64) []byte {
	k := messageKeyPrefix(incarnation)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return append(k, b[:]...)
}

func encodeID(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

type qstore struct {
	logger *slog.Logger
	appCtx context.Context // cancellation signals the owner is about to Close() us
	db     *badger.DB

	// One mutex per queue name, created on demand and kept for the process
	// lifetime. Entries are never removed so two goroutines can never hold
	// different locks for the same name.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

var _ Store = &qstore{}

func New(config Config) (Store, error) {

	if err := os.MkdirAll(config.Directory, 0755); err != nil {
		return nil, &ErrInternal{Err: err}
	}

	db, err := badger.Open(
		badger.DefaultOptions(config.Directory).
			WithLogger(newLogger(config.Logger.WithGroup("badger"))),
	)
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}

	s := &qstore{
		logger: config.Logger.WithGroup("qstore"),
		appCtx: config.AppCtx,
		db:     db,
		locks:  make(map[string]*sync.Mutex),
	}

	if _, err := s.Create(DefaultQueue); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.sweepOrphans(); err != nil {
		s.logger.Warn("orphan sweep failed, leftover message data may linger", "error", err)
	}

	return s, nil
}

func (s *qstore) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing queue store", "error", err)
		return &ErrInternal{Err: err}
	}
	s.logger.Info("queue store closed")
	return nil
}

func (s *qstore) queueLock(name string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// incarnation resolves a queue name to its current incarnation uuid inside
// txn, translating absence into *ErrQueueNotFound.
func (s *qstore) incarnation(txn *badger.Txn, name string) (string, error) {
	item, err := txn.Get(queueKey(name))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", &ErrQueueNotFound{Queue: name}
		}
		return "", &ErrInternal{Err: err}
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", &ErrInternal{Err: err}
	}
	return string(val), nil
}

// nextID reads the global counter inside txn and returns the id the caller
// should assign. The caller must write the new value back in the same txn so
// the allocation commits or fails together with the message.
func (s *qstore) nextID(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get([]byte(lastIDKey))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 1, nil
		}
		return 0, &ErrInternal{Err: err}
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, &ErrInternal{Err: err}
	}
	if len(val) != 8 {
		return 0, &ErrDataCorruption{Key: lastIDKey, Reason: "counter value is not 8 bytes"}
	}
	return binary.BigEndian.Uint64(val) + 1, nil
}

func (s *qstore) Create(name string) (bool, error) {
	l := s.queueLock(name)
	l.Lock()
	defer l.Unlock()

	created := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(queueKey(name))
		if err == nil {
			return nil // already registered
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return &ErrInternal{Err: err}
		}
		if err := txn.Set(queueKey(name), []byte(uuid.NewString())); err != nil {
			return &ErrInternal{Err: err}
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *qstore) Delete(name string) (bool, error) {
	l := s.queueLock(name)
	l.Lock()
	defer l.Unlock()

	var incarnation string
	removed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(queueKey(name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil // already gone
			}
			return &ErrInternal{Err: err}
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		incarnation = string(val)
		if err := txn.Delete(queueKey(name)); err != nil {
			return &ErrInternal{Err: err}
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if removed && incarnation != "" {
		// Registry entry is gone so the old messages are already invisible.
		// Reclaim their space now; on failure the startup sweep gets them.
		if err := s.db.DropPrefix(messageKeyPrefix(incarnation)); err != nil {
			s.logger.Warn("could not drop messages of deleted queue", "queue", name, "error", err)
		}
	}
	return removed, nil
}

func (s *qstore) Exists(name string) (bool, error) {
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(queueKey(name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return &ErrInternal{Err: err}
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *qstore) List() ([]string, error) {
	names := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(queuePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			// badger iterates keys in ascending byte order, which is the
			// ordering List promises, so no extra sort is needed.
			names = append(names, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (s *qstore) Push(name string, payload []byte) (uint64, error) {
	l := s.queueLock(name)
	l.Lock()
	defer l.Unlock()

	for {
		var id uint64
		err := s.db.Update(func(txn *badger.Txn) error {
			incarnation, err := s.incarnation(txn, name)
			if err != nil {
				return err
			}
			next, err := s.nextID(txn)
			if err != nil {
				return err
			}
			if err := txn.Set(messageKey(incarnation, next), payload); err != nil {
				return &ErrInternal{Err: err}
			}
			if err := txn.Set([]byte(lastIDKey), encodeID(next)); err != nil {
				return &ErrInternal{Err: err}
			}
			id = next
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			// Pushes to other queues race us on the id counter. The queue
			// lock doesn't cover that, badger's conflict detection does.
			continue
		}
		if err != nil {
			return 0, err
		}
		return id, nil
	}
}

func (s *qstore) Pop(name string, n int) ([]Message, error) {
	l := s.queueLock(name)
	l.Lock()
	defer l.Unlock()

	var messages []Message
	err := s.db.Update(func(txn *badger.Txn) error {
		incarnation, err := s.incarnation(txn, name)
		if err != nil {
			return err
		}
		msgs, keys, err := s.collectOldest(txn, incarnation, n)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return &ErrInternal{Err: err}
			}
		}
		messages = msgs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *qstore) Peek(name string, n int) ([]Message, error) {
	var messages []Message
	err := s.db.View(func(txn *badger.Txn) error {
		incarnation, err := s.incarnation(txn, name)
		if err != nil {
			return err
		}
		msgs, _, err := s.collectOldest(txn, incarnation, n)
		if err != nil {
			return err
		}
		messages = msgs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *qstore) Count(name string) (uint64, error) {
	var count uint64
	err := s.db.View(func(txn *badger.Txn) error {
		incarnation, err := s.incarnation(txn, name)
		if err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := messageKeyPrefix(incarnation)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// collectOldest gathers up to n messages under the incarnation's prefix in
// key order, which is id order. The iterator is closed before returning so
// the caller is free to write to txn afterwards.
func (s *qstore) collectOldest(txn *badger.Txn, incarnation string, n int) ([]Message, [][]byte, error) {
	messages := []Message{}
	var keys [][]byte
	if n <= 0 {
		return messages, nil, nil
	}

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := messageKeyPrefix(incarnation)
	for it.Seek(prefix); it.ValidForPrefix(prefix) && len(messages) < n; it.Next() {
		item := it.Item()
		suffix := item.Key()[len(prefix):]
		if len(suffix) != 8 {
			return nil, nil, &ErrDataCorruption{Key: string(item.Key()), Reason: "message key id is not 8 bytes"}
		}
		payload, err := item.ValueCopy(nil)
		if err != nil {
			return nil, nil, &ErrInternal{Err: err}
		}
		messages = append(messages, Message{
			ID:      binary.BigEndian.Uint64(suffix),
			Payload: payload,
		})
		keys = append(keys, item.KeyCopy(nil))
	}
	return messages, keys, nil
}

// sweepOrphans drops message data whose incarnation uuid no longer appears in
// the queue registry. Runs once at open; interrupted deletes and crashes are
// the only way such data comes to exist.
func (s *qstore) sweepOrphans() error {
	live := make(map[string]struct{})
	dead := make(map[string]struct{})

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(queuePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return &ErrInternal{Err: err}
			}
			live[string(val)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(messagePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			parts := bytes.SplitN(it.Item().Key(), []byte("::"), 3)
			if len(parts) != 3 {
				continue
			}
			incarnation := string(parts[1])
			if _, ok := live[incarnation]; !ok {
				dead[incarnation] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for incarnation := range dead {
		if err := s.db.DropPrefix(messageKeyPrefix(incarnation)); err != nil {
			return &ErrInternal{Err: err}
		}
	}
	if len(dead) > 0 {
		s.logger.Info("swept orphaned queue data", "incarnations", len(dead))
	}
	return nil
}
