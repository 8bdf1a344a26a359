package statestore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Store 运行状态 KV（Badger）：kill switch、每日任务标记等跨进程状态。
// 决策/交易数据不在这里，统一在 learning store。
type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path          string
	InMemory      bool   // 测试用
	EncryptionKey []byte // 32 bytes；nil 表示不加密
	ReadOnly      bool
}

const (
	keyHalt         = "killswitch/halt"
	keyFeedbackDay  = "feedback/last_day"
	keyLastCycleFmt = "cycle/last/%s"
)

// HaltState 手动熔断状态
type HaltState struct {
	Halted bool      `json:"halted"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

func Open(opts OpenOptions) (*Store, error) {
	var bopts badger.Options
	switch {
	case opts.InMemory:
		bopts = badger.DefaultOptions("").WithInMemory(true)
	case strings.TrimSpace(opts.Path) == "":
		return nil, errors.New("statestore: path is required")
	default:
		bopts = badger.DefaultOptions(opts.Path).WithReadOnly(opts.ReadOnly)
	}
	bopts = bopts.WithLogger(nil)
	if len(opts.EncryptionKey) > 0 {
		// 加密需要 index cache
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("statestore: open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetString 读取；不存在时 found=false
func (s *Store) GetString(key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("statestore: not opened")
	}
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return "", false, errors.New("statestore: key is empty")
	}
	var (
		out   string
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, err
	}
	return out, found, nil
}

func (s *Store) SetString(key string, val string) error {
	if s == nil || s.db == nil {
		return errors.New("statestore: not opened")
	}
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return errors.New("statestore: key is empty")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, []byte(val))
	})
}

func (s *Store) Delete(key string) error {
	if s == nil || s.db == nil {
		return errors.New("statestore: not opened")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(strings.TrimSpace(key)))
	})
}

// Halt 打开 kill switch（持久化，重启后仍然生效）
func (s *Store) Halt(reason string, at time.Time) error {
	b, err := json.Marshal(HaltState{Halted: true, Reason: reason, At: at.UTC()})
	if err != nil {
		return err
	}
	return s.SetString(keyHalt, string(b))
}

// Resume 关闭 kill switch
func (s *Store) Resume() error {
	return s.Delete(keyHalt)
}

// HaltState 当前 kill switch 状态
func (s *Store) HaltState() (HaltState, error) {
	raw, ok, err := s.GetString(keyHalt)
	if err != nil || !ok {
		return HaltState{}, err
	}
	var st HaltState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return HaltState{}, fmt.Errorf("statestore: decode halt state: %w", err)
	}
	return st, nil
}

// FeedbackDay 最近一次 feedback 成功的日期（YYYY-MM-DD）
func (s *Store) FeedbackDay() (string, error) {
	v, _, err := s.GetString(keyFeedbackDay)
	return v, err
}

func (s *Store) SetFeedbackDay(day string) error {
	return s.SetString(keyFeedbackDay, day)
}

// LastCycle 某个时段最近一次周期开始时间
func (s *Store) LastCycle(window string) (time.Time, bool, error) {
	v, ok, err := s.GetString(fmt.Sprintf(keyLastCycleFmt, window))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

func (s *Store) SetLastCycle(window string, at time.Time) error {
	return s.SetString(fmt.Sprintf(keyLastCycleFmt, window), at.UTC().Format(time.RFC3339Nano))
}

// ParseKey 32 字节 hex；空串返回 nil
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("state key must be hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
	}
	return b, nil
}
