// Package prefs 提供持久化的键值偏好存储（提交语义）
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

var prefsLog = logrus.WithField("component", "prefs")

// ErrNotExists 表示偏好文件不存在
var ErrNotExists = fmt.Errorf("prefs data not exists")

// Preferences 键值偏好存储
// 读取只看已提交的数据；写入通过 Editor 批量提交，提交要么全部生效要么全部不生效
type Preferences interface {
	GetString(key, def string) string
	GetBool(key string, def bool) bool
	GetInt64(key string, def int64) int64
	GetFloat64(key string, def float64) float64
	Contains(key string) bool
	Edit() Editor
}

// Editor 一次批量修改
type Editor interface {
	PutString(key, value string) Editor
	PutBool(key string, value bool) Editor
	PutInt64(key string, value int64) Editor
	PutFloat64(key string, value float64) Editor
	Remove(key string) Editor
	Commit() error
}

// Store 基于 JSON 文件的偏好存储；path 为空时只保存在内存中
type Store struct {
	mu     sync.RWMutex
	path   string
	values map[string]json.RawMessage
}

var _ Preferences = (*Store)(nil)

// NewMemory 创建只在内存中的偏好存储（测试或无持久化场景）
func NewMemory() *Store {
	return &Store{values: make(map[string]json.RawMessage)}
}

// Open 打开（或创建）偏好文件
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: make(map[string]json.RawMessage)}
	if err := s.load(); err != nil && err != ErrNotExists {
		return nil, fmt.Errorf("加载偏好文件失败 %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	prefsLog.Debugf("[prefs] Load: path=%s", s.path)
	return json.Unmarshal(b, &s.values)
}

// save 写临时文件再 rename，保证文件内容不会半写
func (s *Store) save(values map[string]json.RawMessage) error {
	if s.path == "" {
		return nil
	}
	prefsLog.Debugf("[prefs] Save: path=%s keys=%d", s.path, len(values))
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) get(key string, out any) bool {
	s.mu.RLock()
	raw, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		prefsLog.Warnf("⚠️ 偏好值类型不匹配: key=%s err=%v", key, err)
		return false
	}
	return true
}

func (s *Store) GetString(key, def string) string {
	var v string
	if s.get(key, &v) {
		return v
	}
	return def
}

func (s *Store) GetBool(key string, def bool) bool {
	var v bool
	if s.get(key, &v) {
		return v
	}
	return def
}

func (s *Store) GetInt64(key string, def int64) int64 {
	var v int64
	if s.get(key, &v) {
		return v
	}
	return def
}

func (s *Store) GetFloat64(key string, def float64) float64 {
	var v float64
	if s.get(key, &v) {
		return v
	}
	return def
}

func (s *Store) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// Edit 开始一次批量修改
func (s *Store) Edit() Editor {
	return &editor{store: s, puts: make(map[string]any)}
}

type editor struct {
	store   *Store
	puts    map[string]any
	removes []string
}

func (e *editor) put(key string, value any) Editor {
	e.puts[key] = value
	return e
}

func (e *editor) PutString(key, value string) Editor { return e.put(key, value) }

func (e *editor) PutBool(key string, value bool) Editor { return e.put(key, value) }

func (e *editor) PutInt64(key string, value int64) Editor { return e.put(key, value) }

func (e *editor) PutFloat64(key string, value float64) Editor { return e.put(key, value) }

func (e *editor) Remove(key string) Editor {
	delete(e.puts, key)
	e.removes = append(e.removes, key)
	return e
}

// Commit 先写盘再替换内存，失败时内存保持不变
func (e *editor) Commit() error {
	s := e.store
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]json.RawMessage, len(s.values)+len(e.puts))
	for k, v := range s.values {
		next[k] = v
	}
	for _, k := range e.removes {
		delete(next, k)
	}
	for k, v := range e.puts {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("序列化偏好值失败 key=%s: %w", k, err)
		}
		next[k] = raw
	}

	if err := s.save(next); err != nil {
		return fmt.Errorf("保存偏好失败: %w", err)
	}
	s.values = next
	return nil
}
