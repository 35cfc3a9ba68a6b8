// Package genstore 持久化单次生成尝试的生命周期，
// 进程重启后可检测到未完成的尝试并提供续作。
package genstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status 生成尝试的状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
)

// Record 一次用户可见的生成尝试
type Record struct {
	ID     string          `json:"id"`
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
	Status Status          `json:"status"`
	// Progress 0-100 的估算进度，单次尝试内单调不减
	Progress int `json:"progress"`
	// PartialContent 目前累积的原始文本，失败后保留以支持续作提示
	PartialContent string          `json:"partial_content,omitempty"`
	ResultPayload  json.RawMessage `json:"result_payload,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Incomplete 记录是否处于可续作状态
func (r *Record) Incomplete() bool {
	return r.Status == StatusPending || r.Status == StatusStreaming || r.Status == StatusFailed
}

// Store 按 kind 每次至多保留一条活动记录的持久化存储。
// 底层是单个 JSON 文件，每次变更原子重写。
type Store struct {
	path string

	mu sync.Mutex
	// byKind 每个 kind 至多一条记录
	byKind map[string]*Record
}

// Open 打开（或创建）存储文件
func Open(path string) (*Store, error) {
	s := &Store{
		path:   path,
		byKind: make(map[string]*Record),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Start 开始一次新尝试，顶掉同 kind 的旧记录，返回记录 ID
func (s *Store) Start(kind string, params any) (string, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal params: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rec := &Record{
		ID:        uuid.New().String(),
		Kind:      kind,
		Params:    paramsJSON,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byKind[kind] = rec

	if err := s.persist(); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// UpdateProgress 流式阶段的增量更新。记录已被顶掉时静默忽略。
// 进度只增不减，终态记录不再回退到 streaming。
func (s *Store) UpdateProgress(id string, progress int, partialContent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.findLocked(id)
	if rec == nil {
		return nil
	}
	if rec.Status == StatusComplete || rec.Status == StatusFailed {
		return nil
	}

	rec.Status = StatusStreaming
	if progress > rec.Progress {
		rec.Progress = progress
	}
	rec.PartialContent = partialContent
	rec.UpdatedAt = time.Now().UTC()

	return s.persist()
}

// Complete 终态：成功
func (s *Store) Complete(id string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.findLocked(id)
	if rec == nil {
		return nil
	}
	rec.Status = StatusComplete
	rec.Progress = 100
	rec.ResultPayload = payload
	rec.UpdatedAt = time.Now().UTC()

	return s.persist()
}

// Fail 终态：失败。保留 PartialContent 以便续作提示。
func (s *Store) Fail(id string, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.findLocked(id)
	if rec == nil {
		return nil
	}
	rec.Status = StatusFailed
	rec.ErrorMessage = errorMessage
	rec.UpdatedAt = time.Now().UTC()

	return s.persist()
}

// GetIncomplete 返回该 kind 下可续作的记录，没有则返回 nil
func (s *Store) GetIncomplete(kind string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKind[kind]
	if !ok || !rec.Incomplete() {
		return nil
	}
	clone := *rec
	return &clone
}

// Get 按 ID 返回记录副本
func (s *Store) Get(id string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.findLocked(id)
	if rec == nil {
		return nil
	}
	clone := *rec
	return &clone
}

// Clear 丢弃该 kind 的记录
func (s *Store) Clear(kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKind[kind]; !ok {
		return nil
	}
	delete(s.byKind, kind)
	return s.persist()
}

// Remove 按 ID 丢弃记录
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for kind, rec := range s.byKind {
		if rec.ID == id {
			delete(s.byKind, kind)
			return s.persist()
		}
	}
	return nil
}

func (s *Store) findLocked(id string) *Record {
	for _, rec := range s.byKind {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

// load 从磁盘恢复
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read store file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var records map[string]*Record
	if err := json.Unmarshal(data, &records); err != nil {
		// 损坏的存储文件不阻塞启动，从空状态开始
		return nil
	}
	s.byKind = records
	return nil
}

// persist 原子重写存储文件（写临时文件后 rename）
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.byKind, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}
