package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound 路径不存在（或值为 null）
var ErrNotFound = fmt.Errorf("coordination: path not found")

// Store 多机器人共享协调库。
// 所有路径相对于库根（如 "strategy/lastBot"、"bots/bot1/stats"）。
// 写入语义是 last-write-wins：两个机器人同时写同一路径时后写覆盖先写，
// 轮转令牌的读-改-写窗口没有事务保护，调用方要能容忍偶发的同窗口双写。
type Store interface {
	// Get 读取路径上的 JSON 值到 out。路径不存在返回 ErrNotFound。
	Get(ctx context.Context, path string, out interface{}) error
	// Set 覆盖写路径上的 JSON 值
	Set(ctx context.Context, path string, value interface{}) error
	// Push 向路径下追加一个带生成 key 的子节点，返回生成的 key
	Push(ctx context.Context, path string, value interface{}) (string, error)
}

// MemoryStore 内存实现，测试与单机仿真用
type MemoryStore struct {
	mu    sync.Mutex
	nodes map[string]json.RawMessage
}

// NewMemoryStore 创建内存协调库
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]json.RawMessage),
	}
}

// Get 读取值。精确路径没有值时按 RTDB 语义把子路径拼装成一棵子树返回，
// 这样父路径读取（如 GlobalStats 的 "<root>/bots"）与远端库行为一致。
func (s *MemoryStore) Get(ctx context.Context, path string, out interface{}) error {
	s.mu.Lock()
	raw, ok := s.nodes[path]
	if !ok {
		raw, ok = s.subtreeLocked(path)
	}
	s.mu.Unlock()
	if !ok || len(raw) == 0 {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

// subtreeLocked 把 path/ 前缀下的所有叶子节点拼成嵌套 JSON 对象
func (s *MemoryStore) subtreeLocked(path string) (json.RawMessage, bool) {
	prefix := path + "/"
	tree := make(map[string]interface{})
	found := false
	for key, raw := range s.nodes {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		found = true
		segs := strings.Split(key[len(prefix):], "/")
		node := tree
		for _, seg := range segs[:len(segs)-1] {
			child, ok := node[seg].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				node[seg] = child
			}
			node = child
		}
		node[segs[len(segs)-1]] = raw
	}
	if !found {
		return nil, false
	}
	b, err := json.Marshal(tree)
	if err != nil {
		return nil, false
	}
	return b, true
}

// Set 覆盖写
func (s *MemoryStore) Set(ctx context.Context, path string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.nodes[path] = b
	s.mu.Unlock()
	return nil
}

// Push 追加子节点
func (s *MemoryStore) Push(ctx context.Context, path string, value interface{}) (string, error) {
	key := uuid.NewString()
	if err := s.Set(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}
