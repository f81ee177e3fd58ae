package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/xibot/xibot/pkg/logger"
)

// Service 持久化服务接口
type Service interface {
	NewStore(botID, tag string) Store
}

// Store 存储接口
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
}

// ErrNotExists 表示数据不存在
var ErrNotExists = fmt.Errorf("persistence data not exists")

// JSONFileService 基于 JSON 文件的持久化服务
// 用于保存机器人重启后需要恢复的状态快照（成本价、运行统计、调度截止时间等）
type JSONFileService struct {
	baseDir string
}

// NewJSONFileService 创建 JSON 文件持久化服务
func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{
		baseDir: baseDir,
	}
}

// NewStore 创建新的存储
func (s *JSONFileService) NewStore(botID, tag string) Store {
	return &JSONFileStore{
		service: s,
		key:     fmt.Sprintf("xibot:%s:%s", botID, tag),
	}
}

// JSONFileStore JSON 文件存储实现
type JSONFileStore struct {
	service *JSONFileService
	key     string
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *JSONFileStore) filePath() string {
	// key 形如 "xibot:<botID>:<tag>"，这里做文件名安全化
	safe := keySanitizer.ReplaceAllString(s.key, "_")
	return filepath.Join(s.service.baseDir, safe+".json")
}

// Save 保存数据（先写临时文件再改名，避免半写状态）
func (s *JSONFileStore) Save(data interface{}) error {
	logger.Debugf("[persistence] Save: key=%s", s.key)
	if err := os.MkdirAll(s.service.baseDir, 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	path := s.filePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load 加载数据
func (s *JSONFileStore) Load(data interface{}) error {
	logger.Debugf("[persistence] Load: key=%s", s.key)
	path := s.filePath()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(b, data)
}

// MemoryService 内存持久化服务，测试用
type MemoryService struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryService 创建内存持久化服务
func NewMemoryService() *MemoryService {
	return &MemoryService{
		blobs: make(map[string][]byte),
	}
}

// NewStore 创建新的存储
func (s *MemoryService) NewStore(botID, tag string) Store {
	return &memoryStore{
		service: s,
		key:     fmt.Sprintf("xibot:%s:%s", botID, tag),
	}
}

type memoryStore struct {
	service *MemoryService
	key     string
}

func (s *memoryStore) Save(data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.service.mu.Lock()
	defer s.service.mu.Unlock()
	s.service.blobs[s.key] = b
	return nil
}

func (s *memoryStore) Load(data interface{}) error {
	s.service.mu.Lock()
	b, ok := s.service.blobs[s.key]
	s.service.mu.Unlock()
	if !ok || len(b) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(b, data)
}
