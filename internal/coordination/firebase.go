package coordination

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// FirebaseStore Firebase RTDB 的 REST 实现。
// 每个路径映射到 "<base>/<path>.json"，GET 读、PUT 覆盖写、POST 追加。
// RTDB 对不存在的路径返回 200 + 字面量 null。
type FirebaseStore struct {
	client    *resty.Client
	authToken string
}

// NewFirebaseStore 创建 Firebase 协调库客户端
func NewFirebaseStore(baseURL, authToken string) *FirebaseStore {
	baseURL = strings.TrimSuffix(baseURL, "/")

	// resty 自动从环境变量读取代理配置
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(8 * time.Second)

	return &FirebaseStore{
		client:    client,
		authToken: authToken,
	}
}

func (s *FirebaseStore) newRequest(ctx context.Context) *resty.Request {
	r := s.client.R().SetContext(ctx)
	if s.authToken != "" {
		r.SetQueryParam("auth", s.authToken)
	}
	return r
}

// Get 读取路径上的值
func (s *FirebaseStore) Get(ctx context.Context, path string, out interface{}) error {
	resp, err := s.newRequest(ctx).Get("/" + path + ".json")
	if err != nil {
		return errors.Wrapf(err, "firebase get %s", path)
	}
	if !resp.IsSuccess() {
		return errors.Errorf("firebase get %s: http %d: %s", path, resp.StatusCode(), resp.String())
	}
	body := resp.Body()
	if len(body) == 0 || string(body) == "null" {
		return ErrNotFound
	}
	return json.Unmarshal(body, out)
}

// Set 覆盖写路径上的值
func (s *FirebaseStore) Set(ctx context.Context, path string, value interface{}) error {
	resp, err := s.newRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(value).
		Put("/" + path + ".json")
	if err != nil {
		return errors.Wrapf(err, "firebase set %s", path)
	}
	if !resp.IsSuccess() {
		return errors.Errorf("firebase set %s: http %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}

// Push 追加子节点，返回 RTDB 生成的 key
func (s *FirebaseStore) Push(ctx context.Context, path string, value interface{}) (string, error) {
	var result struct {
		Name string `json:"name"`
	}
	resp, err := s.newRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(value).
		SetResult(&result).
		Post("/" + path + ".json")
	if err != nil {
		return "", errors.Wrapf(err, "firebase push %s", path)
	}
	if !resp.IsSuccess() {
		return "", errors.Errorf("firebase push %s: http %d: %s", path, resp.StatusCode(), resp.String())
	}
	return result.Name, nil
}
