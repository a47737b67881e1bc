// Package feast 封装 Feast 在线特征服务，用作候选热度等数值特征的可选来源。
package feast

import (
	"context"
	"time"
)

// Client 是 Feast 在线特征客户端接口。
type Client interface {
	// GetOnlineFeatures 获取在线特征
	//
	//   - Features: 形如 "drop_stats:popularity" 的特征引用
	//   - EntityRows: 实体行，例如 [{"drop_id": "d1"}]
	//
	// 返回的 FeatureVectors 与 EntityRows 一一对应；缺失值不出现在 Values 中。
	GetOnlineFeatures(ctx context.Context, req *GetOnlineFeaturesRequest) (*GetOnlineFeaturesResponse, error)

	Close() error
}

// GetOnlineFeaturesRequest 获取在线特征请求
type GetOnlineFeaturesRequest struct {
	Features   []string
	EntityRows []map[string]any
	// Project 为空时使用客户端默认项目
	Project string
}

// GetOnlineFeaturesResponse 获取在线特征响应
type GetOnlineFeaturesResponse struct {
	FeatureVectors []FeatureVector
}

// FeatureVector 是单个实体的特征值。
type FeatureVector struct {
	Values    map[string]float64
	EntityRow map[string]any
}

// ClientConfig 客户端配置
type ClientConfig struct {
	Endpoint string
	Project  string
	Timeout  time.Duration
	// Token 非空时使用静态 Token 认证
	Token string
	TLS   bool
}

// ClientOption 客户端配置选项
type ClientOption func(*ClientConfig)

// WithTimeout 设置单次请求超时。
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithToken 使用静态 Token 认证。
func WithToken(token string, tls bool) ClientOption {
	return func(c *ClientConfig) {
		c.Token = token
		c.TLS = tls
	}
}
