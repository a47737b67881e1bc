package feast

import (
	"context"
	"fmt"
	"math"
	"time"

	feastsdk "github.com/feast-dev/feast/sdk/go"
)

// GrpcClient 是基于官方 Feast Go SDK 的 gRPC 客户端实现。
type GrpcClient struct {
	client  *feastsdk.GrpcClient
	project string
	timeout time.Duration

	// Endpoint 服务端点（用于日志）
	Endpoint string
}

// NewGrpcClient 创建 Feast gRPC 客户端。port 为 0 时使用默认端口 6565。
func NewGrpcClient(host string, port int, project string, opts ...ClientOption) (*GrpcClient, error) {
	if port == 0 {
		port = 6565
	}
	config := &ClientConfig{
		Endpoint: fmt.Sprintf("%s:%d", host, port),
		Project:  project,
		Timeout:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(config)
	}

	var (
		client *feastsdk.GrpcClient
		err    error
	)
	if config.Token != "" {
		client, err = feastsdk.NewSecureGrpcClient(host, port, feastsdk.SecurityConfig{
			EnableTLS:  config.TLS,
			Credential: feastsdk.NewStaticCredential(config.Token),
		})
	} else {
		client, err = feastsdk.NewGrpcClient(host, port)
	}
	if err != nil {
		return nil, fmt.Errorf("创建 Feast gRPC 客户端失败: %w", err)
	}

	return &GrpcClient{
		client:   client,
		project:  project,
		timeout:  config.Timeout,
		Endpoint: config.Endpoint,
	}, nil
}

// GetOnlineFeatures 获取在线特征（实现 Client 接口）。
// 仅支持数值特征；缺失值以 NaN 填充后剔除。
func (c *GrpcClient) GetOnlineFeatures(ctx context.Context, req *GetOnlineFeaturesRequest) (*GetOnlineFeaturesResponse, error) {
	if len(req.Features) == 0 {
		return nil, fmt.Errorf("features are required")
	}
	if len(req.EntityRows) == 0 {
		return &GetOnlineFeaturesResponse{}, nil
	}
	project := req.Project
	if project == "" {
		project = c.project
	}
	if project == "" {
		return nil, fmt.Errorf("project is required")
	}

	entityRows := make([]feastsdk.Row, len(req.EntityRows))
	for i, row := range req.EntityRows {
		entityRow := make(feastsdk.Row, len(row))
		for k, v := range row {
			setEntityValue(entityRow, k, v)
		}
		entityRows[i] = entityRow
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	sdkResp, err := c.client.GetOnlineFeatures(ctx, &feastsdk.OnlineFeaturesRequest{
		Features: req.Features,
		Entities: entityRows,
		Project:  project,
	})
	if err != nil {
		return nil, fmt.Errorf("feast get online features failed: %w", err)
	}

	fillNa := make([]float64, len(req.Features))
	for i := range fillNa {
		fillNa[i] = math.NaN()
	}
	arrays, err := sdkResp.Float64Arrays(req.Features, fillNa)
	if err != nil {
		return nil, fmt.Errorf("feast decode features: %w", err)
	}
	if len(arrays) != len(req.EntityRows) {
		return nil, fmt.Errorf("response row count mismatch: expected %d, got %d", len(req.EntityRows), len(arrays))
	}

	vectors := make([]FeatureVector, len(arrays))
	for i, arr := range arrays {
		values := make(map[string]float64, len(arr))
		for j, name := range req.Features {
			if j < len(arr) && !math.IsNaN(arr[j]) {
				values[name] = arr[j]
			}
		}
		vectors[i] = FeatureVector{Values: values, EntityRow: req.EntityRows[i]}
	}
	return &GetOnlineFeaturesResponse{FeatureVectors: vectors}, nil
}

// Close 关闭客户端连接（实现 Client 接口）
func (c *GrpcClient) Close() error {
	if c.client == nil {
		return nil
	}
	// SDK 的连接由 gRPC 库管理
	c.client = nil
	return nil
}

func setEntityValue(row feastsdk.Row, k string, v any) {
	switch val := v.(type) {
	case string:
		row[k] = feastsdk.StrVal(val)
	case int:
		row[k] = feastsdk.Int64Val(int64(val))
	case int64:
		row[k] = feastsdk.Int64Val(val)
	case int32:
		row[k] = feastsdk.Int64Val(int64(val))
	case float64:
		row[k] = feastsdk.DoubleVal(val)
	case float32:
		row[k] = feastsdk.FloatVal(val)
	case bool:
		row[k] = feastsdk.BoolVal(val)
	case []byte:
		row[k] = feastsdk.BytesVal(val)
	default:
		row[k] = feastsdk.StrVal(fmt.Sprintf("%v", val))
	}
}

var _ Client = (*GrpcClient)(nil)
