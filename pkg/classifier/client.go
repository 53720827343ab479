// Package classifier provides a client for the model-serving sidecar.
// 分类模型对本服务是黑盒：这里只约定 classify 与 retrain 两个 HTTP 契约，
// 模型结构与训练算法由边车自行决定。
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"helpdesk-smart-go/internal/config"
	"helpdesk-smart-go/pkg/log"
)

// ErrUnavailable 表示分类服务无法完成调用（网络错误、超时或非 200 响应）。
// 调用方用 errors.Is 识别后按"分类器不可用"处理。
var ErrUnavailable = errors.New("classifier service unavailable")

// CatalogEntry 是传给分类服务的产品目录条目。
type CatalogEntry struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// Prediction 是一次分类调用的结果。
type Prediction struct {
	ProductCode uint    `json:"product_code"`
	ProductName string  `json:"product_name"`
	Response    string  `json:"response"`
	Confidence  float64 `json:"confidence"`
}

// Example 是一条标注样本：问题文本与人工确认的类别。
type Example struct {
	Query string `json:"query"`
	Label string `json:"label"`
}

// RetrainResult 是一次重训练调用的结果。
type RetrainResult struct {
	ModelVersion string `json:"model_version"`
	TrainedCount int    `json:"trained_count"`
}

// Client defines the interface for a classifier client.
type Client interface {
	// Classify 以产品目录为候选类别对问题文本分类。调用受配置的超时约束。
	Classify(ctx context.Context, query string, catalog []CatalogEntry) (*Prediction, error)
	// Retrain 以标注样本集重训练模型，成功后返回新的模型版本号。
	Retrain(ctx context.Context, examples []Example) (*RetrainResult, error)
	// FetchArtifact 按版本号拉取模型产物的二进制流，调用方负责关闭。
	FetchArtifact(ctx context.Context, version string) (io.ReadCloser, error)
}

type httpClient struct {
	cfg     config.ClassifierConfig
	client  *http.Client // 分类调用，带短超时
	trainer *http.Client // 训练调用，带长超时
}

// NewClient creates a new classifier client from the config.
func NewClient(cfg config.ClassifierConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	trainTimeout := time.Duration(cfg.RetrainTimeoutMinutes) * time.Minute
	if trainTimeout <= 0 {
		trainTimeout = 30 * time.Minute
	}
	return &httpClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		trainer: &http.Client{Timeout: trainTimeout},
	}
}

type classifyRequest struct {
	Model   string         `json:"model"`
	Query   string         `json:"query"`
	Catalog []CatalogEntry `json:"catalog"`
}

// Classify calls the sidecar's classify endpoint.
func (c *httpClient) Classify(ctx context.Context, query string, catalog []CatalogEntry) (*Prediction, error) {
	reqBody := classifyRequest{
		Model:   c.cfg.Model,
		Query:   query,
		Catalog: catalog,
	}

	var pred Prediction
	if err := c.post(ctx, c.client, "/classify", reqBody, &pred); err != nil {
		log.Errorf("[ClassifierClient] 分类调用失败, error: %v", err)
		return nil, err
	}
	return &pred, nil
}

type retrainRequest struct {
	Model    string    `json:"model"`
	Examples []Example `json:"examples"`
}

// Retrain calls the sidecar's train endpoint with the labeled example set.
func (c *httpClient) Retrain(ctx context.Context, examples []Example) (*RetrainResult, error) {
	log.Infof("[ClassifierClient] 开始重训练, model: %s, 样本数: %d", c.cfg.Model, len(examples))
	reqBody := retrainRequest{
		Model:    c.cfg.Model,
		Examples: examples,
	}

	var result RetrainResult
	if err := c.post(ctx, c.trainer, "/train", reqBody, &result); err != nil {
		log.Errorf("[ClassifierClient] 重训练调用失败, error: %v", err)
		return nil, err
	}
	if result.ModelVersion == "" {
		return nil, fmt.Errorf("%w: train api returned empty model version", ErrUnavailable)
	}
	log.Infof("[ClassifierClient] 重训练完成, 新版本: %s, 实际样本数: %d", result.ModelVersion, result.TrainedCount)
	return &result, nil
}

// FetchArtifact downloads the artifact stream for a trained model version.
func (c *httpClient) FetchArtifact(ctx context.Context, version string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/models/%s/artifact", c.cfg.BaseURL, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.trainer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: artifact api returned %s, body: %s", ErrUnavailable, resp.Status, string(bodyBytes))
	}
	return resp.Body, nil
}

// post 封装共用的请求编码、鉴权与响应解码逻辑。
func (c *httpClient) post(ctx context.Context, client *http.Client, path string, reqBody, respBody interface{}) error {
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: api returned %s, body: %s", ErrUnavailable, resp.Status, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
