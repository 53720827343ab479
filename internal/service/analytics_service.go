// Package service 提供了分析检索相关的业务逻辑。
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"helpdesk-smart-go/internal/config"
	"helpdesk-smart-go/pkg/events"
	"helpdesk-smart-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// AnalyticsHit 是分析索引的一条命中结果。
type AnalyticsHit struct {
	Event events.TriageEvent `json:"event"`
	Score float64            `json:"score"`
}

// AnalyticsService 接口定义了面向管理员的分诊事件检索。
// 权威数据始终在 MySQL 的问题日志中；这里的索引由 Kafka 消费者异步维护，
// 只用于全文检索与趋势观察，不参与任何正确性判断。
type AnalyticsService interface {
	SearchEvents(ctx context.Context, query string, unansweredOnly bool, size int) ([]AnalyticsHit, error)
}

type analyticsService struct {
	esClient *elasticsearch.Client
	esCfg    config.ElasticsearchConfig
}

// NewAnalyticsService 创建一个新的 AnalyticsService 实例。
func NewAnalyticsService(esClient *elasticsearch.Client, esCfg config.ElasticsearchConfig) AnalyticsService {
	return &analyticsService{
		esClient: esClient,
		esCfg:    esCfg,
	}
}

// SearchEvents 在分诊事件索引上执行全文检索。
func (s *analyticsService) SearchEvents(ctx context.Context, query string, unansweredOnly bool, size int) ([]AnalyticsHit, error) {
	if size <= 0 || size > 100 {
		size = 20
	}

	// 构建查询：问题与回复文本上做 match，必要时叠加未回答过滤
	must := make([]map[string]interface{}, 0, 2)
	if query != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"query", "response"},
			},
		})
	}
	if unansweredOnly {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"unanswered": true},
		})
	}

	esQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": must,
			},
		},
		"sort": []map[string]interface{}{
			{"occurred_at": map[string]interface{}{"order": "desc"}},
		},
		"size": size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.esCfg.IndexName),
		s.esClient.Search.WithBody(&buf),
		s.esClient.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		log.Errorf("[AnalyticsService] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[AnalyticsService] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.String())
	}

	// 解析结果
	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64            `json:"_score"`
				Source events.TriageEvent `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]AnalyticsHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, AnalyticsHit{Event: h.Source, Score: h.Score})
	}
	return hits, nil
}
