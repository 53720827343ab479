// Package pipeline 定义了分诊事件的后台处理流程。
package pipeline

import (
	"context"
	"fmt"

	"helpdesk-smart-go/internal/config"
	"helpdesk-smart-go/pkg/es"
	"helpdesk-smart-go/pkg/events"
	"helpdesk-smart-go/pkg/log"
)

// Processor 消费 Kafka 上的分诊事件并维护 Elasticsearch 分析索引。
// 索引对主流程是旁路：写入失败只影响分析检索，由消费者按重试策略处理。
type Processor struct {
	esCfg config.ElasticsearchConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(esCfg config.ElasticsearchConfig) *Processor {
	return &Processor{esCfg: esCfg}
}

// Process 处理单条分诊事件。
// 同一事件被重复投递时按文档 ID 覆盖写入，处理是幂等的。
func (p *Processor) Process(ctx context.Context, event events.TriageEvent) error {
	if event.Type != events.TypeClassified && event.Type != events.TypeResolved {
		log.Warnf("[Processor] 忽略未知类型的分诊事件: %s", event.Type)
		return nil
	}

	if err := es.IndexTriageEvent(ctx, p.esCfg.IndexName, event); err != nil {
		return fmt.Errorf("索引分诊事件失败 (type=%s, issue_id=%d): %w", event.Type, event.IssueID, err)
	}

	log.Infof("[Processor] 分诊事件已入索引, type: %s, issue_id: %d", event.Type, event.IssueID)
	return nil
}
