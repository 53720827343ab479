// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"helpdesk-smart-go/internal/config"
	"helpdesk-smart-go/internal/model"
	"helpdesk-smart-go/internal/repository"
	"helpdesk-smart-go/pkg/classifier"
	"helpdesk-smart-go/pkg/events"
	"helpdesk-smart-go/pkg/kafka"
	"helpdesk-smart-go/pkg/log"
	"helpdesk-smart-go/pkg/storage"

	"gorm.io/gorm"
)

// retrainLeaseKey 是重训练互斥租约在 Redis 中的键。
const retrainLeaseKey = "retrain:inflight"

// unansweredReply 是置信度不足时返回给客户的占位回复。
// 问题记录本身的 response 字段保持为空，直到管理员归类。
const unansweredReply = "您的问题已转交人工处理，我们会尽快给出回复"

// ClassifyResult 是一次分类调用返回给调用方的结果。
type ClassifyResult struct {
	IssueID      uint    `json:"issueId"`
	Response     string  `json:"response"`
	ProductCode  *uint   `json:"productCode"`
	ProductName  string  `json:"productName"`
	Confidence   float64 `json:"confidence"`
	IsUnanswered bool    `json:"isUnanswered"`
}

// RetrainOutcome 是一次重训练的结果摘要。
type RetrainOutcome struct {
	Message      string `json:"message"`
	ModelVersion string `json:"modelVersion"`
	TrainedCount int    `json:"trainedCount"`
}

// ModelVersionItem 是模型版本列表的展示条目。
type ModelVersionItem struct {
	Version        string          `json:"version"`
	TrainedCount   int             `json:"trainedCount"`
	ArtifactObject string          `json:"artifactObject"`
	DownloadURL    string          `json:"downloadUrl,omitempty"`
	CreatedAt      model.LocalTime `json:"createdAt"`
}

// TriageService 接口定义了查询分诊与持续反馈闭环的全部业务操作。
type TriageService interface {
	// Classify 对客户问题分类并写入问题日志；置信度低于阈值时，
	// 问题记录与复核任务在同一事务中成对写入。
	Classify(ctx context.Context, query string, user *model.User) (*ClassifyResult, error)
	// SearchIssues 按条件检索问题日志。纯读操作。
	SearchIssues(ctx context.Context, filter repository.IssueFilter) ([]model.Issue, error)
	// ListUnknownQueries 按归类状态检索复核队列。
	ListUnknownQueries(ctx context.Context, resolved bool) ([]model.UnknownQuery, error)
	// Resolve 将一条待复核问题归类。Pending→Resolved 只能经由此操作发生一次。
	Resolve(ctx context.Context, id uint, adminResponse string) (*model.UnknownQuery, error)
	// Retrain 以已归类的样本重训练模型。同一时刻至多一次重训练在执行。
	Retrain(ctx context.Context) (*RetrainOutcome, error)
	// ListModelVersions 返回历次重训练产生的版本记录。
	ListModelVersions(ctx context.Context) ([]ModelVersionItem, error)
}

type triageService struct {
	issueRepo        repository.IssueRepository
	unknownRepo      repository.UnknownQueryRepository
	productRepo      repository.ProductRepository
	modelVersionRepo repository.ModelVersionRepository
	leaseRepo        repository.LeaseRepository
	classifierClient classifier.Client
	artifactStore    storage.ArtifactStore
}

// NewTriageService 创建一个新的 TriageService 实例。
func NewTriageService(
	issueRepo repository.IssueRepository,
	unknownRepo repository.UnknownQueryRepository,
	productRepo repository.ProductRepository,
	modelVersionRepo repository.ModelVersionRepository,
	leaseRepo repository.LeaseRepository,
	classifierClient classifier.Client,
	artifactStore storage.ArtifactStore,
) TriageService {
	return &triageService{
		issueRepo:        issueRepo,
		unknownRepo:      unknownRepo,
		productRepo:      productRepo,
		modelVersionRepo: modelVersionRepo,
		leaseRepo:        leaseRepo,
		classifierClient: classifierClient,
		artifactStore:    artifactStore,
	}
}

// Classify 协调一次完整的分类调用。
func (s *triageService) Classify(ctx context.Context, query string, user *model.User) (*ClassifyResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: 问题内容不能为空", ErrInvalidInput)
	}

	// 1. 读取当前产品目录作为候选类别
	products, err := s.productRepo.FindAll()
	if err != nil {
		return nil, fmt.Errorf("读取产品目录失败: %w", err)
	}
	catalog := make([]classifier.CatalogEntry, 0, len(products))
	for _, p := range products {
		catalog = append(catalog, classifier.CatalogEntry{ID: p.ID, Name: p.Name})
	}

	// 2. 调用分类服务。失败或超时都按不可用处理，不留下任何记录。
	pred, err := s.classifierClient.Classify(ctx, query, catalog)
	if err != nil {
		log.Errorf("[TriageService] 分类调用失败, user_id: %d, error: %v", user.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}

	// 3. 置信度与阈值比较，决定走自动回答还是人工复核
	threshold := config.Conf.Classifier.ConfidenceThreshold
	unanswered := pred.Confidence < threshold
	confidence := pred.Confidence

	issue := &model.Issue{
		UserID:          user.ID,
		Query:           query,
		ConfidenceScore: &confidence,
		IsUnanswered:    unanswered,
	}
	if pred.ProductCode != 0 {
		code := pred.ProductCode
		issue.ProductCode = &code
		issue.ProductName = pred.ProductName
	}

	var unknown *model.UnknownQuery
	if unanswered {
		// 复核任务与问题记录成对写入，回复留空待管理员填写
		unknown = &model.UnknownQuery{
			Query:  query,
			UserID: user.ID,
		}
	} else {
		issue.Response = pred.Response
		if issue.Response == "" {
			issue.Response = fmt.Sprintf("This appears to be a %s related issue", pred.ProductName)
		}
	}

	// 4. 原子写入
	if err := s.issueRepo.CreateWithUnknownQuery(issue, unknown); err != nil {
		return nil, fmt.Errorf("写入分诊记录失败: %w", err)
	}
	log.Infof("[TriageService] 分类完成, issue_id: %d, product: %s, confidence: %.3f, unanswered: %v",
		issue.ID, pred.ProductName, pred.Confidence, unanswered)

	// 5. 发布分诊事件。事件流只服务分析索引，失败不回滚主流程。
	event := events.TriageEvent{
		Type:        events.TypeClassified,
		IssueID:     issue.ID,
		UserID:      user.ID,
		Query:       query,
		Response:    issue.Response,
		ProductCode: issue.ProductCode,
		ProductName: issue.ProductName,
		Confidence:  &confidence,
		Unanswered:  unanswered,
		OccurredAt:  time.Now(),
	}
	if unknown != nil {
		event.UnknownQueryID = unknown.ID
	}
	if err := kafka.ProduceTriageEvent(event); err != nil {
		log.Warnf("[TriageService] 发布分诊事件失败, issue_id: %d, error: %v", issue.ID, err)
	}

	result := &ClassifyResult{
		IssueID:      issue.ID,
		Response:     issue.Response,
		ProductCode:  issue.ProductCode,
		ProductName:  issue.ProductName,
		Confidence:   pred.Confidence,
		IsUnanswered: unanswered,
	}
	if unanswered {
		result.Response = unansweredReply
	}
	return result, nil
}

// SearchIssues 按条件检索问题日志。
func (s *triageService) SearchIssues(ctx context.Context, filter repository.IssueFilter) ([]model.Issue, error) {
	return s.issueRepo.Search(filter)
}

// ListUnknownQueries 按归类状态检索复核队列。
func (s *triageService) ListUnknownQueries(ctx context.Context, resolved bool) ([]model.UnknownQuery, error) {
	return s.unknownRepo.FindByResolved(resolved)
}

// Resolve 将一条待复核问题归类，并把结果回写到关联的问题记录。
func (s *triageService) Resolve(ctx context.Context, id uint, adminResponse string) (*model.UnknownQuery, error) {
	adminResponse = strings.TrimSpace(adminResponse)
	if adminResponse == "" {
		return nil, fmt.Errorf("%w: 归类回复不能为空", ErrInvalidInput)
	}

	// 管理员的回复即类别名；若能在产品目录中命中，连同产品编码一起回写
	update := repository.ResolveUpdate{AdminResponse: adminResponse}
	if product, err := s.productRepo.FindByName(adminResponse); err == nil {
		update.ProductCode = &product.ID
		update.ProductName = product.Name
	}

	uq, err := s.unknownRepo.Resolve(id, update)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("%w: unknown_query_id=%d", ErrNotFound, id)
		case errors.Is(err, repository.ErrAlreadyResolved):
			return nil, fmt.Errorf("%w: unknown_query_id=%d", ErrAlreadyResolved, id)
		case errors.Is(err, repository.ErrIssueMissing):
			// 成对写入约束被破坏，属于致命的存储层异常
			log.Errorf("[TriageService] 存储层约束被破坏，需要人工介入: %v", err)
			return nil, fmt.Errorf("%w: %v", ErrStoreCorrupted, err)
		default:
			return nil, err
		}
	}
	log.Infof("[TriageService] 复核任务已归类, unknown_query_id: %d, issue_id: %d", uq.ID, uq.IssueID)

	event := events.TriageEvent{
		Type:           events.TypeResolved,
		IssueID:        uq.IssueID,
		UnknownQueryID: uq.ID,
		UserID:         uq.UserID,
		Query:          uq.Query,
		Response:       adminResponse,
		ProductCode:    update.ProductCode,
		ProductName:    update.ProductName,
		Unanswered:     false,
		OccurredAt:     time.Now(),
	}
	if err := kafka.ProduceTriageEvent(event); err != nil {
		log.Warnf("[TriageService] 发布归类事件失败, issue_id: %d, error: %v", uq.IssueID, err)
	}

	return uq, nil
}

// Retrain 收集已归类的样本并触发模型重训练。
// 重训练不持有任何分诊数据的锁，分类与归类操作在训练期间照常工作，
// 并继续使用之前发布的模型版本。
func (s *triageService) Retrain(ctx context.Context) (*RetrainOutcome, error) {
	// 1. 抢占互斥租约：同一时刻最多一次训练；租约带 TTL，训练进程
	// 崩溃后自动过期
	ttl := time.Duration(config.Conf.Classifier.RetrainTimeoutMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	acquired, err := s.leaseRepo.Acquire(ctx, retrainLeaseKey, ttl)
	if err != nil {
		return nil, fmt.Errorf("获取重训练租约失败: %w", err)
	}
	if !acquired {
		return nil, ErrRetrainInProgress
	}
	defer func() {
		if err := s.leaseRepo.Release(context.Background(), retrainLeaseKey); err != nil {
			log.Warnf("[TriageService] 释放重训练租约失败: %v", err)
		}
	}()

	// 2. 收集标注样本：所有已归类且带管理员回复的复核任务
	resolved, err := s.unknownRepo.FindResolvedWithResponse()
	if err != nil {
		return nil, fmt.Errorf("读取标注样本失败: %w", err)
	}
	examples := make([]classifier.Example, 0, len(resolved))
	for _, uq := range resolved {
		examples = append(examples, classifier.Example{
			Query: uq.Query,
			Label: *uq.AdminResponse,
		})
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("%w: 没有可用的标注样本", ErrRetrainFailed)
	}

	// 3. 调用训练接口。任何一步失败都不写版本记录，之前的模型保持有效。
	result, err := s.classifierClient.Retrain(ctx, examples)
	if err != nil {
		log.Errorf("[TriageService] 重训练失败, 样本数: %d, error: %v", len(examples), err)
		return nil, fmt.Errorf("%w: %v", ErrRetrainFailed, err)
	}

	// 4. 拉取模型产物并留存到对象存储，按版本号可寻址
	artifact, err := s.classifierClient.FetchArtifact(ctx, result.ModelVersion)
	if err != nil {
		log.Errorf("[TriageService] 拉取模型产物失败, version: %s, error: %v", result.ModelVersion, err)
		return nil, fmt.Errorf("%w: %v", ErrRetrainFailed, err)
	}
	defer artifact.Close()

	objectName, err := s.artifactStore.Save(ctx, result.ModelVersion, artifact)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrainFailed, err)
	}

	// 5. 落库版本记录，此后新版本即为有效分类模型
	mv := &model.ModelVersion{
		Version:        result.ModelVersion,
		TrainedCount:   result.TrainedCount,
		ArtifactObject: objectName,
	}
	if err := s.modelVersionRepo.Create(mv); err != nil {
		return nil, fmt.Errorf("%w: 写入版本记录失败: %v", ErrRetrainFailed, err)
	}

	log.Infof("[TriageService] 重训练完成, 版本: %s, 样本数: %d", result.ModelVersion, result.TrainedCount)
	return &RetrainOutcome{
		Message:      fmt.Sprintf("模型重训练完成，新版本 %s，训练样本 %d 条", result.ModelVersion, result.TrainedCount),
		ModelVersion: result.ModelVersion,
		TrainedCount: result.TrainedCount,
	}, nil
}

// ListModelVersions 返回历次重训练产生的版本记录。
func (s *triageService) ListModelVersions(ctx context.Context) ([]ModelVersionItem, error) {
	versions, err := s.modelVersionRepo.FindAll()
	if err != nil {
		return nil, err
	}
	items := make([]ModelVersionItem, 0, len(versions))
	for _, v := range versions {
		item := ModelVersionItem{
			Version:        v.Version,
			TrainedCount:   v.TrainedCount,
			ArtifactObject: v.ArtifactObject,
			CreatedAt:      model.LocalTime(v.CreatedAt),
		}
		// 下载链接按次生成，失败不影响列表本身
		if url, err := s.artifactStore.PresignedURL(v.ArtifactObject, time.Hour); err == nil {
			item.DownloadURL = url
		} else {
			log.Warnf("[TriageService] 生成模型下载链接失败, object: %s, error: %v", v.ArtifactObject, err)
		}
		items = append(items, item)
	}
	return items, nil
}
