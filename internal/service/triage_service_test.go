package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"helpdesk-smart-go/internal/config"
	"helpdesk-smart-go/internal/model"
	"helpdesk-smart-go/internal/repository"
	"helpdesk-smart-go/pkg/classifier"
	"helpdesk-smart-go/pkg/log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	config.Conf.Classifier.ConfidenceThreshold = 0.6
	os.Exit(m.Run())
}

// fakeClassifier 是 classifier.Client 的测试替身。
type fakeClassifier struct {
	pred          *classifier.Prediction
	classifyErr   error
	classifyCalls int

	retrainResult *classifier.RetrainResult
	retrainErr    error
	retrainCalls  int
	gotExamples   []classifier.Example

	artifact    []byte
	artifactErr error
}

func (f *fakeClassifier) Classify(ctx context.Context, query string, catalog []classifier.CatalogEntry) (*classifier.Prediction, error) {
	f.classifyCalls++
	if f.classifyErr != nil {
		return nil, f.classifyErr
	}
	return f.pred, nil
}

func (f *fakeClassifier) Retrain(ctx context.Context, examples []classifier.Example) (*classifier.RetrainResult, error) {
	f.retrainCalls++
	f.gotExamples = examples
	if f.retrainErr != nil {
		return nil, f.retrainErr
	}
	return f.retrainResult, nil
}

func (f *fakeClassifier) FetchArtifact(ctx context.Context, version string) (io.ReadCloser, error) {
	if f.artifactErr != nil {
		return nil, f.artifactErr
	}
	return io.NopCloser(bytes.NewReader(f.artifact)), nil
}

// memoryLease 是 repository.LeaseRepository 的进程内实现。
type memoryLease struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemoryLease() *memoryLease {
	return &memoryLease{held: map[string]bool{}}
}

func (l *memoryLease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memoryLease) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// memoryArtifactStore 是 storage.ArtifactStore 的进程内实现。
type memoryArtifactStore struct {
	objects map[string][]byte
	saveErr error
}

func newMemoryArtifactStore() *memoryArtifactStore {
	return &memoryArtifactStore{objects: map[string][]byte{}}
}

func (s *memoryArtifactStore) Save(ctx context.Context, version string, r io.Reader) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	objectName := fmt.Sprintf("models/%s.bin", version)
	s.objects[objectName] = data
	return objectName, nil
}

func (s *memoryArtifactStore) PresignedURL(objectName string, expiry time.Duration) (string, error) {
	if _, ok := s.objects[objectName]; !ok {
		return "", fmt.Errorf("object %s not found", objectName)
	}
	return "http://minio.test/" + objectName, nil
}

// triageFixture 组装一套完整的被测服务与其依赖。
type triageFixture struct {
	db    *gorm.DB
	svc   TriageService
	cls   *fakeClassifier
	lease *memoryLease
	store *memoryArtifactStore
	user  *model.User
}

func newTriageFixture(t *testing.T) *triageFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取底层连接失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&model.User{},
		&model.Product{},
		&model.Issue{},
		&model.UnknownQuery{},
		&model.ModelVersion{},
	); err != nil {
		t.Fatalf("建表失败: %v", err)
	}

	// 目录种子：编号即产品编码
	for _, name := range []string{"Printer", "Scanner", "Laptop"} {
		if err := db.Create(&model.Product{Name: name}).Error; err != nil {
			t.Fatalf("写入产品失败: %v", err)
		}
	}
	user := &model.User{Username: "alice", Password: "x", Role: "USER"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("写入用户失败: %v", err)
	}

	cls := &fakeClassifier{}
	lease := newMemoryLease()
	store := newMemoryArtifactStore()
	svc := NewTriageService(
		repository.NewIssueRepository(db),
		repository.NewUnknownQueryRepository(db),
		repository.NewProductRepository(db),
		repository.NewModelVersionRepository(db),
		lease,
		cls,
		store,
	)
	return &triageFixture{db: db, svc: svc, cls: cls, lease: lease, store: store, user: user}
}

func TestClassifyHighConfidence(t *testing.T) {
	f := newTriageFixture(t)
	f.cls.pred = &classifier.Prediction{
		ProductCode: 1,
		ProductName: "Printer",
		Response:    "This appears to be a Printer related issue",
		Confidence:  0.92,
	}

	result, err := f.svc.Classify(context.Background(), "my printer is jammed", f.user)
	if err != nil {
		t.Fatalf("Classify 失败: %v", err)
	}
	if result.IsUnanswered {
		t.Fatal("高置信度结果不应进入复核队列")
	}
	if result.Response != "This appears to be a Printer related issue" {
		t.Fatalf("回复不符: %q", result.Response)
	}
	if result.ProductCode == nil || *result.ProductCode != 1 {
		t.Fatalf("产品编码不符: %v", result.ProductCode)
	}

	var issue model.Issue
	if err := f.db.First(&issue, result.IssueID).Error; err != nil {
		t.Fatalf("问题记录未写入: %v", err)
	}
	if issue.IsUnanswered || issue.ConfidenceScore == nil || *issue.ConfidenceScore != 0.92 {
		t.Fatalf("问题记录字段不符: %+v", issue)
	}

	var unknownCount int64
	f.db.Model(&model.UnknownQuery{}).Count(&unknownCount)
	if unknownCount != 0 {
		t.Fatalf("不应产生复核任务, got %d", unknownCount)
	}
}

func TestClassifyLowConfidenceEntersReviewQueue(t *testing.T) {
	f := newTriageFixture(t)
	f.cls.pred = &classifier.Prediction{
		ProductCode: 2,
		ProductName: "Scanner",
		Response:    "This appears to be a Scanner related issue",
		Confidence:  0.31,
	}

	result, err := f.svc.Classify(context.Background(), "weird gadget makes noise", f.user)
	if err != nil {
		t.Fatalf("Classify 失败: %v", err)
	}
	if !result.IsUnanswered {
		t.Fatal("低置信度结果应进入复核队列")
	}
	if result.Response != unansweredReply {
		t.Fatalf("低置信度回复应为转人工提示, got %q", result.Response)
	}

	// 问题记录与复核任务成对写入
	var unknown model.UnknownQuery
	if err := f.db.Where("issue_id = ?", result.IssueID).First(&unknown).Error; err != nil {
		t.Fatalf("复核任务未写入: %v", err)
	}
	if unknown.Resolved {
		t.Fatal("新复核任务不应是已归类状态")
	}
	if unknown.Query != "weird gadget makes noise" || unknown.UserID != f.user.ID {
		t.Fatalf("复核任务字段不符: %+v", unknown)
	}

	var issue model.Issue
	if err := f.db.First(&issue, result.IssueID).Error; err != nil {
		t.Fatalf("查询问题记录失败: %v", err)
	}
	if !issue.IsUnanswered || issue.Response != "" {
		t.Fatalf("未回答的问题记录不应带回复: %+v", issue)
	}
}

func TestClassifyAtThresholdIsAnswered(t *testing.T) {
	f := newTriageFixture(t)
	// 阈值判定用严格小于，恰好等于阈值按自动回答处理
	f.cls.pred = &classifier.Prediction{
		ProductCode: 1,
		ProductName: "Printer",
		Confidence:  0.6,
	}

	result, err := f.svc.Classify(context.Background(), "printer says error 50", f.user)
	if err != nil {
		t.Fatalf("Classify 失败: %v", err)
	}
	if result.IsUnanswered {
		t.Fatal("置信度等于阈值时应按自动回答处理")
	}
	// 分类器未给出回复文本时回退到标准句式
	if result.Response != "This appears to be a Printer related issue" {
		t.Fatalf("回退回复不符: %q", result.Response)
	}
}

func TestClassifyRejectsEmptyQuery(t *testing.T) {
	f := newTriageFixture(t)

	for _, query := range []string{"", "   ", "\t\n"} {
		if _, err := f.svc.Classify(context.Background(), query, f.user); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("空问题 %q 应返回 ErrInvalidInput, got %v", query, err)
		}
	}
	if f.cls.classifyCalls != 0 {
		t.Fatal("空问题不应触发分类调用")
	}
}

func TestClassifyUnavailableLeavesNoRecords(t *testing.T) {
	f := newTriageFixture(t)
	f.cls.classifyErr = classifier.ErrUnavailable

	_, err := f.svc.Classify(context.Background(), "printer is on fire", f.user)
	if !errors.Is(err, ErrClassifierUnavailable) {
		t.Fatalf("期望 ErrClassifierUnavailable, got %v", err)
	}

	// 分类失败时不得留下任何记录
	var issueCount, unknownCount int64
	f.db.Model(&model.Issue{}).Count(&issueCount)
	f.db.Model(&model.UnknownQuery{}).Count(&unknownCount)
	if issueCount != 0 || unknownCount != 0 {
		t.Fatalf("分类失败不应写入记录: issues=%d unknown_queries=%d", issueCount, unknownCount)
	}
}

// classifyUnanswered 触发一次必然进入复核队列的分类，返回产生的复核任务。
func classifyUnanswered(t *testing.T, f *triageFixture, query string) *model.UnknownQuery {
	t.Helper()
	f.cls.pred = &classifier.Prediction{Confidence: 0.1}
	result, err := f.svc.Classify(context.Background(), query, f.user)
	if err != nil {
		t.Fatalf("Classify 失败: %v", err)
	}
	var unknown model.UnknownQuery
	if err := f.db.Where("issue_id = ?", result.IssueID).First(&unknown).Error; err != nil {
		t.Fatalf("复核任务未写入: %v", err)
	}
	return &unknown
}

func TestResolveUpdatesIssueAndShrinksQueue(t *testing.T) {
	f := newTriageFixture(t)
	unknown := classifyUnanswered(t, f, "scanner eats my documents")

	pending, err := f.svc.ListUnknownQueries(context.Background(), false)
	if err != nil {
		t.Fatalf("ListUnknownQueries 失败: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("期望 1 条待复核任务, got %d", len(pending))
	}

	// 回复命中产品目录时连同产品编码一起回写
	got, err := f.svc.Resolve(context.Background(), unknown.ID, "Scanner")
	if err != nil {
		t.Fatalf("Resolve 失败: %v", err)
	}
	if !got.Resolved || got.AdminResponse == nil || *got.AdminResponse != "Scanner" {
		t.Fatalf("归类结果不符: %+v", got)
	}

	var issue model.Issue
	if err := f.db.First(&issue, unknown.IssueID).Error; err != nil {
		t.Fatalf("查询问题记录失败: %v", err)
	}
	if issue.IsUnanswered || issue.Response != "Scanner" {
		t.Fatalf("问题记录未正确回写: %+v", issue)
	}
	if issue.ProductCode == nil || issue.ProductName != "Scanner" {
		t.Fatalf("产品信息未回写: %+v", issue)
	}

	pending, err = f.svc.ListUnknownQueries(context.Background(), false)
	if err != nil {
		t.Fatalf("ListUnknownQueries 失败: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("归类后待复核队列应为空, got %d", len(pending))
	}
}

func TestResolveErrorMapping(t *testing.T) {
	f := newTriageFixture(t)
	unknown := classifyUnanswered(t, f, "mystery box hums")

	if _, err := f.svc.Resolve(context.Background(), unknown.ID, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("空回复应返回 ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.Resolve(context.Background(), 9999, "Printer"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("不存在的任务应返回 ErrNotFound, got %v", err)
	}

	if _, err := f.svc.Resolve(context.Background(), unknown.ID, "Printer"); err != nil {
		t.Fatalf("首次归类失败: %v", err)
	}
	if _, err := f.svc.Resolve(context.Background(), unknown.ID, "Laptop"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("重复归类应返回 ErrAlreadyResolved, got %v", err)
	}
}

func TestResolveStoreCorrupted(t *testing.T) {
	f := newTriageFixture(t)

	// 绕过常规写入路径，制造成对约束被破坏的状态
	orphan := &model.UnknownQuery{IssueID: 9999, Query: "orphan", UserID: f.user.ID}
	if err := f.db.Create(orphan).Error; err != nil {
		t.Fatalf("写入测试数据失败: %v", err)
	}

	_, err := f.svc.Resolve(context.Background(), orphan.ID, "Printer")
	if !errors.Is(err, ErrStoreCorrupted) {
		t.Fatalf("期望 ErrStoreCorrupted, got %v", err)
	}
}

// resolveSamples 造出 n 条已归类的训练样本。
func resolveSamples(t *testing.T, f *triageFixture, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		unknown := classifyUnanswered(t, f, fmt.Sprintf("sample query %d", i))
		if _, err := f.svc.Resolve(context.Background(), unknown.ID, "Printer"); err != nil {
			t.Fatalf("归类样本失败: %v", err)
		}
	}
}

func TestRetrainSuccess(t *testing.T) {
	f := newTriageFixture(t)
	resolveSamples(t, f, 3)
	f.cls.retrainResult = &classifier.RetrainResult{ModelVersion: "v20260901-1", TrainedCount: 3}
	f.cls.artifact = []byte("model-bytes")

	outcome, err := f.svc.Retrain(context.Background())
	if err != nil {
		t.Fatalf("Retrain 失败: %v", err)
	}
	if outcome.ModelVersion != "v20260901-1" || outcome.TrainedCount != 3 {
		t.Fatalf("重训练结果不符: %+v", outcome)
	}
	if len(f.cls.gotExamples) != 3 {
		t.Fatalf("期望提交 3 条样本, got %d", len(f.cls.gotExamples))
	}
	for _, ex := range f.cls.gotExamples {
		if ex.Label != "Printer" {
			t.Fatalf("样本标签不符: %+v", ex)
		}
	}

	// 模型产物已留存，版本记录已落库
	if got := f.store.objects["models/v20260901-1.bin"]; !bytes.Equal(got, []byte("model-bytes")) {
		t.Fatalf("模型产物未留存: %q", got)
	}
	var mv model.ModelVersion
	if err := f.db.Where("version = ?", "v20260901-1").First(&mv).Error; err != nil {
		t.Fatalf("版本记录未写入: %v", err)
	}
	if mv.TrainedCount != 3 || mv.ArtifactObject != "models/v20260901-1.bin" {
		t.Fatalf("版本记录字段不符: %+v", mv)
	}

	// 租约已释放，可以立刻再训练一次
	f.cls.retrainResult = &classifier.RetrainResult{ModelVersion: "v20260901-2", TrainedCount: 3}
	if _, err := f.svc.Retrain(context.Background()); err != nil {
		t.Fatalf("第二次 Retrain 失败: %v", err)
	}
}

func TestRetrainWithoutSamplesFails(t *testing.T) {
	f := newTriageFixture(t)

	_, err := f.svc.Retrain(context.Background())
	if !errors.Is(err, ErrRetrainFailed) {
		t.Fatalf("没有样本时应返回 ErrRetrainFailed, got %v", err)
	}
	if f.cls.retrainCalls != 0 {
		t.Fatal("没有样本时不应触发训练调用")
	}
}

func TestRetrainRejectedWhileInProgress(t *testing.T) {
	f := newTriageFixture(t)
	resolveSamples(t, f, 1)

	// 模拟另一次训练正持有租约
	if ok, _ := f.lease.Acquire(context.Background(), retrainLeaseKey, time.Minute); !ok {
		t.Fatal("预置租约失败")
	}

	_, err := f.svc.Retrain(context.Background())
	if !errors.Is(err, ErrRetrainInProgress) {
		t.Fatalf("期望 ErrRetrainInProgress, got %v", err)
	}
	if f.cls.retrainCalls != 0 {
		t.Fatal("被拒绝的请求不应触发训练调用")
	}

	// 持有方结束后恢复可用
	_ = f.lease.Release(context.Background(), retrainLeaseKey)
	f.cls.retrainResult = &classifier.RetrainResult{ModelVersion: "v1", TrainedCount: 1}
	if _, err := f.svc.Retrain(context.Background()); err != nil {
		t.Fatalf("租约释放后 Retrain 失败: %v", err)
	}
}

func TestRetrainFailureKeepsPreviousVersion(t *testing.T) {
	f := newTriageFixture(t)
	resolveSamples(t, f, 2)

	// 先成功训练出一个版本
	f.cls.retrainResult = &classifier.RetrainResult{ModelVersion: "v1", TrainedCount: 2}
	if _, err := f.svc.Retrain(context.Background()); err != nil {
		t.Fatalf("Retrain 失败: %v", err)
	}

	// 第二次训练失败：不得产生新版本，v1 仍然是最新版本
	f.cls.retrainErr = errors.New("trainer exploded")
	_, err := f.svc.Retrain(context.Background())
	if !errors.Is(err, ErrRetrainFailed) {
		t.Fatalf("期望 ErrRetrainFailed, got %v", err)
	}

	var count int64
	f.db.Model(&model.ModelVersion{}).Count(&count)
	if count != 1 {
		t.Fatalf("失败的训练不应产生版本记录, got %d", count)
	}

	versions, err := f.svc.ListModelVersions(context.Background())
	if err != nil {
		t.Fatalf("ListModelVersions 失败: %v", err)
	}
	if len(versions) != 1 || versions[0].Version != "v1" {
		t.Fatalf("最新版本应仍为 v1: %+v", versions)
	}

	// 失败方也必须释放租约
	f.cls.retrainErr = nil
	f.cls.retrainResult = &classifier.RetrainResult{ModelVersion: "v2", TrainedCount: 2}
	if _, err := f.svc.Retrain(context.Background()); err != nil {
		t.Fatalf("失败后的重试不应被租约卡住: %v", err)
	}
}

func TestListModelVersionsCarriesDownloadURL(t *testing.T) {
	f := newTriageFixture(t)
	resolveSamples(t, f, 1)
	f.cls.retrainResult = &classifier.RetrainResult{ModelVersion: "v1", TrainedCount: 1}
	f.cls.artifact = []byte("bin")

	if _, err := f.svc.Retrain(context.Background()); err != nil {
		t.Fatalf("Retrain 失败: %v", err)
	}

	versions, err := f.svc.ListModelVersions(context.Background())
	if err != nil {
		t.Fatalf("ListModelVersions 失败: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("期望 1 个版本, got %d", len(versions))
	}
	if versions[0].DownloadURL != "http://minio.test/models/v1.bin" {
		t.Fatalf("下载链接不符: %q", versions[0].DownloadURL)
	}
}

func TestSearchIssuesPassesFilter(t *testing.T) {
	f := newTriageFixture(t)
	f.cls.pred = &classifier.Prediction{ProductCode: 1, ProductName: "Printer", Confidence: 0.9}
	if _, err := f.svc.Classify(context.Background(), "printer jam again", f.user); err != nil {
		t.Fatalf("Classify 失败: %v", err)
	}
	f.cls.pred = &classifier.Prediction{ProductCode: 3, ProductName: "Laptop", Confidence: 0.9}
	if _, err := f.svc.Classify(context.Background(), "laptop battery drains", f.user); err != nil {
		t.Fatalf("Classify 失败: %v", err)
	}

	query := "laptop"
	issues, err := f.svc.SearchIssues(context.Background(), repository.IssueFilter{Query: &query})
	if err != nil {
		t.Fatalf("SearchIssues 失败: %v", err)
	}
	if len(issues) != 1 || issues[0].ProductName != "Laptop" {
		t.Fatalf("过滤结果不符: %+v", issues)
	}
}
