// Package service 包含了应用的业务逻辑层。
package service

import "errors"

// 分诊流程的错误分类。所有错误都是可恢复的，由 handler 映射为对应的
// HTTP 状态码返回给调用方；只有 ErrStoreCorrupted 表示存储层约束被破坏，
// 需要人工介入排查。
var (
	// ErrInvalidInput 表示输入为空或非法，在任何写入发生之前被拒绝。
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound 表示引用了不存在的记录。
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyResolved 表示复核任务已被归类；归类是至多一次的动作，
	// 重复提交与并发竞争的失败方都会收到该错误，而不是被静默吞掉。
	ErrAlreadyResolved = errors.New("unknown query already resolved")
	// ErrClassifierUnavailable 表示分类服务调用失败或超时，本次分类未留下任何记录。
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrRetrainFailed 表示重训练失败，之前的模型版本保持有效。
	ErrRetrainFailed = errors.New("retrain failed")
	// ErrRetrainInProgress 表示已有一次重训练在执行，本次请求被直接拒绝而非排队。
	ErrRetrainInProgress = errors.New("retrain already in progress")
	// ErrStoreCorrupted 表示成对写入约束被破坏（Issue 与 UnknownQuery 不成对）。
	ErrStoreCorrupted = errors.New("triage store corrupted")
)
