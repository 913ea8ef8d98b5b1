package service

import "errors"

// 对外暴露的失败类别。handler 用 errors.Is 映射成 HTTP 状态码。
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid pipeline state")
	ErrBackendFailure    = errors.New("generation backend failure")
	ErrValidation        = errors.New("validation failure")
	ErrNoEligibleContent = errors.New("no eligible content")
	// 同一项目同一阶段已有批次在跑
	ErrStageRunning = errors.New("stage already running")
)
