package service

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ScriptToVideo-server/config"

	"github.com/hibiken/asynq"
)

const (
	TypePipelineTask = "pipeline:stage"
)

type TaskPayload struct {
	TaskID string `json:"task_id"`
}

var QueueClient *asynq.Client

// InitQueue 初始化
func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// EnqueueTask 阶段任务入队。触发请求的同步部分到这里为止，
// 后续所有外部后端调用都在消费者协程里进行。
func EnqueueTask(taskID string) error {
	payload, err := json.Marshal(TaskPayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypePipelineTask, payload,
		asynq.MaxRetry(0),             // 阶段自己管失败记录，不靠队列重试
		asynq.Timeout(30*time.Minute), // 批量生成很慢，留足超时
		asynq.Retention(24*time.Hour), // 任务结果在 Redis 保留时间
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[Queue] Task Enqueued: ID=%s, TaskID=%s", info.ID, taskID)
	return nil
}
