package service

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// 批次执行策略
const (
	// 串行：上一条完整跑完（提交 + 终态）再发下一条，给配额严的后端用
	StrategySequential = "sequential"
	// 并行：全部条目各自起协程提交并轮询，总耗时约等于最慢一条
	StrategyParallel = "parallel"
)

// BatchItem 一条生成请求。Run 负责提交外部任务、等到终态并把
// 结果立即落库——一条失败绝不能挡住其他条目的结果持久化。
type BatchItem struct {
	ID  string
	Run func(ctx context.Context) error
}

type BatchOutcome struct {
	ItemID string
	Err    error
}

// RunBatch 执行一批生成请求，返回每条的结局。
// 所有条目到达终态后才返回，这是阶段收尾迁移的唯一 join 点；
// 条目失败只记录，不中断批次。空批次在起飞前就报错。
func RunBatch(ctx context.Context, items []BatchItem, strategy string) ([]BatchOutcome, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: batch has no eligible items", ErrValidation)
	}

	outcomes := make([]BatchOutcome, len(items))

	switch strategy {
	case StrategyParallel:
		var wg sync.WaitGroup
		wg.Add(len(items))
		for i := range items {
			go func(i int) {
				defer wg.Done()
				item := items[i]
				err := item.Run(ctx)
				if err != nil {
					log.Printf("[Batch] item %s failed: %v", item.ID, err)
				}
				outcomes[i] = BatchOutcome{ItemID: item.ID, Err: err}
			}(i)
		}
		wg.Wait()
	default:
		for i, item := range items {
			err := item.Run(ctx)
			if err != nil {
				log.Printf("[Batch] item %s failed: %v", item.ID, err)
			}
			outcomes[i] = BatchOutcome{ItemID: item.ID, Err: err}
		}
	}
	return outcomes, nil
}

// CountOutcomes 统计成功/失败条数
func CountOutcomes(outcomes []BatchOutcome) (succeeded, failed int) {
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	return
}
