package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"zhiku-rag/pkg/log"
	"zhiku-rag/pkg/tasks"
)

// SearchWorker 消费检索主题, 对队列投递的查询执行检索增强生成。
// 查询结果与状态记录在 message 表中, 调用方通过查询接口读取。
type SearchWorker struct {
	answerer    QueryAnswerer
	chunksLimit int
}

// NewSearchWorker 创建一个新的 SearchWorker 实例。chunksLimit 为
// 异步查询路径的检索条数上限。
func NewSearchWorker(answerer QueryAnswerer, chunksLimit int) *SearchWorker {
	return &SearchWorker{
		answerer:    answerer,
		chunksLimit: chunksLimit,
	}
}

// Process 处理一条查询任务。检索不到内容属于既定结果而不是错误,
// 此时任务正常确认; 基础设施错误返回给队列按退避重投。
func (w *SearchWorker) Process(ctx context.Context, payload []byte) error {
	var task tasks.SearchTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("解析查询任务失败: %w", err)
	}
	if task.TenantID == "" {
		return errors.New("查询任务缺少 tenant_id")
	}
	if task.QueryID == "" {
		return errors.New("查询任务缺少 query_id")
	}
	if task.QueryText == "" {
		return errors.New("查询任务缺少 query_text")
	}
	log.Infof("[SearchWorker] 开始处理查询, TenantID: %s, QueryID: %s", task.TenantID, task.QueryID)

	result, err := w.answerer.AnswerQuery(ctx, task.TenantID, task.QueryID, task.QueryText, w.chunksLimit)
	if err != nil {
		log.Errorf("[SearchWorker] 查询处理失败, QueryID: %s, Error: %v", task.QueryID, err)
		return fmt.Errorf("查询处理失败: %w", err)
	}
	log.Infof("[SearchWorker] 查询处理完成, QueryID: %s, 引用切块 %d 条", task.QueryID, len(result.ListChunks))
	return nil
}
