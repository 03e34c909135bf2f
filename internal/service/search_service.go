package service

import (
	"context"
	"fmt"
	"strings"

	"zhiku-rag/internal/config"
	"zhiku-rag/internal/model"
	"zhiku-rag/internal/repository"
	"zhiku-rag/pkg/embedding"
	"zhiku-rag/pkg/llm"
	"zhiku-rag/pkg/log"
)

// NoRelevantInformation 是检索不到相关内容时返回给用户的固定回答。
const NoRelevantInformation = "There is no relevant information available."

// DefaultChunksLimit 是一次查询默认的检索条数上限。
const DefaultChunksLimit = 100

// SearchService 定义了检索增强生成的编排操作。每次查询对应一条 message
// 记录, 状态机为 pending → completed | failed, 终态不可变更。
type SearchService interface {
	// AnswerQuery 同步执行一次完整的查询应答流程并返回结果。
	AnswerQuery(ctx context.Context, tenantID, queryID, queryText string, chunksLimit int) (*model.QueryResult, error)
	// AnswerQueryStream 与 AnswerQuery 流程一致, 额外将每个生成的 token
	// 实时写入 forward。
	AnswerQueryStream(ctx context.Context, tenantID, queryID, queryText string, chunksLimit int, forward llm.MessageWriter) (*model.QueryResult, error)
	// GetResult 返回指定查询最新一次执行的 message 记录。
	GetResult(ctx context.Context, tenantID, queryID string) (*model.Message, error)
	// SearchChunks 只做向量检索, 不触发回答生成, 也不记录 message。
	SearchChunks(ctx context.Context, tenantID, queryID, queryText string, chunksLimit int) ([]model.ChunkQueryResult, error)
	// KeywordSearch 按关键词全文检索切块, 结果结构与向量检索一致。
	KeywordSearch(ctx context.Context, tenantID, queryID, keyword string, chunksLimit int) ([]model.ChunkQueryResult, error)
}

type searchService struct {
	embeddingClient embedding.Client
	llmClient       llm.Client
	chunkSearchRepo repository.ChunkSearchRepository
	messageRepo     repository.MessageRepository
	llmCfg          config.LLMConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(
	embeddingClient embedding.Client,
	llmClient llm.Client,
	chunkSearchRepo repository.ChunkSearchRepository,
	messageRepo repository.MessageRepository,
	llmCfg config.LLMConfig,
) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		llmClient:       llmClient,
		chunkSearchRepo: chunkSearchRepo,
		messageRepo:     messageRepo,
		llmCfg:          llmCfg,
	}
}

// AnswerQuery 同步执行一次查询应答。
func (s *searchService) AnswerQuery(ctx context.Context, tenantID, queryID, queryText string, chunksLimit int) (*model.QueryResult, error) {
	return s.answer(ctx, tenantID, queryID, queryText, chunksLimit, nil)
}

// AnswerQueryStream 执行同一套应答流程, 并把 token 实时转发给调用方。
func (s *searchService) AnswerQueryStream(ctx context.Context, tenantID, queryID, queryText string, chunksLimit int, forward llm.MessageWriter) (*model.QueryResult, error) {
	return s.answer(ctx, tenantID, queryID, queryText, chunksLimit, forward)
}

// answer 是查询应答的主流程。检索为空属于既定结果: message 落入 failed,
// 但返回值不是错误。其余任何步骤出错都把 message 标记为 failed 并上抛,
// 由调用方(队列或 HTTP 层)决定重试。
func (s *searchService) answer(ctx context.Context, tenantID, queryID, queryText string, chunksLimit int, forward llm.MessageWriter) (*model.QueryResult, error) {
	log.Infof("[SearchService] 开始处理查询, TenantID: %s, QueryID: %s, chunksLimit: %d", tenantID, queryID, chunksLimit)

	// 1. 创建 pending 状态的消息记录
	msg, err := s.messageRepo.CreateMessage(ctx, tenantID, queryID, queryText)
	if err != nil {
		return nil, fmt.Errorf("创建消息记录失败: %w", err)
	}
	log.Infof("[SearchService] 步骤1: 消息记录已创建, MessageID: %d", msg.ID)

	// 2. 查询文本向量化
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, queryText)
	if err != nil {
		return nil, s.fail(ctx, msg.ID, fmt.Errorf("查询向量化失败: %w", err))
	}
	log.Infof("[SearchService] 步骤2: 查询向量化完成, 维度: %d", len(queryVector))

	// 3. 按向量相似度检索切块
	results, err := s.chunkSearchRepo.SearchByVector(ctx, tenantID, queryID, queryVector, chunksLimit)
	if err != nil {
		return nil, s.fail(ctx, msg.ID, fmt.Errorf("切块检索失败: %w", err))
	}
	log.Infof("[SearchService] 步骤3: 检索完成, 命中 %d 条切块", len(results))

	// 4. 空检索是既定结果, 不是错误
	if len(results) == 0 {
		log.Warnf("[SearchService] 未检索到相关切块, QueryID: %s", queryID)
		if markErr := s.messageRepo.UpdateStatus(ctx, msg.ID, model.StatusFailed); markErr != nil {
			log.Errorf("[SearchService] 标记消息失败状态时出错, MessageID: %d, Error: %v", msg.ID, markErr)
		}
		return &model.QueryResult{
			Message:    NoRelevantInformation,
			ListChunks: []model.ChunkQueryResult{},
			QueryID:    queryID,
			Status:     "success",
		}, nil
	}

	// 5. 流式生成回答, token 边到边持久化
	messages := s.buildMessages(queryText, results)
	collector := newTokenCollector(ctx, s.messageRepo, msg.ID, forward)
	if err := s.llmClient.StreamChatMessages(ctx, messages, s.buildGenerationParams(), collector); err != nil {
		// 中断的流: 清掉已落库的部分 token 再标记失败
		if clearErr := s.messageRepo.ClearTokens(ctx, msg.ID); clearErr != nil {
			log.Errorf("[SearchService] 清理部分 token 失败, MessageID: %d, Error: %v", msg.ID, clearErr)
		}
		return nil, s.fail(ctx, msg.ID, fmt.Errorf("回答生成失败: %w", err))
	}
	answer := collector.Answer()
	log.Infof("[SearchService] 步骤5: 回答生成完成, 共 %d 个 token", collector.Count())

	// 6. 持久化最终回答
	if err := s.messageRepo.CompleteMessage(ctx, msg.ID, answer); err != nil {
		return nil, s.fail(ctx, msg.ID, fmt.Errorf("持久化回答失败: %w", err))
	}

	// 7. 哨兵回答视为成功但不挂接引用切块
	if answer == NoRelevantInformation {
		log.Infof("[SearchService] 模型判定无相关信息, QueryID: %s", queryID)
		return &model.QueryResult{
			Message:    answer,
			ListChunks: []model.ChunkQueryResult{},
			QueryID:    queryID,
			Status:     "success",
		}, nil
	}
	if err := s.messageRepo.AddChunksToMessage(ctx, msg.ID, results); err != nil {
		// 回答已经完成并落库, 引用关系写失败只记录不上抛
		log.Errorf("[SearchService] 挂接引用切块失败, MessageID: %d, Error: %v", msg.ID, err)
	}

	log.Infof("[SearchService] 查询处理完成, QueryID: %s, 引用切块 %d 条", queryID, len(results))
	return &model.QueryResult{
		Message:    answer,
		ListChunks: results,
		QueryID:    queryID,
		Status:     "success",
	}, nil
}

// GetResult 返回指定查询最新一次执行的消息记录。
func (s *searchService) GetResult(ctx context.Context, tenantID, queryID string) (*model.Message, error) {
	return s.messageRepo.GetLatestByQueryID(ctx, tenantID, queryID)
}

// SearchChunks 只执行向量化与检索两步, 供纯检索接口使用。
func (s *searchService) SearchChunks(ctx context.Context, tenantID, queryID, queryText string, chunksLimit int) ([]model.ChunkQueryResult, error) {
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}
	return s.chunkSearchRepo.SearchByVector(ctx, tenantID, queryID, queryVector, chunksLimit)
}

// KeywordSearch 按关键词检索切块, 不经过向量化。
func (s *searchService) KeywordSearch(ctx context.Context, tenantID, queryID, keyword string, chunksLimit int) ([]model.ChunkQueryResult, error) {
	return s.chunkSearchRepo.SearchByKeyword(ctx, tenantID, queryID, keyword, chunksLimit)
}

// fail 把消息标记为 failed 并原样返回导致失败的错误。标记动作只在
// 这里发生一次, 避免同一条消息被重复转移状态。
func (s *searchService) fail(ctx context.Context, messageID uint, err error) error {
	if markErr := s.messageRepo.UpdateStatus(ctx, messageID, model.StatusFailed); markErr != nil {
		log.Errorf("[SearchService] 标记消息失败状态时出错, MessageID: %d, Error: %v", messageID, markErr)
	}
	return err
}

// buildMessages 把检索到的切块拼成上下文, 连同查询一起构造对话消息。
// 切块文本以空行分隔, 包裹在配置的引用标记之间。
func (s *searchService) buildMessages(queryText string, results []model.ChunkQueryResult) []llm.Message {
	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, r.Chunk.ChunkText)
	}
	contextText := strings.Join(texts, "\n\n")

	refStart := s.llmCfg.Prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.llmCfg.Prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sys strings.Builder
	if rules := s.llmCfg.Prompt.Rules; rules != "" {
		sys.WriteString(rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")
	sys.WriteString(contextText)
	sys.WriteString("\n")
	sys.WriteString(refEnd)

	return []llm.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: queryText},
	}
}

func (s *searchService) buildGenerationParams() *llm.GenerationParams {
	var gp llm.GenerationParams
	if s.llmCfg.Generation.Temperature != 0 {
		t := s.llmCfg.Generation.Temperature
		gp.Temperature = &t
	}
	if s.llmCfg.Generation.TopP != 0 {
		p := s.llmCfg.Generation.TopP
		gp.TopP = &p
	}
	if s.llmCfg.Generation.MaxTokens != 0 {
		m := s.llmCfg.Generation.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}

// tokenCollector 实现 llm.MessageWriter: 逐个 token 追加到 result_token
// 表并累积完整回答, 可选地把 token 转发给下游(如 websocket 连接)。
// 持久化失败会中断整个流。
type tokenCollector struct {
	ctx       context.Context
	repo      repository.MessageRepository
	messageID uint
	builder   strings.Builder
	count     int
	forward   llm.MessageWriter
}

func newTokenCollector(ctx context.Context, repo repository.MessageRepository, messageID uint, forward llm.MessageWriter) *tokenCollector {
	return &tokenCollector{
		ctx:       ctx,
		repo:      repo,
		messageID: messageID,
		forward:   forward,
	}
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (c *tokenCollector) WriteMessage(messageType int, data []byte) error {
	if err := c.repo.InsertResultToken(c.ctx, c.messageID, c.count, string(data)); err != nil {
		return fmt.Errorf("持久化回答 token 失败: %w", err)
	}
	c.count++
	c.builder.Write(data)
	if c.forward != nil {
		if err := c.forward.WriteMessage(messageType, data); err != nil {
			return fmt.Errorf("下发回答 token 失败: %w", err)
		}
	}
	return nil
}

// Answer 返回目前收到的全部 token 拼成的回答。
func (c *tokenCollector) Answer() string {
	return c.builder.String()
}

// Count 返回已收到的 token 数量。
func (c *tokenCollector) Count() int {
	return c.count
}
