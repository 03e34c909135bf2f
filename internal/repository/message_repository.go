package repository

import (
	"context"
	"fmt"

	"zhiku-rag/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 定义了查询消息及其结果附属表的数据操作接口。
type MessageRepository interface {
	CreateMessage(ctx context.Context, tenantID, queryID, queryText string) (*model.Message, error)
	UpdateStatus(ctx context.Context, messageID uint, status string) error
	CompleteMessage(ctx context.Context, messageID uint, result string) error
	AddChunksToMessage(ctx context.Context, messageID uint, chunks []model.ChunkQueryResult) error
	InsertResultToken(ctx context.Context, messageID uint, tokenNumber int, tokenText string) error
	GetTokensByMessageID(ctx context.Context, messageID uint) ([]string, error)
	ClearTokens(ctx context.Context, messageID uint) error
	GetLatestByQueryID(ctx context.Context, tenantID, queryID string) (*model.Message, error)
	GetChunkIDsByMessageID(ctx context.Context, messageID uint) ([]string, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// CreateMessage 以 pending 状态登记一次查询。同一 query_id 允许多条记录,
// 重试总是插入新行而不是复用旧的终态行。
func (r *messageRepository) CreateMessage(ctx context.Context, tenantID, queryID, queryText string) (*model.Message, error) {
	msg := &model.Message{
		TenantID:  tenantID,
		QueryID:   queryID,
		QueryText: queryText,
		Status:    model.StatusPending,
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("创建查询消息失败: %w", err)
	}
	return msg, nil
}

// UpdateStatus 更新消息状态。
func (r *messageRepository) UpdateStatus(ctx context.Context, messageID uint, status string) error {
	return r.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", messageID).
		Update("status", status).Error
}

// CompleteMessage 写入最终回答并把状态置为 completed。
func (r *messageRepository) CompleteMessage(ctx context.Context, messageID uint, result string) error {
	return r.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]any{
			"result": result,
			"status": model.StatusCompleted,
		}).Error
}

// AddChunksToMessage 记录回答引用的切块。
func (r *messageRepository) AddChunksToMessage(ctx context.Context, messageID uint, chunks []model.ChunkQueryResult) error {
	if len(chunks) == 0 {
		return nil
	}
	links := make([]model.ChunkMessage, 0, len(chunks))
	for _, c := range chunks {
		links = append(links, model.ChunkMessage{
			MessageID: messageID,
			ChunkID:   c.Chunk.ID,
		})
	}
	return r.db.WithContext(ctx).CreateInBatches(links, 100).Error
}

// InsertResultToken 持久化流式回答的一个增量片段。
func (r *messageRepository) InsertResultToken(ctx context.Context, messageID uint, tokenNumber int, tokenText string) error {
	return r.db.WithContext(ctx).Create(&model.ResultToken{
		MessageID:   messageID,
		TokenNumber: tokenNumber,
		TokenText:   tokenText,
	}).Error
}

// GetTokensByMessageID 按片段序号升序取回一条消息的全部增量片段。
func (r *messageRepository) GetTokensByMessageID(ctx context.Context, messageID uint) ([]string, error) {
	var tokens []string
	err := r.db.WithContext(ctx).Model(&model.ResultToken{}).
		Where("fk_message_id = ?", messageID).
		Order("token_number").
		Pluck("token_text", &tokens).Error
	return tokens, err
}

// ClearTokens 删除一条消息的全部增量片段。
func (r *messageRepository) ClearTokens(ctx context.Context, messageID uint) error {
	return r.db.WithContext(ctx).Where("fk_message_id = ?", messageID).Delete(&model.ResultToken{}).Error
}

// GetLatestByQueryID 取回某租户某 query_id 的最新一条消息。
func (r *messageRepository) GetLatestByQueryID(ctx context.Context, tenantID, queryID string) (*model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND query_id = ?", tenantID, queryID).
		Order("id DESC").
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetChunkIDsByMessageID 取回一条消息引用的全部切块标识。
func (r *messageRepository) GetChunkIDsByMessageID(ctx context.Context, messageID uint) ([]string, error) {
	var chunkIDs []string
	err := r.db.WithContext(ctx).Model(&model.ChunkMessage{}).
		Where("fk_message_id = ?", messageID).
		Pluck("fk_document_chunk_id", &chunkIDs).Error
	return chunkIDs, err
}
