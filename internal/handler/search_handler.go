package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"zhiku-rag/internal/model"
	"zhiku-rag/internal/service"
	"zhiku-rag/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// SearchHandler 结构体定义了查询应答相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// QueryRequest 定义了查询应答 API 的请求体结构。
type QueryRequest struct {
	TenantID    string `json:"tenant_id" binding:"required"`
	QueryID     string `json:"query_id" binding:"required"`
	QueryText   string `json:"query_text" binding:"required,min=1,max=1000"`
	ChunksLimit int    `json:"chunks_limit" binding:"omitempty,min=1,max=1000"`
}

// Query 同步执行一次查询应答, 返回回答文本与引用的切块。
func (h *SearchHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[SearchHandler] 查询请求负载无效: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	if err := model.ValidateTenantID(req.TenantID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := req.ChunksLimit
	if limit <= 0 {
		limit = service.DefaultChunksLimit
	}
	log.Infof("[SearchHandler] 收到查询请求, TenantID: %s, QueryID: %s", req.TenantID, req.QueryID)

	result, err := h.searchService.AnswerQuery(c.Request.Context(), req.TenantID, req.QueryID, req.QueryText, limit)
	if err != nil {
		log.Errorf("[SearchHandler] 查询应答失败, QueryID: %s, error: %v", req.QueryID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询处理失败"})
		return
	}

	log.Infof("[SearchHandler] 查询应答完成, QueryID: %s, 引用切块 %d 条", req.QueryID, len(result.ListChunks))
	c.JSON(http.StatusOK, result)
}

// GetResult 返回某个查询最近一次执行的消息记录, 供调用方轮询或审计。
func (h *SearchHandler) GetResult(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	queryID := c.Query("query_id")
	if tenantID == "" || queryID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 tenant_id 或 query_id 参数"})
		return
	}

	msg, err := h.searchService.GetResult(c.Request.Context(), tenantID, queryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "未找到该查询的执行记录"})
			return
		}
		log.Errorf("[SearchHandler] 获取查询结果失败, QueryID: %s, error: %v", queryID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取查询结果失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    msg,
	})
}

// ChunksRequest 定义了切块检索 API 的请求体结构。
// Mode 为 keyword 时按关键词全文检索, 默认按向量相似度检索。
type ChunksRequest struct {
	TenantID    string `json:"tenant_id" binding:"required"`
	QueryID     string `json:"query_id" binding:"required"`
	QueryText   string `json:"query_text" binding:"required,min=1,max=1000"`
	Mode        string `json:"mode" binding:"omitempty,oneof=vector keyword"`
	ChunksLimit int    `json:"chunks_limit" binding:"omitempty,min=1,max=1000"`
}

// SearchChunks 只做切块检索, 不触发回答生成。
func (h *SearchHandler) SearchChunks(c *gin.Context) {
	var req ChunksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[SearchHandler] 切块检索请求负载无效: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	if err := model.ValidateTenantID(req.TenantID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := req.ChunksLimit
	if limit <= 0 {
		limit = service.DefaultChunksLimit
	}

	var (
		results []model.ChunkQueryResult
		err     error
	)
	if req.Mode == "keyword" {
		results, err = h.searchService.KeywordSearch(c.Request.Context(), req.TenantID, req.QueryID, req.QueryText, limit)
	} else {
		results, err = h.searchService.SearchChunks(c.Request.Context(), req.TenantID, req.QueryID, req.QueryText, limit)
	}
	if err != nil {
		log.Errorf("[SearchHandler] 切块检索失败, QueryID: %s, error: %v", req.QueryID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "切块检索失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    results,
	})
}

// Stream 处理一个传入的 WebSocket 连接。客户端每发送一条查询请求,
// 服务端将回答 token 逐条下发, 结束后补发一条 completion 帧。
func (h *SearchHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立, 来源: %s", c.ClientIP())

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var req QueryRequest
		if err := json.Unmarshal(message, &req); err != nil {
			h.writeStreamError(conn, "无效的查询请求")
			continue
		}
		if req.TenantID == "" || req.QueryID == "" || req.QueryText == "" {
			h.writeStreamError(conn, "tenant_id、query_id 与 query_text 均不能为空")
			continue
		}
		limit := req.ChunksLimit
		if limit <= 0 {
			limit = service.DefaultChunksLimit
		}

		result, err := h.searchService.AnswerQueryStream(c.Request.Context(), req.TenantID, req.QueryID, req.QueryText, limit, conn)
		if err != nil {
			log.Errorf("处理流式应答失败, QueryID: %s, error: %v", req.QueryID, err)
			h.writeStreamError(conn, "查询服务暂时不可用，请稍后重试")
			h.sendCompletion(conn, nil)
			break
		}
		h.sendCompletion(conn, result)
	}
}

// writeStreamError 以统一的 JSON 格式向连接回发一条错误。
func (h *SearchHandler) writeStreamError(conn *websocket.Conn, message string) {
	b, _ := json.Marshal(map[string]string{"error": message})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

// sendCompletion 在一次流式应答结束后向连接补发 completion 帧,
// 帧内携带本次查询的完整结果。
func (h *SearchHandler) sendCompletion(conn *websocket.Conn, result *model.QueryResult) {
	resp := map[string]any{
		"type":      "completion",
		"status":    "finished",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	if result != nil {
		resp["result"] = result
	}
	b, _ := json.Marshal(resp)
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
