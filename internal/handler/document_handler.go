// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"fmt"
	"net/http"

	"zhiku-rag/internal/model"
	"zhiku-rag/internal/service"
	"zhiku-rag/pkg/log"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// DocumentHandler 负责处理所有与文档入库和文档信息相关的 API 请求。
type DocumentHandler struct {
	ingestService service.IngestService
	docService    service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(ingestService service.IngestService, docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{
		ingestService: ingestService,
		docService:    docService,
	}
}

// Upload 处理文档上传的请求。表单字段: tenant_id 与 file。
// 上传成功仅表示文档已保存并排队, 抽取与向量化由消费端异步完成。
func (h *DocumentHandler) Upload(c *gin.Context) {
	tenantID := c.PostForm("tenant_id")
	if err := model.ValidateTenantID(tenantID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未能获取上传的文件"})
		return
	}
	if fileHeader.Size <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "文件内容为空"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("Upload: 打开上传文件失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传文件失败"})
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	documentName, err := h.ingestService.UploadDocument(c.Request.Context(), tenantID, fileHeader.Filename, file, fileHeader.Size, contentType)
	if err != nil {
		if errors.Is(err, service.ErrDocumentTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("Upload: 文档上传失败, TenantID: %s, 文件: %s, err: %v", tenantID, fileHeader.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "文档上传失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       fmt.Sprintf("Document %s uploaded and queued for processing", documentName),
		"document_name": documentName,
		"tenant_id":     tenantID,
		"status":        "pending",
	})
}

// GetDocument 处理查询单个文档信息的请求, 返回文档行与切块数量。
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	docID := c.Param("doc_id")
	if docID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少文档 ID"})
		return
	}

	info, err := h.docService.GetDocument(c.Request.Context(), docID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
			return
		}
		log.Error("GetDocument: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取文档信息失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    info,
	})
}
