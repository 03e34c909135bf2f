// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"zhiku-rag/internal/model"
	"zhiku-rag/internal/service"
	"zhiku-rag/pkg/log"
	"zhiku-rag/pkg/token"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理所有管理接口的 API 请求。
type AdminHandler struct {
	docService service.DocumentService
	jwtManager *token.JWTManager
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(docService service.DocumentService, jwtManager *token.JWTManager) *AdminHandler {
	return &AdminHandler{
		docService: docService,
		jwtManager: jwtManager,
	}
}

// DeleteDocument 处理删除文档的请求, 级联清理关系行与索引切块。
// 文档不存在时同样返回成功, 删除是幂等的。
func (h *AdminHandler) DeleteDocument(c *gin.Context) {
	docID := c.Param("doc_id")
	if docID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少文档 ID", "data": nil})
		return
	}

	if err := h.docService.DeleteDocument(c.Request.Context(), docID); err != nil {
		log.Error("DeleteDocument: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除文档失败: " + err.Error(), "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "文档删除成功", "data": nil})
}

// CleanTenantRequest 定义了清空租户数据 API 的请求体结构。
type CleanTenantRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
}

// CleanTenant 处理清空整个租户数据的请求。
func (h *AdminHandler) CleanTenant(c *gin.Context) {
	var req CleanTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("CleanTenant: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}
	if err := model.ValidateTenantID(req.TenantID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	}

	if err := h.docService.CleanTenant(c.Request.Context(), req.TenantID); err != nil {
		log.Error("CleanTenant: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "清空租户数据失败: " + err.Error(), "data": nil})
		return
	}

	log.Infof("租户数据已清空, TenantID: %s", req.TenantID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "租户数据清空完成", "data": nil})
}

// ServiceTokenRequest 定义了签发服务凭证 API 的请求体结构。
type ServiceTokenRequest struct {
	Service  string `json:"service" binding:"required"`
	TenantID string `json:"tenant_id" binding:"required"`
}

// GenerateServiceToken 为指定的调用方服务签发一个租户范围的 JWT。
// 仅在公共接口开启鉴权时有意义。
func (h *AdminHandler) GenerateServiceToken(c *gin.Context) {
	var req ServiceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}
	if err := model.ValidateTenantID(req.TenantID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	}

	tokenString, err := h.jwtManager.GenerateToken(req.Service, req.TenantID)
	if err != nil {
		log.Error("GenerateServiceToken: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "签发服务凭证失败", "data": nil})
		return
	}

	log.Infof("已为服务 '%s' 签发租户 '%s' 的凭证", req.Service, req.TenantID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"token": tokenString}})
}
