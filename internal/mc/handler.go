package mc

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CreateRequestBody 是新建MC时的请求体
type CreateRequestBody struct {
	Name string `json:"name" binding:"required,max=100"`
}

// Handler 暴露MC的读取与创建接口
type Handler struct {
	db      *gorm.DB
	initial Aggregate
	log     logger.Logger
}

// NewHandler 创建处理器，initial 是新MC的零投票聚合结果
func NewHandler(db *gorm.DB, initial Aggregate, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{db: db, initial: initial, log: log}
}

// GetByID 处理 GET /mcs/:id
func (h *Handler) GetByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的MC ID: " + c.Param("id")})
		return
	}
	m, err := FindByID(c.Request.Context(), h.db, uint(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.log.Error(c.Request.Context(), "读取MC失败", logger.Uint("mc_id", uint(id)), logger.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "服务暂时不可用，请稍后重试"})
		return
	}
	c.JSON(http.StatusOK, m)
}

// Create 处理 POST /mcs
func (h *Handler) Create(c *gin.Context) {
	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	m, err := Create(c.Request.Context(), h.db, body.Name, h.initial)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, m)
	case errors.Is(err, ErrDuplicateName):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.Error(c.Request.Context(), "创建MC失败", logger.String("name", body.Name), logger.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "服务暂时不可用，请稍后重试"})
	}
}

// RegisterRoutes 在 group 下注册 /mcs 路由，写操作需要经过 admin 中间件
func (h *Handler) RegisterRoutes(group *gin.RouterGroup, admin gin.HandlerFunc) {
	mcs := group.Group("/mcs")
	{
		mcs.GET("/:id", h.GetByID)
		mcs.POST("", admin, h.Create)
	}
}
