package vote

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/SlpAus/mcbattle-ranking-backend/internal/user"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// VoteRequestBody 定义了提交投票时请求体的JSON结构。
// 评分必须是整数，小数会在绑定阶段被拒绝。
type VoteRequestBody struct {
	Rhyme      *int `json:"rhyme" binding:"required"`
	Vibes      *int `json:"vibes" binding:"required"`
	Flow       *int `json:"flow" binding:"required"`
	Dialogue   *int `json:"dialogue" binding:"required"`
	Musicality *int `json:"musicality" binding:"required"`
}

func (b VoteRequestBody) scores() Scores {
	return Scores{
		Rhyme:      *b.Rhyme,
		Vibes:      *b.Vibes,
		Flow:       *b.Flow,
		Dialogue:   *b.Dialogue,
		Musicality: *b.Musicality,
	}
}

// Handler 暴露投票与排行榜相关的HTTP接口
type Handler struct {
	service *Service
	log     logger.Logger
}

// NewHandler 创建处理器
func NewHandler(service *Service, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{service: service, log: log}
}

// statusFor 把业务错误映射为HTTP状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAlreadyVoted):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	// 存储层细节不暴露给客户端
	if status == http.StatusServiceUnavailable || status == http.StatusInternalServerError {
		msg = ErrStorage.Error()
	}
	c.JSON(status, gin.H{"error": msg})
}

func parseMCID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的MC ID: " + c.Param("id")})
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidInput("%s 必须是整数: %s", name, raw)
	}
	return n, nil
}

// CastVote 处理 POST /rankings/:id/votes
func (h *Handler) CastVote(c *gin.Context) {
	mcID, ok := parseMCID(c)
	if !ok {
		return
	}

	var body VoteRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}

	updated, err := h.service.CastVote(c.Request.Context(), mcID, user.ViewerID(c), body.scores())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// ListRankings 处理 GET /rankings?sortKey=&page=&pageSize=
func (h *Handler) ListRankings(c *gin.Context) {
	page, err := queryInt(c, "page")
	if err != nil {
		writeError(c, err)
		return
	}
	size, err := queryInt(c, "pageSize")
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := h.service.ListRankings(c.Request.Context(), RankingQuery{
		SortKey:  c.Query("sortKey"),
		Page:     page,
		PageSize: size,
		ViewerID: user.ViewerID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// MyVote 处理 GET /rankings/:id/votes/me
func (h *Handler) MyVote(c *gin.Context) {
	mcID, ok := parseMCID(c)
	if !ok {
		return
	}
	v, err := h.service.MyVote(c.Request.Context(), mcID, user.ViewerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Reset 处理 POST /rankings/reset
func (h *Handler) Reset(c *gin.Context) {
	result, err := h.service.Reset(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	h.log.Info(c.Request.Context(), "管理员重置了排行榜", logger.String("admin", user.ViewerID(c)))
	c.JSON(http.StatusOK, result)
}

// Rebuild 处理 POST /rankings/rebuild
func (h *Handler) Rebuild(c *gin.Context) {
	n, err := h.service.Rebuild(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rebuilt": n})
}

// Audit 处理 GET /rankings/audit
func (h *Handler) Audit(c *gin.Context) {
	a, err := h.service.Audit(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// RegisterRoutes 在 group 下注册 /rankings 路由。
// limiter 可以为 nil；group 上应已挂载身份解析中间件。
func (h *Handler) RegisterRoutes(group *gin.RouterGroup, limiter *IPLimiter) {
	rankings := group.Group("/rankings")
	{
		rankings.GET("", h.ListRankings)
		rankings.POST("/:id/votes", user.RequireUser(), limiter.Middleware(), h.CastVote)
		rankings.GET("/:id/votes/me", user.RequireUser(), h.MyVote)

		admin := rankings.Group("", user.RequireAdmin())
		admin.POST("/reset", h.Reset)
		admin.POST("/rebuild", h.Rebuild)
		admin.GET("/audit", h.Audit)
	}
}
