package handler

import (
	"errors"
	"io"
	"strconv"
	"time"

	"taxsync/internal/event"
	"taxsync/internal/job"
	"taxsync/internal/repository"
	"taxsync/internal/service"
	"taxsync/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 税务同步的管理与接入接口
type Handler struct {
	syncService *service.SyncService
	backfiller  *job.Backfiller
	queueRepo   *repository.QueueRepository
	bus         *event.Bus
	loc         *time.Location
	logger      *zap.Logger
}

func NewHandler(syncService *service.SyncService, backfiller *job.Backfiller, queueRepo *repository.QueueRepository, bus *event.Bus, loc *time.Location, logger *zap.Logger) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		syncService: syncService,
		backfiller:  backfiller,
		queueRepo:   queueRepo,
		bus:         bus,
		loc:         loc,
		logger:      logger,
	}
}

// SyncOrder 手动同步订单及其退款
// POST /api/v1/tax-sync/orders/:order_id/sync
//
// 结果（成功 / 部分成功 / 失败）在返回的 note 里，只有订单不存在或查询出错时返回错误码
func (h *Handler) SyncOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		response.ParamError(c, "order_id 参数错误")
		return
	}

	note, err := h.syncService.SyncOrderNow(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			response.BusinessError(c, response.CodeOrderNotFound, "订单不存在")
			return
		}
		h.logger.Error("手动同步失败", zap.Int64("order_id", orderID), zap.Error(err))
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, note)
}

// BackfillRequest 回补请求，日期格式 YYYY-MM-DD，end_date 当天包含在内
// 两个日期都不传（或请求体为空）表示今天
type BackfillRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Force     bool   `json:"force"`
}

// Backfill 按日期窗口回补
// POST /api/v1/tax-sync/backfill
func (h *Handler) Backfill(c *gin.Context) {
	var req BackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	opts := job.BackfillOptions{Force: req.Force}
	if req.StartDate != "" || req.EndDate != "" {
		start, err := time.ParseInLocation(time.DateOnly, req.StartDate, h.loc)
		if err != nil {
			response.ParamError(c, "start_date 格式错误，应为 YYYY-MM-DD")
			return
		}
		end, err := time.ParseInLocation(time.DateOnly, req.EndDate, h.loc)
		if err != nil {
			response.ParamError(c, "end_date 格式错误，应为 YYYY-MM-DD")
			return
		}
		if end.Before(start) {
			response.ParamError(c, "end_date 不能早于 start_date")
			return
		}
		opts.Start, opts.End = start, end.AddDate(0, 0, 1)
	}

	orders, err := h.backfiller.Backfill(c.Request.Context(), opts)
	if err != nil {
		h.logger.Error("回补失败", zap.Error(err))
		response.BusinessError(c, response.CodeBackfillFail, err.Error())
		return
	}

	response.Success(c, gin.H{
		"orders": orders,
		"force":  req.Force,
	})
}

// ListQueue 查看活跃队列
// GET /api/v1/tax-sync/queue
func (h *Handler) ListQueue(c *gin.Context) {
	entries, err := h.queueRepo.GetAllActiveInQueue(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":  entries,
		"total": len(entries),
	})
}

// PublishEvent 宿主系统通过 HTTP 推送订单事件
// POST /api/v1/tax-sync/events
func (h *Handler) PublishEvent(c *gin.Context) {
	var env event.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	ev, err := env.Decode()
	if err != nil {
		response.BusinessError(c, response.CodeInvalidEvent, err.Error())
		return
	}

	if err := h.bus.Publish(c.Request.Context(), ev); err != nil {
		h.logger.Warn("事件处理失败", zap.String("type", env.Type), zap.Error(err))
		response.BusinessError(c, response.CodeEventFailed, err.Error())
		return
	}

	response.Success(c, gin.H{
		"type": env.Type,
	})
}
