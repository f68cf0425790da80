package router

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"seckill/internal/admission"
	"seckill/internal/config"
	"seckill/internal/middleware"
	"seckill/internal/model"
	"seckill/internal/voucher"
	rediskey "seckill/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

// Setup registers all HTTP routes.
func Setup(r *gin.Engine, vouchers *voucher.Service, gate *admission.Gate, rdb *rd.Client, cfg config.AppConfig) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	// Vouchers
	r.POST("/api/vouchers", createVoucher(vouchers))
	r.GET("/api/vouchers/:voucher_id", getVoucher(vouchers))
	r.PUT("/api/vouchers/:voucher_id", updateVoucher(vouchers))
	// Flash sale
	r.POST("/api/seckill/preload/:voucher_id", preload(vouchers, rdb, cfg.PreloadAdminToken, cfg.StockCacheTTL))
	r.GET("/api/seckill/stock/:voucher_id", getStock(rdb))
	r.POST("/api/seckill/buy", middleware.RedisRateLimit(rdb, cfg.BuyRateLimit, cfg.BuyRateWindow), buy(gate))
}

func parseVoucherID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("voucher_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid voucher id"})
		return 0, false
	}
	return uint(id), true
}

// createVoucher creates a voucher, validating the sale window.
func createVoucher(vouchers *voucher.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Title     string `json:"title" binding:"required"`
			Stock     int64  `json:"stock" binding:"required,min=1"`
			Price     int64  `json:"price" binding:"required,min=1"`
			BeginTime string `json:"begin_time" binding:"required"`
			EndTime   string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		begin, err := time.Parse(time.RFC3339, req.BeginTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "begin_time must be RFC3339"})
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time must be RFC3339"})
			return
		}
		if !end.After(begin) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time must be after begin_time"})
			return
		}
		v := &model.Voucher{
			Title:     req.Title,
			Stock:     req.Stock,
			Price:     req.Price,
			BeginTime: begin,
			EndTime:   end,
		}
		if err := vouchers.Create(c.Request.Context(), v); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
	}
}

// getVoucher serves the cached read path.
func getVoucher(vouchers *voucher.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseVoucherID(c)
		if !ok {
			return
		}
		v, err := vouchers.ByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "lookup failed"})
			return
		}
		if v == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "voucher not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
	}
}

// updateVoucher writes the row then evicts the cache entries.
func updateVoucher(vouchers *voucher.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseVoucherID(c)
		if !ok {
			return
		}
		var req struct {
			Title string `json:"title" binding:"required"`
			Price int64  `json:"price" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		v, err := vouchers.ByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "lookup failed"})
			return
		}
		if v == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "voucher not found"})
			return
		}
		v.Title = req.Title
		v.Price = req.Price
		if err := vouchers.Update(c.Request.Context(), v); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
	}
}

// preload warms the hot cache entry and mirrors durable stock into redis
// ahead of the sale. Requires the admin token so stock cannot be reset by
// arbitrary callers.
func preload(vouchers *voucher.Service, rdb *rd.Client, adminToken string, stockTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid admin token"})
			return
		}
		id, ok := parseVoucherID(c)
		if !ok {
			return
		}
		v, err := vouchers.Prewarm(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if v == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "voucher not found"})
			return
		}
		if err := rdb.Set(c.Request.Context(), rediskey.StockKey(id), v.Stock, stockTTL).Err(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "preloaded"})
	}
}

// getStock reads the live mirrored stock counter.
func getStock(rdb *rd.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseVoucherID(c)
		if !ok {
			return
		}
		val, err := rdb.Get(c.Request.Context(), rediskey.StockKey(id)).Int64()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": int64(0)}})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": val}})
	}
}

// buy is the flash-sale entry point. All business rejections come back as
// values from the gate; HTTP 200 with ok=false is a rejection, not a fault.
func buy(gate *admission.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			VoucherID uint  `json:"voucher_id" binding:"required,min=1"`
			UserID    int64 `json:"user_id" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		out := gate.Admit(c.Request.Context(), req.VoucherID, req.UserID, time.Now())
		if !out.OK {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": out.Msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{"order_id": strconv.FormatUint(out.OrderID, 10)},
		})
	}
}
