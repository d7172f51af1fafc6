package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/olyamironova/exchange-core/internal/api/dto"
	"github.com/olyamironova/exchange-core/internal/core"
	"github.com/olyamironova/exchange-core/internal/domain"
)

// HTTPServer is the thin front-end: it validates payloads, routes
// commands to the coordinator and maps the error taxonomy to status
// codes. All exchange semantics live behind the coordinator.
type HTTPServer struct {
	coord *core.Coordinator
}

func NewHTTPServer(coord *core.Coordinator) *HTTPServer {
	return &HTTPServer{coord: coord}
}

func (s *HTTPServer) Run(addr string) error {
	return s.Router().Run(addr)
}

func (s *HTTPServer) Router() *gin.Engine {
	r := gin.Default()

	r.POST("/orders", s.submitOrder)
	r.POST("/orders/cancel", s.cancelOrder)
	r.GET("/orders/:id", s.getOrder)
	r.GET("/orderbook", s.getOrderbook)
	r.GET("/trades", s.getTrades)
	r.GET("/positions/:client_id", s.getPositions)
	r.POST("/orderbook/snapshot", s.requestSnapshot)

	return r
}

func (s *HTTPServer) submitOrder(c *gin.Context) {
	var req dto.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := req.IdempotencyKey
	if header := c.GetHeader("Idempotency-Key"); header != "" {
		key = header
	}

	o := &domain.Order{
		ID:             req.OrderID,
		ClientID:       req.ClientID,
		Instrument:     req.Instrument,
		Side:           domain.Side(req.Side),
		Type:           domain.OrderType(req.Type),
		Price:          req.Price,
		Quantity:       req.Quantity,
		IdempotencyKey: key,
	}

	res, err := s.coord.SubmitOrder(c.Request.Context(), o)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SubmitOrderResponse{
		Order:  convertOrder(res.Order),
		Trades: convertTrades(res.Trades),
		Book:   convertBook(res.Book),
	})
}

func (s *HTTPServer) cancelOrder(c *gin.Context) {
	var req dto.CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := s.coord.CancelOrder(c.Request.Context(), req.OrderID, req.Instrument)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": convertOrder(o)})
}

func (s *HTTPServer) getOrder(c *gin.Context) {
	o, err := s.coord.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": convertOrder(o)})
}

func (s *HTTPServer) getOrderbook(c *gin.Context) {
	instrument := c.Query("instrument")
	if instrument == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instrument query parameter required"})
		return
	}
	levels, _ := strconv.Atoi(c.DefaultQuery("levels", "20"))
	snap, err := s.coord.GetBook(c.Request.Context(), instrument, levels)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, convertBook(snap))
}

func (s *HTTPServer) getTrades(c *gin.Context) {
	instrument := c.Query("instrument")
	if instrument == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instrument query parameter required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	trades, err := s.coord.GetRecentTrades(c.Request.Context(), instrument, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": convertTrades(trades)})
}

func (s *HTTPServer) getPositions(c *gin.Context) {
	positions, err := s.coord.GetPositions(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": convertPositions(positions)})
}

func (s *HTTPServer) requestSnapshot(c *gin.Context) {
	var req dto.SnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := s.coord.RequestSnapshot(c.Request.Context(), req.Instrument)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, convertBook(snap))
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrOrderNotFound), errors.Is(err, core.ErrInstrumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrOrderTerminal):
		return http.StatusConflict
	case errors.Is(err, core.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
