package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/terraskye/esclient"
	"github.com/terraskye/esclient/order"
	"github.com/terraskye/esclient/projection"
)

var errInvalidID = errors.New("invalid order id")

type placeOrderRequest struct {
	OrderID uuid.UUID `json:"orderId"`
	RiderID uuid.UUID `json:"riderId"`
	Price   float64   `json:"price"`
}

type acceptOrderRequest struct {
	DriverID uuid.UUID `json:"driverId"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type revisionResponse struct {
	OrderID  uuid.UUID `json:"orderId"`
	Revision int64     `json:"revision"`
}

type eventResponse struct {
	EventType   string         `json:"eventType"`
	Revision    int64          `json:"revision"`
	CreatedDate time.Time      `json:"createdDate"`
	Payload     esclient.Event `json:"payload"`
}

func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if req.OrderID == uuid.Nil {
		req.OrderID = uuid.New()
	}

	rev, err := s.orders.Place(c.Request.Context(), order.PlaceOrder{
		OrderID: req.OrderID,
		RiderID: req.RiderID,
		Price:   req.Price,
	})
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusCreated, revisionResponse{OrderID: req.OrderID, Revision: rev})
}

func (s *Server) acceptOrder(c *gin.Context) {
	id, ok := s.orderID(c)
	if !ok {
		return
	}
	var req acceptOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	rev, err := s.orders.Accept(c.Request.Context(), order.AcceptOrder{OrderID: id, DriverID: req.DriverID})
	s.respond(c, id, rev, err)
}

func (s *Server) completeOrder(c *gin.Context) {
	id, ok := s.orderID(c)
	if !ok {
		return
	}

	rev, err := s.orders.Complete(c.Request.Context(), order.CompleteOrder{OrderID: id})
	s.respond(c, id, rev, err)
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, ok := s.orderID(c)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, http.StatusBadRequest, err)
			return
		}
	}

	rev, err := s.orders.Cancel(c.Request.Context(), order.CancelOrder{OrderID: id, Reason: req.Reason})
	s.respond(c, id, rev, err)
}

func (s *Server) getOrderEvents(c *gin.Context) {
	id, ok := s.orderID(c)
	if !ok {
		return
	}

	events, err := s.orders.History(c.Request.Context(), id)
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}

	out := make([]eventResponse, len(events))
	for i, ev := range events {
		out[i] = eventResponse{
			EventType:   ev.EventType(),
			Revision:    ev.Revision(),
			CreatedDate: ev.CreatedDate(),
			Payload:     ev,
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getOrder(c *gin.Context) {
	id, ok := s.orderID(c)
	if !ok {
		return
	}

	view, err := s.views.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil || id == uuid.Nil {
		s.fail(c, http.StatusBadRequest, errInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) respond(c *gin.Context, id uuid.UUID, rev int64, err error) {
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, revisionResponse{OrderID: id, Revision: rev})
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrInvalidCommand), errors.Is(err, esclient.ErrInvalidAggregateID):
		return http.StatusBadRequest
	case esclient.IsConcurrencyError(err):
		return http.StatusConflict
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, projection.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrOrderExists):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
