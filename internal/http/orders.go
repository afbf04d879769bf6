package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/order-gateway/internal/repository"
	"github.com/jmehdipour/order-gateway/internal/service/orders"
)

type submitReq struct {
	ItemIDs []string `json:"itemId"`
	OrderID string   `json:"orderId"`
}

type errorResp struct {
	Error string `json:"error"`
}

func submitOrderHandler(svc *orders.Service, lg *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req submitReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResp{Error: "itemId is required (non-empty array)"})
		}

		id, err := svc.Submit(c.Request().Context(), req.ItemIDs, req.OrderID)
		if err != nil {
			return writeServiceError(c, lg, err)
		}

		return c.JSON(http.StatusAccepted, map[string]string{"orderId": id})
	}
}

func getOrderHandler(svc *orders.Service, lg *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		o, err := svc.Get(c.Request().Context(), c.Param("id"))
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResp{Error: "order not found"})
		}
		if err != nil {
			return writeServiceError(c, lg, err)
		}
		return c.JSON(http.StatusOK, o)
	}
}

func listOrdersHandler(svc *orders.Service, lg *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		list, err := svc.List(c.Request().Context(), limit, offset)
		if err != nil {
			return writeServiceError(c, lg, err)
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(list),
			"results": list,
		})
	}
}

func writeServiceError(c echo.Context, lg *zap.Logger, err error) error {
	switch {
	case orders.IsValidation(err):
		return c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
	case orders.IsConflict(err):
		return c.JSON(http.StatusConflict, errorResp{Error: err.Error()})
	default:
		lg.Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.JSON(http.StatusInternalServerError, errorResp{Error: "storage error"})
	}
}
