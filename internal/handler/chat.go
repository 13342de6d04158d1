package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carryconnect/carryconnect/internal/service"
)

// ChatHandler serves the per-trip conversation over plain HTTP.
type ChatHandler struct {
	Chat     *service.ChatService
	Receipts *service.ReceiptService
}

func NewChatHandler(chat *service.ChatService, receipts *service.ReceiptService) *ChatHandler {
	return &ChatHandler{Chat: chat, Receipts: receipts}
}

type sendReq struct {
	Text string `json:"text"`
}

// Messages handles GET /v1/trips/:id/messages.
func (h *ChatHandler) Messages(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	msgs, err := h.Chat.History(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"messages": msgs})
}

// Send handles POST /v1/trips/:id/messages.
func (h *ChatHandler) Send(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req sendReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	m, err := h.Chat.Send(c.Request().Context(), c.Param("id"), uid, req.Text)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

// MarkRead handles POST /v1/trips/:id/read.
func (h *ChatHandler) MarkRead(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	m, err := h.Receipts.MarkRead(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

// Conversations handles GET /v1/conversations.
func (h *ChatHandler) Conversations(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	convs, err := h.Receipts.Conversations(c.Request().Context(), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"conversations": convs})
}
