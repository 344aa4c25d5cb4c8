// Package handlers exposes the HTTP surface: the provider webhook endpoint
// and a liveness probe.
package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chatrelay/chatrelay/internal/message"
	"github.com/chatrelay/chatrelay/internal/pipeline"
	"github.com/chatrelay/chatrelay/internal/platform/wechat"
)

const webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

// MessageProcessor runs the message-handling pipeline for one parsed
// delivery.
type MessageProcessor interface {
	Handle(ctx context.Context, msg *message.InboundMessage) (pipeline.Result, error)
}

// WebhookHandler receives provider callbacks, delegates verification and
// parsing to the platform codec, and writes the pipeline's wire outcome.
type WebhookHandler struct {
	logger    *slog.Logger
	codec     *wechat.Codec
	processor MessageProcessor
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(log *slog.Logger, codec *wechat.Codec, processor MessageProcessor) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:    log.With(slog.String("handler", "wechat_webhook")),
		codec:     codec,
		processor: processor,
	}
}

// Register registers the callback routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/platforms/wechat/webhook", h.HandleVerify)
	e.POST("/platforms/wechat/webhook", h.Handle)
}

// HandleVerify answers the provider's URL ownership handshake.
func (h *WebhookHandler) HandleVerify(c echo.Context) error {
	echoStr, err := h.codec.VerifyURL(queryFromRequest(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	return c.String(http.StatusOK, echoStr)
}

// Handle processes one inbound delivery.
func (h *WebhookHandler) Handle(c echo.Context) error {
	if h.processor == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "webhook processor not configured")
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(body)) > webhookMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes))
	}

	msg, err := h.codec.Parse(body, queryFromRequest(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid callback payload: %v", err))
	}

	result, err := h.processor.Handle(c.Request().Context(), msg)
	if err != nil {
		h.logger.Error("pipeline failed",
			slog.String("from_account", msg.FromAccount),
			slog.Int64("msg_id", msg.MsgID),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "message processing failed")
	}
	if result.Status == pipeline.StatusReply {
		return c.Blob(http.StatusOK, echo.MIMEApplicationXMLCharsetUTF8, result.Payload)
	}
	return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, result.Payload)
}

func queryFromRequest(c echo.Context) wechat.Query {
	return wechat.Query{
		Signature:    c.QueryParam("signature"),
		MsgSignature: c.QueryParam("msg_signature"),
		Timestamp:    c.QueryParam("timestamp"),
		Nonce:        c.QueryParam("nonce"),
		EchoStr:      c.QueryParam("echostr"),
	}
}
