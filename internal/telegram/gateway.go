package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"vietqr_bot/internal/conversation"
	"vietqr_bot/internal/dispatch"
	"vietqr_bot/internal/logging"
	"vietqr_bot/internal/render"
)

const photoFilename = "vietqr.png"

// Renderer produces the PNG posted for a request.
type Renderer interface {
	Render(payload string, card dispatch.Card, layout dispatch.Layout) ([]byte, error)
	RenderPanel(payload string, card dispatch.Card, size int) ([]byte, error)
}

// Gateway posts QR codes as photos. It implements dispatch.Gateway.
type Gateway struct {
	api      API
	renderer Renderer
	logger   *logrus.Entry
}

// NewGateway returns a Gateway sending through api.
func NewGateway(api API, renderer Renderer, logger *logrus.Entry) *Gateway {
	if logger == nil {
		logger = logging.Logger()
	}
	return &Gateway{api: api, renderer: renderer, logger: logger.WithField("component", "telegram_gateway")}
}

// Send renders req and uploads it to req.ChatID. A background that cannot be
// loaded degrades to the bare panel rather than failing the delivery.
func (g *Gateway) Send(ctx context.Context, req dispatch.Request) error {
	if g == nil || g.api == nil || g.renderer == nil {
		return dispatch.Permanent(errors.New("telegram gateway is not initialized"))
	}

	img, err := g.renderer.Render(req.Payload, req.Card, req.Layout)
	if errors.Is(err, render.ErrBackground) {
		g.logger.WithError(err).WithField("event", "qr_background_unavailable").Warn("rendering qr without background")
		img, err = g.renderer.RenderPanel(req.Payload, req.Card, req.Layout.Size)
	}
	if err != nil {
		return dispatch.Permanent(fmt.Errorf("render qr: %w", err))
	}

	_, err = g.api.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:  req.ChatID,
		Photo:   &models.InputFileUpload{Filename: photoFilename, Data: bytes.NewReader(img)},
		Caption: req.Caption,
	})
	if err != nil {
		return classifySendError(fmt.Errorf("send photo: %w", err))
	}

	g.logger.WithFields(logging.Fields{
		"event":   "qr_sent",
		"chat_id": req.ChatID,
		"bytes":   len(img),
	}).Info("qr photo sent")
	return nil
}

// classifySendError marks errors that a retry cannot fix: the bot was
// blocked or removed, the chat is gone, the request is malformed, or the
// token is invalid.
func classifySendError(err error) error {
	switch {
	case errors.Is(err, bot.ErrorForbidden),
		errors.Is(err, bot.ErrorBadRequest),
		errors.Is(err, bot.ErrorUnauthorized),
		errors.Is(err, bot.ErrorNotFound),
		errors.Is(err, context.Canceled):
		return dispatch.Permanent(err)
	default:
		return dispatch.Transient(err)
	}
}

// ExpiryNotifier tells users their idle flow was discarded.
type ExpiryNotifier struct {
	api API
}

// NewExpiryNotifier returns a conversation.Notifier posting to private chats.
func NewExpiryNotifier(api API) *ExpiryNotifier {
	return &ExpiryNotifier{api: api}
}

// NotifyFlowExpired implements conversation.Notifier.
func (n *ExpiryNotifier) NotifyFlowExpired(ctx context.Context, flow conversation.Flow) error {
	if n == nil || n.api == nil {
		return errors.New("expiry notifier is not initialized")
	}
	_, err := n.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: flow.UserID,
		Text:   expiryText(flow.Kind),
	})
	if err != nil {
		return fmt.Errorf("notify flow expiry: %w", err)
	}
	return nil
}

func expiryText(kind conversation.Kind) string {
	what, command := "request", "/help"
	switch kind {
	case conversation.KindBillSplit:
		what, command = "bill split", "/bill"
	case conversation.KindQuickQR:
		what, command = "QR request", "/qr"
	case conversation.KindAddAccount:
		what, command = "account setup", "/addbank"
	case conversation.KindAddGroup:
		what, command = "group setup", "/addgroup"
	}
	return fmt.Sprintf("Your %s timed out and was discarded. Nothing was saved or sent. Send %s to start over.", what, command)
}
