package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"slsdispatch/pkg/render"
	"slsdispatch/services/coordinator"
	"slsdispatch/services/notify"
	"slsdispatch/services/reports"
)

type telegramChat struct {
	ID int64 `json:"id"`
}

type telegramUser struct {
	ID int64 `json:"id"`
}

type telegramMessage struct {
	Chat telegramChat  `json:"chat"`
	From *telegramUser `json:"from"`
	Text string        `json:"text"`
}

type telegramUpdate struct {
	Message       *telegramMessage `json:"message"`
	CallbackQuery *struct {
		ID      string           `json:"id"`
		From    telegramUser     `json:"from"`
		Data    string           `json:"data"`
		Message *telegramMessage `json:"message"`
	} `json:"callback_query"`
}

const webhookReplyTimeout = 20 * time.Second

// handleTelegramWebhook always answers 200 once the secret matches so that
// Telegram does not redeliver; failures are reported in the chat instead.
func (a *API) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if secret := a.config.WebhookSecret; secret != "" {
		token := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			respondError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}
	}

	var upd telegramUpdate
	if err := decodeLenient(w, r, &upd); err != nil {
		a.log.Warn().Err(err).Msg("malformed telegram update")
		respondJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), webhookReplyTimeout)
	defer cancel()

	switch {
	case upd.CallbackQuery != nil:
		cq := upd.CallbackQuery
		chatID := strconv.FormatInt(cq.From.ID, 10)
		if cq.Message != nil {
			chatID = strconv.FormatInt(cq.Message.Chat.ID, 10)
		}
		a.handleCallback(ctx, chatID, strconv.FormatInt(cq.From.ID, 10), cq.Data)
	case upd.Message != nil:
		a.handleCommand(ctx, strconv.FormatInt(upd.Message.Chat.ID, 10), upd.Message.Text)
	}

	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleCallback(ctx context.Context, chatID, userID, data string) {
	orderID, agentID, ok := notify.ParseAssignCallback(data)
	if !ok {
		a.log.Debug().Str("data", data).Msg("ignoring unknown callback")
		return
	}
	if lead := a.config.LeadChatID; lead != "" && userID != lead && chatID != lead {
		a.say(ctx, chatID, "Only the team lead can assign.")
		return
	}

	if _, err := a.coordinator.Assign(ctx, coordinator.AssignRequest{OrderID: orderID, AgentID: agentID}); err != nil {
		a.log.Warn().Err(err).Int64("order_id", orderID).Str("agent_id", agentID).Msg("assign from telegram failed")
		a.say(ctx, chatID, fmt.Sprintf("Assign failed: %v", err))
		return
	}
	a.say(ctx, chatID, fmt.Sprintf("✅ Assigned order %d to %s", orderID, agentID))
}

func (a *API) handleCommand(ctx context.Context, chatID, text string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return
	}
	// "/orders@sls_bot" addresses the bot in group chats.
	cmd, _, _ := strings.Cut(fields[0], "@")

	switch cmd {
	case "/orders":
		orders, err := a.coordinator.RecentOrders(ctx, 5)
		if err != nil {
			a.say(ctx, chatID, "Could not load orders.")
			return
		}
		a.reply(ctx, chatID, render.Orders, orders)
	case "/workers":
		a.reply(ctx, chatID, render.Workers, a.coordinator.Workers())
	case "/report", "/reports":
		rng := reports.Daily
		if len(fields) > 1 {
			parsed, err := reports.ParseRange(fields[1])
			if err != nil {
				a.reply(ctx, chatID, render.Help, nil)
				return
			}
			rng = parsed
		}
		a.sendReport(ctx, chatID, rng)
	default:
		a.reply(ctx, chatID, render.Help, nil)
	}
}

func (a *API) sendReport(ctx context.Context, chatID string, rng reports.Range) {
	today := a.now().In(a.config.Location)
	lines, err := a.reports.Build(ctx, rng, today)
	if err != nil {
		a.log.Warn().Err(err).Str("range", string(rng)).Msg("build report for telegram failed")
		a.say(ctx, chatID, "Could not build the report.")
		return
	}
	rep, err := notify.NewReport(rng, reports.Days(rng, today), lines)
	if err != nil {
		a.say(ctx, chatID, "Could not build the report.")
		return
	}
	if a.chat == nil {
		return
	}
	if d := a.chat.SendReport(ctx, chatID, rep); !d.Delivered && !d.NotConfigured() {
		a.log.Warn().Str("reason", d.Reason).Msg("telegram report reply failed")
	}
}

func (a *API) reply(ctx context.Context, chatID, tmpl string, data any) {
	if a.chat == nil {
		return
	}
	if d := a.chat.Reply(ctx, chatID, tmpl, data); !d.Delivered && !d.NotConfigured() {
		a.log.Warn().Str("template", tmpl).Str("reason", d.Reason).Msg("telegram reply failed")
	}
}

func (a *API) say(ctx context.Context, chatID, text string) {
	if a.chat == nil {
		return
	}
	if d := a.chat.SendText(ctx, chatID, text, nil); !d.Delivered && !d.NotConfigured() {
		a.log.Warn().Str("reason", d.Reason).Msg("telegram reply failed")
	}
}
