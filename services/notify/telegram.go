package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"slsdispatch/pkg/render"
	"slsdispatch/services/fleet"
	"slsdispatch/services/reports"
)

const (
	defaultTelegramAPI     = "https://api.telegram.org"
	defaultTelegramTimeout = 10 * time.Second
)

// InlineButton is one Telegram inline keyboard button. Exactly one of
// CallbackData and URL is set.
type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// InlineKeyboard is the reply_markup of a message.
type InlineKeyboard struct {
	Rows [][]InlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string          `json:"chat_id"`
	Text        string          `json:"text"`
	ReplyMarkup *InlineKeyboard `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// TelegramConfig configures the Bot API client.
type TelegramConfig struct {
	Token string
	// LeadChatID receives every notice.
	LeadChatID string
	// BaseURL overrides the Bot API host, mainly for tests.
	BaseURL string
	// PublicURL is linked from order notices when set.
	PublicURL string
	Timeout   time.Duration
}

// Telegram sends notices through the Bot API.
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
	tmpl   *render.Engine
	log    zerolog.Logger
}

// NewTelegram returns a Telegram sink. A missing token or chat id is not an
// error: every send reports Skipped.
func NewTelegram(cfg TelegramConfig, tmpl *render.Engine, logger zerolog.Logger) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTelegramAPI
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTelegramTimeout
	}
	if tmpl == nil {
		tmpl = render.MustNew()
	}
	return &Telegram{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		tmpl:   tmpl,
		log:    logger.With().Str("component", "telegram").Logger(),
	}
}

// Configured reports whether a token and lead chat are set.
func (t *Telegram) Configured() bool {
	return t != nil && t.cfg.Token != "" && t.cfg.LeadChatID != ""
}

func (t *Telegram) NotifyAlert(ctx context.Context, alert fleet.Alert) fleet.Delivery {
	return t.renderAndSend(ctx, t.cfg.LeadChatID, render.Alert, alert, nil)
}

func (t *Telegram) NotifyOrder(ctx context.Context, n OrderNotice) fleet.Delivery {
	return t.renderAndSend(ctx, t.cfg.LeadChatID, render.Order, n, t.orderKeyboard(n))
}

func (t *Telegram) NotifyAssignment(ctx context.Context, n AssignmentNotice) fleet.Delivery {
	return t.renderAndSend(ctx, t.cfg.LeadChatID, render.Assignment, n, nil)
}

func (t *Telegram) NotifyCompletion(ctx context.Context, c fleet.Completion) fleet.Delivery {
	return t.renderAndSend(ctx, t.cfg.LeadChatID, render.Completion, c, nil)
}

// AssignCallback is the callback payload of an "Assign to" button.
func AssignCallback(orderID int64, agentID string) string {
	return "assign:" + strconv.FormatInt(orderID, 10) + ":" + agentID
}

// ParseAssignCallback reverses AssignCallback.
func ParseAssignCallback(data string) (orderID int64, agentID string, ok bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != "assign" || parts[2] == "" {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, parts[2], true
}

func (t *Telegram) orderKeyboard(n OrderNotice) *InlineKeyboard {
	var kb InlineKeyboard
	var row []InlineButton
	for _, w := range n.Workers {
		row = append(row, InlineButton{
			Text:         "Assign to " + w.AgentID,
			CallbackData: AssignCallback(n.Order.ID, w.AgentID),
		})
	}
	if len(row) > 0 {
		kb.Rows = append(kb.Rows, row)
	}
	var links []InlineButton
	if u, ok := n.Order.ExternalTaskRef["url"].(string); ok && u != "" {
		links = append(links, InlineButton{Text: "Open task", URL: u})
	}
	if t.cfg.PublicURL != "" {
		links = append(links, InlineButton{
			Text: "View order",
			URL:  strings.TrimRight(t.cfg.PublicURL, "/") + "/v1/orders/" + strconv.FormatInt(n.Order.ID, 10),
		})
	}
	if len(links) > 0 {
		kb.Rows = append(kb.Rows, links)
	}
	if len(kb.Rows) == 0 {
		return nil
	}
	return &kb
}

// Reply renders a template into chat.
func (t *Telegram) Reply(ctx context.Context, chatID, tmpl string, data any) fleet.Delivery {
	return t.renderAndSend(ctx, chatID, tmpl, data, nil)
}

func (t *Telegram) renderAndSend(ctx context.Context, chatID, tmpl string, data any, kb *InlineKeyboard) fleet.Delivery {
	if t == nil || t.cfg.Token == "" || chatID == "" {
		return fleet.Skipped("telegram")
	}
	text, err := t.tmpl.Render(tmpl, data)
	if err != nil {
		return fleet.Failed(fmt.Errorf("render %s: %w", tmpl, err))
	}
	return t.SendText(ctx, chatID, text, kb)
}

// SendText posts a plain message.
func (t *Telegram) SendText(ctx context.Context, chatID, text string, kb *InlineKeyboard) fleet.Delivery {
	if t == nil || t.cfg.Token == "" || chatID == "" {
		return fleet.Skipped("telegram")
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: kb})
	if err != nil {
		return fleet.Failed(err)
	}
	return t.call(ctx, "sendMessage", "application/json", body)
}

// SendDocument uploads content as a file attachment.
func (t *Telegram) SendDocument(ctx context.Context, chatID, filename string, content []byte, caption string) fleet.Delivery {
	if t == nil || t.cfg.Token == "" || chatID == "" {
		return fleet.Skipped("telegram")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", chatID); err != nil {
		return fleet.Failed(err)
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return fleet.Failed(err)
		}
	}
	fw, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return fleet.Failed(err)
	}
	if _, err := fw.Write(content); err != nil {
		return fleet.Failed(err)
	}
	if err := mw.Close(); err != nil {
		return fleet.Failed(err)
	}
	return t.call(ctx, "sendDocument", mw.FormDataContentType(), buf.Bytes())
}

func (t *Telegram) call(ctx context.Context, method, contentType string, body []byte) fleet.Delivery {
	endpoint := fmt.Sprintf("%s/bot%s/%s", t.cfg.BaseURL, t.cfg.Token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fleet.Failed(err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		// the request URL carries the bot token
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return fleet.Failed(fmt.Errorf("%w: %s: %v", fleet.ErrTransientDelivery, method, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fleet.Failed(fmt.Errorf("%w: read %s response: %v", fleet.ErrTransientDelivery, method, err))
	}
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil || resp.StatusCode != http.StatusOK || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = strings.TrimSpace(string(raw))
		}
		t.log.Warn().Str("method", method).Int("status", resp.StatusCode).Str("description", desc).Msg("telegram call rejected")
		return fleet.Failed(fmt.Errorf("%w: %s: status %d: %s", fleet.ErrTransientDelivery, method, resp.StatusCode, desc))
	}
	return fleet.Delivered()
}

// Report is a rendered utilization report ready to send.
type Report struct {
	Range  reports.Range
	From   string
	To     string
	Totals []reports.Total
	CSV    []byte
}

// NewReport summarises lines for the given days.
func NewReport(r reports.Range, days []time.Time, lines []reports.Line) (Report, error) {
	var buf bytes.Buffer
	if err := reports.WriteCSV(&buf, lines); err != nil {
		return Report{}, err
	}
	out := Report{Range: r, Totals: reports.Totals(lines), CSV: buf.Bytes()}
	if len(days) > 0 {
		out.From = days[0].Format(time.DateOnly)
		out.To = days[len(days)-1].Format(time.DateOnly)
	}
	return out, nil
}

// SendReport posts the summary followed by the CSV attachment. An empty chatID
// means the lead chat.
func (t *Telegram) SendReport(ctx context.Context, chatID string, rep Report) fleet.Delivery {
	if t == nil {
		return fleet.Skipped("telegram")
	}
	if chatID == "" {
		chatID = t.cfg.LeadChatID
	}
	if d := t.renderAndSend(ctx, chatID, render.Report, rep, nil); !d.Delivered {
		return d
	}
	name := fmt.Sprintf("utilization-%s-%s.csv", rep.Range, rep.To)
	return t.SendDocument(ctx, chatID, name, rep.CSV, "")
}
