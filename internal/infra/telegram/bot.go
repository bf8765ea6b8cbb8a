package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Bot struct {
	api *tgbotapi.BotAPI
}

type CommandUpdate struct {
	ChatID   int64
	UserID   int64
	Username string
	Command  string
	Args     string
}

type CallbackUpdate struct {
	CallbackID string
	ChatID     int64
	MessageID  int
	UserID     int64
	Username   string
	Data       string
}

type PreCheckoutUpdate struct {
	QueryID string
	UserID  int64
	Payload string
	Amount  int64
}

type PaidUpdate struct {
	ChatID     int64
	UserID     int64
	Username   string
	Payload    string
	Amount     int64
	Currency   string
	ChargeID   string
	ReceivedAt time.Time
}

type Handlers struct {
	OnCommand     func(context.Context, CommandUpdate) error
	OnCallback    func(context.Context, CallbackUpdate) error
	OnPreCheckout func(context.Context, PreCheckoutUpdate) error
	OnPaid        func(context.Context, PaidUpdate) error
}

type Button struct {
	Text string
	// Exactly one of Data and URL should be set.
	Data string
	URL  string
}

func NewBot(token string) (*Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}

	api, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}

	return &Bot{api: api}, nil
}

func (b *Bot) Token() string {
	if b == nil || b.api == nil {
		return ""
	}
	return b.api.Token
}

func (b *Bot) Listen(ctx context.Context, handlers Handlers) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := b.api.GetUpdatesChan(updateCfg)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-updates:
			if update.PreCheckoutQuery != nil && handlers.OnPreCheckout != nil {
				err := handlers.OnPreCheckout(ctx, PreCheckoutUpdate{
					QueryID: update.PreCheckoutQuery.ID,
					UserID:  update.PreCheckoutQuery.From.ID,
					Payload: update.PreCheckoutQuery.InvoicePayload,
					Amount:  int64(update.PreCheckoutQuery.TotalAmount),
				})
				if err != nil {
					return err
				}
				continue
			}

			if update.Message != nil && update.Message.From != nil {
				if update.Message.SuccessfulPayment != nil && handlers.OnPaid != nil {
					payment := update.Message.SuccessfulPayment
					err := handlers.OnPaid(ctx, PaidUpdate{
						ChatID:     update.Message.Chat.ID,
						UserID:     update.Message.From.ID,
						Username:   update.Message.From.UserName,
						Payload:    payment.InvoicePayload,
						Amount:     int64(payment.TotalAmount),
						Currency:   payment.Currency,
						ChargeID:   payment.TelegramPaymentChargeID,
						ReceivedAt: time.Unix(int64(update.Message.Date), 0).UTC(),
					})
					if err != nil {
						return err
					}
					continue
				}

				if update.Message.IsCommand() && handlers.OnCommand != nil {
					err := handlers.OnCommand(ctx, CommandUpdate{
						ChatID:   update.Message.Chat.ID,
						UserID:   update.Message.From.ID,
						Username: update.Message.From.UserName,
						Command:  update.Message.Command(),
						Args:     update.Message.CommandArguments(),
					})
					if err != nil {
						return err
					}
					continue
				}
			}

			if update.CallbackQuery != nil && update.CallbackQuery.From != nil && handlers.OnCallback != nil {
				chatID := int64(0)
				messageID := 0
				if update.CallbackQuery.Message != nil {
					chatID = update.CallbackQuery.Message.Chat.ID
					messageID = update.CallbackQuery.Message.MessageID
				}
				err := handlers.OnCallback(ctx, CallbackUpdate{
					CallbackID: update.CallbackQuery.ID,
					ChatID:     chatID,
					MessageID:  messageID,
					UserID:     update.CallbackQuery.From.ID,
					Username:   update.CallbackQuery.From.UserName,
					Data:       update.CallbackQuery.Data,
				})
				if err != nil {
					return err
				}
			}
		}
	}
}

func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	return b.SendMenu(ctx, chatID, text, nil)
}

func (b *Bot) SendMenu(ctx context.Context, chatID int64, text string, rows [][]Button) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if chatID == 0 {
		return fmt.Errorf("chat id is required")
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if markup, ok := buildMarkup(rows); ok {
		msg.ReplyMarkup = markup
	}

	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	_ = ctx
	return nil
}

func (b *Bot) EditMenu(ctx context.Context, chatID int64, messageID int, text string, rows [][]Button) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if chatID == 0 || messageID == 0 {
		return fmt.Errorf("chat and message ids are required")
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	if markup, ok := buildMarkup(rows); ok {
		edit.ReplyMarkup = &markup
	}

	if _, err := b.api.Send(edit); err != nil {
		return fmt.Errorf("edit telegram message: %w", err)
	}

	_ = ctx
	return nil
}

func (b *Bot) SendStarsInvoice(ctx context.Context, chatID int64, title, description, payload string, amount int64) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if chatID == 0 || strings.TrimSpace(payload) == "" || amount <= 0 {
		return fmt.Errorf("invalid stars invoice payload")
	}
	if len(description) > 255 {
		description = description[:255]
	}

	invoice := tgbotapi.NewInvoice(
		chatID,
		title,
		description,
		payload,
		"", // stars invoices carry no provider token
		payload,
		"XTR",
		[]tgbotapi.LabeledPrice{{Label: title, Amount: int(amount)}},
	)
	invoice.SuggestedTipAmounts = []int{}

	if _, err := b.api.Request(invoice); err != nil {
		return fmt.Errorf("send stars invoice: %w", err)
	}

	_ = ctx
	return nil
}

func (b *Bot) AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if strings.TrimSpace(queryID) == "" {
		return fmt.Errorf("pre-checkout query id is required")
	}

	answer := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: queryID,
		OK:                 ok,
		ErrorMessage:       errorMessage,
	}
	if _, err := b.api.Request(answer); err != nil {
		return fmt.Errorf("answer pre-checkout query: %w", err)
	}

	_ = ctx
	return nil
}

func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if strings.TrimSpace(callbackID) == "" {
		return nil
	}

	cfg := tgbotapi.NewCallback(callbackID, text)
	cfg.ShowAlert = showAlert
	if _, err := b.api.Request(cfg); err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}

	_ = ctx
	return nil
}

// ResolveFilePath asks Bot API for the storage path of an uploaded file.
// The returned path joined with the file endpoint stays valid for about an
// hour on Telegram's side.
func (b *Bot) ResolveFilePath(ctx context.Context, fileID string) (string, error) {
	if b == nil || b.api == nil {
		return "", fmt.Errorf("telegram bot is not initialized")
	}
	if strings.TrimSpace(fileID) == "" {
		return "", fmt.Errorf("file id is required")
	}

	tgFile, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get telegram file: %w", err)
	}
	if strings.TrimSpace(tgFile.FilePath) == "" {
		return "", fmt.Errorf("telegram file path is empty")
	}

	_ = ctx
	return tgFile.FilePath, nil
}

func buildMarkup(rows [][]Button) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}

	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			if btn.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
		}
		if len(buttons) > 0 {
			keyboard = append(keyboard, buttons)
		}
	}
	if len(keyboard) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}

	return tgbotapi.NewInlineKeyboardMarkup(keyboard...), true
}
