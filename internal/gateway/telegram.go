package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rahul/taskmesh/internal/confirm"
)

// TelegramPrefix marks user ids that belong to Telegram chats.
const TelegramPrefix = "tg"

type TelegramGateway struct {
	Bot    *tgbotapi.BotAPI
	Router *Router
}

func NewTelegramGateway(token string, router *Router) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("[ GATEWAY ] Authorized on Telegram account %s", bot.Self.UserName)

	return &TelegramGateway{
		Bot:    bot,
		Router: router,
	}, nil
}

func (tg *TelegramGateway) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	tg.serve(tg.Bot.GetUpdatesChan(u))
	return nil
}

// serve dispatches updates until the channel closes. Plans may run for
// minutes; one chat must not hold up the others.
func (tg *TelegramGateway) serve(updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			go tg.handleCallback(update.CallbackQuery)
		case update.Message != nil:
			go tg.handleMessage(update.Message)
		}
	}
}

func (tg *TelegramGateway) handleMessage(m *tgbotapi.Message) {
	if m.From != nil {
		log.Printf("[ GATEWAY ] [%s] %s", m.From.UserName, m.Text)
	}

	userID := UserID(TelegramPrefix, strconv.FormatInt(m.Chat.ID, 10))
	response := tg.Router.Handle(context.Background(), userID, m.Text)

	if _, err := tg.Bot.Send(tgbotapi.NewMessage(m.Chat.ID, response)); err != nil {
		log.Printf("[ GATEWAY ] Failed to reply to %d: %v", m.Chat.ID, err)
	}
}

func (tg *TelegramGateway) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil {
		return
	}
	chatID := cq.Message.Chat.ID

	handle, approved, err := ParseDecision(cq.Data)
	if err != nil {
		log.Printf("[ GATEWAY ] Ignoring callback: %v", err)
		_, _ = tg.Bot.Request(tgbotapi.NewCallback(cq.ID, "Unknown action"))
		return
	}

	ack := "Denied"
	if approved {
		ack = "Approved"
	}
	if _, err := tg.Bot.Request(tgbotapi.NewCallback(cq.ID, ack)); err != nil {
		log.Printf("[ GATEWAY ] Failed to answer callback: %v", err)
	}
	// Drop the buttons so the decision cannot be sent twice.
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, _ = tg.Bot.Request(edit)

	userID := UserID(TelegramPrefix, strconv.FormatInt(chatID, 10))
	response := tg.Router.Resolve(context.Background(), userID, handle, approved)
	if _, err := tg.Bot.Send(tgbotapi.NewMessage(chatID, response)); err != nil {
		log.Printf("[ GATEWAY ] Failed to reply to %d: %v", chatID, err)
	}
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid chat ID: %s", chatID)
	}
	return id, nil
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	_, err = tg.Bot.Send(tgbotapi.NewMessage(id, text))
	return err
}

// RequestConfirmation sends the prompt with Approve / Deny buttons.
func (tg *TelegramGateway) RequestConfirmation(ctx context.Context, req confirm.Request) error {
	id, err := parseChatID(req.UserID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, confirmationText(req))
	msg.ReplyMarkup = confirmKeyboard(req.Handle)
	_, err = tg.Bot.Send(msg)
	return err
}

func confirmKeyboard(h confirm.Handle) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", DecisionData(h, true)),
			tgbotapi.NewInlineKeyboardButtonData("🚫 Deny", DecisionData(h, false)),
		),
	)
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
