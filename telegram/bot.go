package telegram

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/models"
)

// TgBot pushes session and fault events to subscribed operators. It
// implements internal.EventHandler; event delivery never blocks the caller.
type TgBot struct {
	api           *tgbotapi.BotAPI
	database      internal.Database
	subscriptions map[int]models.UserSubscription
	event         chan MessageContent
	send          chan MessageContent
}

type MessageContent struct {
	ChatID int64
	Text   string
}

func NewBot(apiKey string) (*TgBot, error) {
	tgBot := &TgBot{
		subscriptions: make(map[int]models.UserSubscription),
		event:         make(chan MessageContent, 100),
		send:          make(chan MessageContent, 100),
	}
	api, err := tgbotapi.NewBotAPI(apiKey)
	if err != nil {
		return nil, err
	}
	tgBot.api = api
	return tgBot, nil
}

// SetDatabase attach database service
func (b *TgBot) SetDatabase(database internal.Database) {
	b.database = database
}

func (b *TgBot) Start() {
	if b.database != nil {
		subscriptions, err := b.database.GetSubscriptions()
		if err != nil {
			log.Printf("bot: error getting subscriptions: %v", err)
		} else {
			for _, subscription := range subscriptions {
				b.subscriptions[subscription.UserID] = subscription
			}
		}
	}
	go b.sendPump()
	go b.eventPump()
	go b.updatesPump()
}

func (b *TgBot) updatesPump() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates, err := b.api.GetUpdatesChan(u)
	if err != nil {
		log.Printf("bot: error getting updates: %v", err)
		return
	}
	for update := range updates {
		if update.Message == nil || !update.Message.IsCommand() {
			continue
		}
		switch update.Message.Command() {
		case "start":
			subscription := models.UserSubscription{
				UserID:           update.Message.From.ID,
				User:             update.Message.From.UserName,
				SubscriptionType: "status",
			}
			b.subscriptions[update.Message.From.ID] = subscription
			if b.database != nil {
				if err := b.database.AddSubscription(&subscription); err != nil {
					log.Printf("bot: error adding subscription: %v", err)
				}
			}
			msg := fmt.Sprintf("Hello *%v*, you are now subscribed to updates", update.Message.From.UserName)
			b.send <- MessageContent{ChatID: update.Message.Chat.ID, Text: msg}
		case "stop":
			delete(b.subscriptions, update.Message.From.ID)
			if b.database != nil {
				if err := b.database.DeleteSubscription(&models.UserSubscription{UserID: update.Message.From.ID}); err != nil {
					log.Printf("bot: error deleting subscription: %v", err)
				}
			}
			b.send <- MessageContent{ChatID: update.Message.Chat.ID, Text: "Your subscription has been removed"}
		}
	}
}

// eventPump fans an event out to every subscriber.
func (b *TgBot) eventPump() {
	for event := range b.event {
		for _, subscription := range b.subscriptions {
			b.send <- MessageContent{ChatID: int64(subscription.UserID), Text: event.Text}
		}
	}
}

func (b *TgBot) sendPump() {
	for content := range b.send {
		message := tgbotapi.NewMessage(content.ChatID, content.Text)
		message.ParseMode = tgbotapi.ModeMarkdown
		if _, err := b.api.Send(message); err != nil {
			log.Printf("bot: error sending message: %v", err)
		}
	}
}

func (b *TgBot) queueEvent(text string) {
	select {
	case b.event <- MessageContent{Text: text}:
	default:
		// subscribers are behind, drop rather than block the handler
	}
}

func (b *TgBot) OnStationRegistered(event *internal.EventMessage) {
	b.queueEvent(fmt.Sprintf("*%v*: registered, status `%v`", event.ChargePointId, event.Status))
}

func (b *TgBot) OnSessionStart(event *internal.EventMessage) {
	b.queueEvent(fmt.Sprintf("*%v*: connector %v: session %v started by %v", event.ChargePointId, event.ConnectorId, event.TransactionId, event.Username))
}

func (b *TgBot) OnEndOfCharge(event *internal.EventMessage) {
	b.queueEvent(fmt.Sprintf("*%v*: connector %v: session %v finished charging", event.ChargePointId, event.ConnectorId, event.TransactionId))
}

func (b *TgBot) OnOptimalChargeReached(event *internal.EventMessage) {
	b.queueEvent(fmt.Sprintf("*%v*: connector %v: session %v reached optimal charge", event.ChargePointId, event.ConnectorId, event.TransactionId))
}

func (b *TgBot) OnSessionEnd(event *internal.EventMessage) {
	b.queueEvent(fmt.Sprintf("*%v*: connector %v: session %v ended; %v", event.ChargePointId, event.ConnectorId, event.TransactionId, event.Info))
}

func (b *TgBot) OnSignedSessionEnd(event *internal.EventMessage) {
	b.queueEvent(fmt.Sprintf("*%v*: connector %v: signed session %v ended", event.ChargePointId, event.ConnectorId, event.TransactionId))
}

func (b *TgBot) OnStatusError(event *internal.EventMessage) {
	b.queueEvent(fmt.Sprintf("*%v*: connector %v: `%v` %v", event.ChargePointId, event.ConnectorId, event.Status, event.Info))
}

func (b *TgBot) OnAuthorize(_ *internal.EventMessage) {
	// too chatty for operators
}
