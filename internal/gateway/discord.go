package gateway

import (
	"context"
	"log"

	"github.com/bwmarrin/discordgo"

	"github.com/rahul/taskmesh/internal/confirm"
)

// DiscordPrefix marks user ids that belong to Discord channels.
const DiscordPrefix = "dc"

// DiscordGateway serves the same commands as Telegram. Replies go to the
// channel the message came from; confirmations carry buttons.
type DiscordGateway struct {
	Session *discordgo.Session
	Router  *Router
	stop    chan struct{}
}

func NewDiscordGateway(token string, router *Router) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	d := &DiscordGateway{Session: s, Router: router, stop: make(chan struct{})}
	s.AddHandler(d.onMessage)
	s.AddHandler(d.onInteraction)
	return d, nil
}

// Start opens the websocket and blocks until Stop.
func (d *DiscordGateway) Start() error {
	if err := d.Session.Open(); err != nil {
		return err
	}
	if d.Session.State != nil && d.Session.State.User != nil {
		log.Printf("[ GATEWAY ] Authorized on Discord account %s", d.Session.State.User.Username)
	}
	<-d.stop
	return nil
}

func (d *DiscordGateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	log.Printf("[ GATEWAY ] [%s] %s", m.Author.Username, m.Content)

	response := d.Router.Handle(context.Background(), UserID(DiscordPrefix, m.ChannelID), m.Content)
	if _, err := s.ChannelMessageSend(m.ChannelID, response); err != nil {
		log.Printf("[ GATEWAY ] Failed to reply in %s: %v", m.ChannelID, err)
	}
}

func (d *DiscordGateway) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	handle, approved, err := ParseDecision(i.MessageComponentData().CustomID)
	var response string
	if err != nil {
		response = "Unknown action."
	} else {
		response = d.Router.Resolve(context.Background(), UserID(DiscordPrefix, i.ChannelID), handle, approved)
	}

	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: response},
	})
	if err != nil {
		log.Printf("[ GATEWAY ] Failed to answer interaction: %v", err)
	}
}

func (d *DiscordGateway) Send(chatID string, text string) error {
	_, err := d.Session.ChannelMessageSend(chatID, text)
	return err
}

func (d *DiscordGateway) RequestConfirmation(ctx context.Context, req confirm.Request) error {
	_, err := d.Session.ChannelMessageSendComplex(req.UserID, &discordgo.MessageSend{
		Content: confirmationText(req),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{Label: "Approve", Style: discordgo.SuccessButton, CustomID: DecisionData(req.Handle, true)},
					discordgo.Button{Label: "Deny", Style: discordgo.DangerButton, CustomID: DecisionData(req.Handle, false)},
				},
			},
		},
	})
	return err
}

func (d *DiscordGateway) Stop() error {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	return d.Session.Close()
}
