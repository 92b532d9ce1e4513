package scrubjay

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// DiscordSessionHandler abstracts the discordgo session methods the bot
// actually uses, so tests can substitute a stub without a gateway
// connection.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ChannelMessageSendComplex sends a rich (embed) message to a channel.
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ApplicationCommandBulkOverwrite overwrites the bot's slash
	// commands in bulk.
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// InteractionRespond responds to a slash command interaction.
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		opts ...discordgo.RequestOption,
	) error

	// AddHandler registers a discordgo event handler, returning a
	// function that removes it.
	AddHandler(handler any) func()

	// UpdateCustomStatus sets the bot's custom status text.
	UpdateCustomStatus(state string) error
}

// DiscordSession wraps a concrete *discordgo.Session with logging,
// implementing DiscordSessionHandler.
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	d.logger.Info("opening discord session")
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	d.logger.Info("closing discord session")
	return d.session.Close()
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, data, opts...)
	if err != nil {
		d.logger.Error(
			"error sending channel message",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
	return msg, err
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	d.logger.Info(
		"overwriting application commands",
		"app_id", appID,
		"guild_id", guildID,
		"count", len(commands),
	)
	return d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	opts ...discordgo.RequestOption,
) error {
	err := d.session.InteractionRespond(interaction, resp, opts...)
	if err != nil {
		d.logger.Error("error responding to interaction", tint.Err(err))
	}
	return err
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) UpdateCustomStatus(state string) error {
	return d.session.UpdateCustomStatus(state)
}

// Discord owns the gateway connection and slash command surface.
type Discord struct {
	session DiscordSessionHandler
	config  *DiscordConfig
	logger  *slog.Logger

	connected         atomic.Bool
	metricConnects    atomic.Int64
	metricDisconnects atomic.Int64

	removeHandlerFuncs []func()
}

func newDiscord(config *DiscordConfig, log *slog.Logger) (*Discord, error) {
	if log == nil {
		log = slog.Default()
	}
	logger := log.With(loggerNameKey, "discord")

	d := &Discord{config: config, logger: logger}

	session, err := discordgo.New(fmt.Sprintf("Bot %s", config.Token))
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	session.LogLevel = discordgoLogLevel(config.DiscordGoLogLevel.Level())
	discordgo.Logger = discordgoLoggerFunc(context.Background(), logger.Handler())
	d.session = DiscordSession{session: session, logger: logger}
	return d, nil
}

// connect opens the gateway session and registers lifecycle handlers.
func (d *Discord) connect() error {
	d.removeHandlerFuncs = append(
		d.removeHandlerFuncs,
		d.session.AddHandler(d.handlerConnect),
		d.session.AddHandler(d.handlerDisconnect),
		d.session.AddHandler(d.handlerReady),
	)
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}
	return nil
}

func (d *Discord) disconnect() error {
	for _, remove := range d.removeHandlerFuncs {
		remove()
	}
	d.removeHandlerFuncs = nil
	return d.session.Close()
}

func (d *Discord) handlerConnect(_ *discordgo.Session, _ *discordgo.Connect) {
	d.connected.Store(true)
	d.metricConnects.Add(1)
	d.logger.Info("discord gateway connected")
}

func (d *Discord) handlerDisconnect(
	_ *discordgo.Session,
	_ *discordgo.Disconnect,
) {
	d.connected.Store(false)
	d.metricDisconnects.Add(1)
	d.logger.Warn("discord gateway disconnected")
}

func (d *Discord) handlerReady(_ *discordgo.Session, r *discordgo.Ready) {
	d.logger.Info(
		"discord session ready",
		"username", r.User.Username,
		"session_id", r.SessionID,
	)
	if d.config.CustomStatus != "" {
		if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
			d.logger.Warn("error setting custom status", tint.Err(err))
		}
	}
}

// Send posts one message to a channel, satisfying ChannelNotifier.
func (d *Discord) Send(
	ctx context.Context,
	channelID string,
	message *discordgo.MessageSend,
) error {
	_, err := d.session.ChannelMessageSendComplex(
		channelID,
		message,
		discordgo.WithContext(ctx),
	)
	return err
}

// registerCommands overwrites the bot's slash commands. With a guild ID
// configured the commands register guild-scoped (instant propagation,
// useful in development); otherwise globally.
func (d *Discord) registerCommands(ctx context.Context) error {
	registered, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		slashCommands(),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error registering application commands: %w", err)
	}
	for _, cmd := range registered {
		d.logger.Info("registered command", "name", cmd.Name, "id", cmd.ID)
	}
	return nil
}
