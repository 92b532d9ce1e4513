package scrubjay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Slash command names.
const (
	SlashCommandWatch       = "watch"
	SlashCommandUnwatch     = "unwatch"
	SlashCommandWatchFeed   = "watchfeed"
	SlashCommandUnwatchFeed = "unwatchfeed"
	SlashCommandMute        = "mute"
	SlashCommandUnmute      = "unmute"
	SlashCommandWatching    = "watching"

	commandOptionRegion  = "region"
	commandOptionCounty  = "county"
	commandOptionSource  = "source"
	commandOptionSpecies = "species"
)

// slashCommands returns the bot's full application command set, used
// with ApplicationCommandBulkOverwrite so removed commands disappear.
func slashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        SlashCommandWatch,
			Description: "Post notable bird sightings for a region to this channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionRegion,
					Description: "Region code (example: US-CA)",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionCounty,
					Description: "County code to narrow to (example: US-CA-085)",
					Required:    false,
				},
			},
		},
		{
			Name:        SlashCommandUnwatch,
			Description: "Stop posting sightings for a region to this channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionRegion,
					Description: "Region code (example: US-CA)",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionCounty,
					Description: "County code (example: US-CA-085)",
					Required:    false,
				},
			},
		},
		{
			Name:        SlashCommandWatchFeed,
			Description: "Post new entries from a news feed to this channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionSource,
					Description: "Feed source name",
					Required:    true,
				},
			},
		},
		{
			Name:        SlashCommandUnwatchFeed,
			Description: "Stop posting entries from a news feed to this channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionSource,
					Description: "Feed source name",
					Required:    true,
				},
			},
		},
		{
			Name:        SlashCommandMute,
			Description: "Suppress alerts matching a species or title in this channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionSpecies,
					Description: "Species or title to mute (example: Wild Turkey)",
					Required:    true,
				},
			},
		},
		{
			Name:        SlashCommandUnmute,
			Description: "Remove a mute from this channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionSpecies,
					Description: "Species or title to unmute",
					Required:    true,
				},
			},
		},
		{
			Name:        SlashCommandWatching,
			Description: "Show this channel's subscriptions and mutes",
		},
	}
}

// CommandRouter maps slash command interactions onto subscription store
// operations. Every response is ephemeral.
type CommandRouter struct {
	store   *SubscriptionStore
	session DiscordSessionHandler
	sources []FeedSourceConfig
	logger  *slog.Logger
}

func NewCommandRouter(
	store *SubscriptionStore,
	session DiscordSessionHandler,
	sources []FeedSourceConfig,
	log *slog.Logger,
) *CommandRouter {
	if log == nil {
		log = slog.Default()
	}
	return &CommandRouter{
		store:   store,
		session: session,
		sources: sources,
		logger:  log.With(loggerNameKey, "command_router"),
	}
}

// handleInteraction is registered as the discordgo InteractionCreate
// handler. Failures reduce to a generic ephemeral reply; details go to
// the log, not the channel.
func (c *CommandRouter) handleInteraction(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	ctx := context.Background()
	data := i.ApplicationCommandData()
	logger := c.logger.With(
		"command", data.Name,
		"channel_id", i.ChannelID,
	)

	content, err := c.execute(ctx, i.ChannelID, data)
	if err != nil {
		logger.ErrorContext(ctx, "command failed", tint.Err(err))
		if content == "" {
			content = "Something went wrong. Try again in a moment."
		}
	} else {
		logger.InfoContext(ctx, "command handled")
	}
	c.respond(i.Interaction, content)
}

// execute runs one command and returns the reply text. When err is
// non-nil a non-empty content is a user-facing explanation (bad input),
// and an empty one means an internal error.
func (c *CommandRouter) execute(
	ctx context.Context,
	channelID string,
	data discordgo.ApplicationCommandInteractionData,
) (string, error) {
	opts := commandOptions(data)

	switch data.Name {
	case SlashCommandWatch:
		scope, err := scopeFromOptions(opts)
		if err != nil {
			return "That region code doesn't look right. Use a code like `US-CA` or `US-CA-085`.", err
		}
		result, err := c.store.Subscribe(ctx, channelID, scope)
		if err != nil {
			return "", err
		}
		if !result.Created && result.Backfilled == 0 {
			return fmt.Sprintf("Already watching **%s** here.", scope), nil
		}
		return fmt.Sprintf(
			"Now watching **%s**. New notable sightings will be posted here.",
			scope,
		), nil

	case SlashCommandUnwatch:
		scope, err := scopeFromOptions(opts)
		if err != nil {
			return "That region code doesn't look right. Use a code like `US-CA` or `US-CA-085`.", err
		}
		removed, err := c.store.Unsubscribe(ctx, channelID, scope)
		if err != nil {
			return "", err
		}
		if !removed {
			return fmt.Sprintf("This channel wasn't watching **%s**.", scope), nil
		}
		return fmt.Sprintf("Stopped watching **%s**.", scope), nil

	case SlashCommandWatchFeed:
		source := opts[commandOptionSource]
		if !c.knownSource(source) {
			return fmt.Sprintf(
				"Unknown feed %q. Available feeds: %s.",
				source,
				strings.Join(c.sourceNames(), ", "),
			), errors.New("unknown feed source")
		}
		result, err := c.store.SubscribeFeed(ctx, channelID, source)
		if err != nil {
			return "", err
		}
		if !result.Created && result.Backfilled == 0 {
			return fmt.Sprintf("Already watching feed **%s** here.", source), nil
		}
		return fmt.Sprintf("Now watching feed **%s**.", source), nil

	case SlashCommandUnwatchFeed:
		source := opts[commandOptionSource]
		removed, err := c.store.UnsubscribeFeed(ctx, channelID, source)
		if err != nil {
			return "", err
		}
		if !removed {
			return fmt.Sprintf("This channel wasn't watching feed **%s**.", source), nil
		}
		return fmt.Sprintf("Stopped watching feed **%s**.", source), nil

	case SlashCommandMute:
		name := opts[commandOptionSpecies]
		added, err := c.store.AddFilter(ctx, channelID, name)
		if errors.Is(err, ErrFilterNameEmpty) {
			return "Give me a species or title to mute.", err
		}
		if err != nil {
			return "", err
		}
		if !added {
			return fmt.Sprintf("**%s** is already muted here.", name), nil
		}
		return fmt.Sprintf("Muted **%s** in this channel.", name), nil

	case SlashCommandUnmute:
		name := opts[commandOptionSpecies]
		removed, err := c.store.RemoveFilter(ctx, channelID, name)
		if errors.Is(err, ErrFilterNameEmpty) {
			return "Give me a species or title to unmute.", err
		}
		if err != nil {
			return "", err
		}
		if !removed {
			return fmt.Sprintf("**%s** wasn't muted here.", name), nil
		}
		return fmt.Sprintf("Unmuted **%s** in this channel.", name), nil

	case SlashCommandWatching:
		overview, err := c.store.Overview(ctx, channelID)
		if err != nil {
			return "", err
		}
		return renderOverview(overview), nil
	}

	return "", fmt.Errorf("unknown command: %s", data.Name)
}

func (c *CommandRouter) respond(
	interaction *discordgo.Interaction,
	content string,
) {
	err := c.session.InteractionRespond(
		interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		c.logger.Error("error sending interaction response", tint.Err(err))
	}
}

func (c *CommandRouter) knownSource(name string) bool {
	for _, src := range c.sources {
		if src.Name == name {
			return true
		}
	}
	return false
}

func (c *CommandRouter) sourceNames() []string {
	names := make([]string, 0, len(c.sources))
	for _, src := range c.sources {
		names = append(names, src.Name)
	}
	return names
}

// commandOptions flattens interaction options into a name/value map.
func commandOptions(
	data discordgo.ApplicationCommandInteractionData,
) map[string]string {
	opts := make(map[string]string, len(data.Options))
	for _, opt := range data.Options {
		opts[opt.Name] = opt.StringValue()
	}
	return opts
}

// scopeFromOptions builds a RegionScope from the region/county command
// options: a bare region means the wildcard scope, a county narrows it.
func scopeFromOptions(opts map[string]string) (RegionScope, error) {
	county := strings.TrimSpace(opts[commandOptionCounty])
	if county != "" {
		return ParseRegionScope(county)
	}
	return ParseRegionScope(opts[commandOptionRegion])
}

func renderOverview(overview ChannelOverview) string {
	var b strings.Builder
	if len(overview.Subscriptions) == 0 &&
		len(overview.FeedSubscriptions) == 0 {
		b.WriteString("This channel isn't watching anything. Try `/watch`.")
	}
	if len(overview.Subscriptions) > 0 {
		b.WriteString("**Regions:**\n")
		for _, sub := range overview.Subscriptions {
			fmt.Fprintf(&b, "- %s\n", sub.Scope())
		}
	}
	if len(overview.FeedSubscriptions) > 0 {
		b.WriteString("**Feeds:**\n")
		for _, sub := range overview.FeedSubscriptions {
			fmt.Fprintf(&b, "- %s\n", sub.Source)
		}
	}
	if len(overview.Filters) > 0 {
		b.WriteString("**Muted:**\n")
		for _, f := range overview.Filters {
			fmt.Fprintf(&b, "- %s\n", f.SpeciesKey)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
