package scrubjay

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	embedColorAlert     = 0x2E86C1
	embedColorConfirmed = 0x1E8449
	embedColorFeed      = 0x7D3C98

	privateLocationLabel = "Private location"

	embedDescriptionMaxLength = 2048
)

// renderObservationMessage builds one Discord message from a chunk of
// aggregated alert buckets. Private locations are redacted: the
// location name, coordinates, and map link are never included for them.
func renderObservationMessage(
	buckets []*ObservationBucket,
	confirmed map[string]struct{},
) *discordgo.MessageSend {
	embeds := make([]*discordgo.MessageEmbed, 0, len(buckets))
	for _, bucket := range buckets {
		embeds = append(embeds, renderObservationEmbed(bucket, confirmed))
	}
	return &discordgo.MessageSend{Embeds: embeds}
}

func renderObservationEmbed(
	bucket *ObservationBucket,
	confirmed map[string]struct{},
) *discordgo.MessageEmbed {
	alert := aggregateBucket(bucket, confirmed)

	title := bucket.CommonName
	color := embedColorAlert
	if alert.Confirmed {
		title = fmt.Sprintf("%s (confirmed)", title)
		color = embedColorConfirmed
	}

	locName := bucket.LocName
	if bucket.LocPrivate {
		locName = privateLocationLabel
	}

	var details []string
	details = append(details, fmt.Sprintf("*%s*", bucket.SciName))
	details = append(details, fmt.Sprintf("**Location:** %s", locName))
	if bucket.CountyCode != "" {
		details = append(
			details,
			fmt.Sprintf("**County:** %s", bucket.CountyCode),
		)
	}
	details = append(
		details,
		fmt.Sprintf("**Reports:** %d", alert.ReportCount),
	)
	if alert.MaxCount > 1 {
		details = append(
			details,
			fmt.Sprintf("**High count:** %d", alert.MaxCount),
		)
	}
	if media := mediaSummary(alert); media != "" {
		details = append(details, fmt.Sprintf("**Media:** %s", media))
	}
	details = append(
		details,
		fmt.Sprintf("**Latest report:** %s", alert.LatestObsDt),
	)

	embed := &discordgo.MessageEmbed{
		Title:       truncate(title, 256),
		Description: truncate(strings.Join(details, "\n"), embedDescriptionMaxLength),
		Color:       color,
	}

	if !bucket.LocPrivate && len(bucket.Rows) > 0 {
		// Link the most recent checklist rather than all of them.
		last := bucket.Rows[len(bucket.Rows)-1]
		embed.URL = fmt.Sprintf("https://ebird.org/checklist/%s", last.SubID)
	}
	return embed
}

func mediaSummary(alert AggregatedAlert) string {
	var parts []string
	if alert.PhotoCount > 0 {
		parts = append(parts, fmt.Sprintf("%d photo(s)", alert.PhotoCount))
	}
	if alert.AudioCount > 0 {
		parts = append(parts, fmt.Sprintf("%d audio", alert.AudioCount))
	}
	if alert.VideoCount > 0 {
		parts = append(parts, fmt.Sprintf("%d video(s)", alert.VideoCount))
	}
	return strings.Join(parts, ", ")
}

// renderFeedMessage builds one Discord message from a chunk of feed
// entries, one embed per entry.
func renderFeedMessage(items []UndeliveredFeedItem) *discordgo.MessageSend {
	embeds := make([]*discordgo.MessageEmbed, 0, len(items))
	for _, item := range items {
		embeds = append(
			embeds,
			&discordgo.MessageEmbed{
				Title:       truncate(item.Title, 256),
				URL:         item.Link,
				Description: truncate(item.Description, embedDescriptionMaxLength),
				Color:       embedColorFeed,
				Footer: &discordgo.MessageEmbedFooter{
					Text: item.Source,
				},
			},
		)
	}
	return &discordgo.MessageSend{Embeds: embeds}
}
