package scrubjay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderObservationEmbed(t *testing.T) {
	bucket := &ObservationBucket{
		SpeciesCode: "grccra1",
		CommonName:  "Gray-crowned Crane",
		SciName:     "Balearica regulorum",
		LocID:       "L1",
		LocName:     "Stewart Park",
		CountyCode:  "US-NY-109",
		Rows: []UndeliveredObservation{
			{
				ObsKey:     "grccra1:S1",
				SubID:      "S1",
				ObsDt:      "2026-08-20 09:15",
				HowMany:    2,
				PhotoCount: 1,
			},
			{
				ObsKey: "grccra1:S2",
				SubID:  "S2",
				ObsDt:  "2026-08-20 11:00",
			},
		},
	}

	embed := renderObservationEmbed(bucket, map[string]struct{}{})
	assert.Equal(t, "Gray-crowned Crane", embed.Title)
	assert.Equal(t, embedColorAlert, embed.Color)
	assert.Contains(t, embed.Description, "Stewart Park")
	assert.Contains(t, embed.Description, "US-NY-109")
	assert.Contains(t, embed.Description, "Reports:** 2")
	assert.Contains(t, embed.Description, "2026-08-20 11:00")
	assert.Contains(t, embed.Description, "1 photo(s)")
	assert.Equal(t, "https://ebird.org/checklist/S2", embed.URL)
}

func TestRenderObservationEmbedConfirmed(t *testing.T) {
	bucket := &ObservationBucket{
		SpeciesCode: "grccra1",
		CommonName:  "Gray-crowned Crane",
		LocID:       "L1",
		LocName:     "Stewart Park",
		Rows: []UndeliveredObservation{
			{ObsKey: "grccra1:S1", SubID: "S1", ObsDt: "2026-08-20 09:15"},
		},
	}

	confirmed := map[string]struct{}{bucketKey("grccra1", "L1"): {}}
	embed := renderObservationEmbed(bucket, confirmed)
	assert.Equal(t, "Gray-crowned Crane (confirmed)", embed.Title)
	assert.Equal(t, embedColorConfirmed, embed.Color)
}

func TestRenderObservationEmbedPrivateLocation(t *testing.T) {
	bucket := &ObservationBucket{
		SpeciesCode: "rufhum",
		CommonName:  "Rufous Hummingbird",
		LocID:       "L2",
		LocName:     "123 Maple St backyard",
		LocPrivate:  true,
		Rows: []UndeliveredObservation{
			{ObsKey: "rufhum:S1", SubID: "S1", ObsDt: "2026-08-20 09:15"},
		},
	}

	embed := renderObservationEmbed(bucket, map[string]struct{}{})
	// the real location name and checklist link never appear
	assert.NotContains(t, embed.Description, "Maple St")
	assert.Contains(t, embed.Description, privateLocationLabel)
	assert.Empty(t, embed.URL)
}

func TestRenderObservationEmbedTruncation(t *testing.T) {
	bucket := &ObservationBucket{
		SpeciesCode: "sp1",
		CommonName:  strings.Repeat("x", 300),
		LocID:       "L1",
		LocName:     "Park",
		Rows: []UndeliveredObservation{
			{ObsKey: "sp1:S1", SubID: "S1", ObsDt: "2026-08-20 09:15"},
		},
	}
	embed := renderObservationEmbed(bucket, map[string]struct{}{})
	assert.Len(t, embed.Title, 256)
}

func TestRenderFeedMessage(t *testing.T) {
	items := []UndeliveredFeedItem{
		{
			GUID:        "g1",
			Source:      "rba",
			Title:       "Rare Bird Alert",
			Link:        "https://example.com/rba/1",
			Description: "Highlights this week.",
		},
		{
			GUID:   "g2",
			Source: "rba",
			Title:  "Second Entry",
		},
	}

	message := renderFeedMessage(items)
	require.Len(t, message.Embeds, 2)
	assert.Equal(t, "Rare Bird Alert", message.Embeds[0].Title)
	assert.Equal(t, "https://example.com/rba/1", message.Embeds[0].URL)
	assert.Equal(t, "rba", message.Embeds[0].Footer.Text)
	assert.Equal(t, embedColorFeed, message.Embeds[0].Color)
}

func TestMediaSummary(t *testing.T) {
	assert.Empty(t, mediaSummary(AggregatedAlert{}))
	assert.Equal(
		t,
		"2 photo(s), 1 audio",
		mediaSummary(AggregatedAlert{PhotoCount: 2, AudioCount: 1}),
	)
	assert.Equal(
		t,
		"1 video(s)",
		mediaSummary(AggregatedAlert{VideoCount: 1}),
	)
}
