package scrubjay

import (
	"fmt"
	"sort"
)

// bucketKey is the natural content key a dispatch cycle groups
// observations under: one alert per species per location.
func bucketKey(speciesCode string, locID string) string {
	return fmt.Sprintf("%s|%s", speciesCode, locID)
}

// ObservationBucket collects the raw undelivered rows for one
// (species, location) pair on one channel within a dispatch cycle.
// Multiple reports of the same bird collapse into one alert instead of
// N near-identical messages.
type ObservationBucket struct {
	SpeciesCode string
	CommonName  string
	SciName     string
	LocID       string
	LocName     string
	LocPrivate  bool
	RegionCode  string
	CountyCode  string
	Rows        []UndeliveredObservation
}

// ItemKeys returns the observation keys in this bucket, in row order.
func (b *ObservationBucket) ItemKeys() []string {
	keys := make([]string, 0, len(b.Rows))
	for _, r := range b.Rows {
		keys = append(keys, r.ObsKey)
	}
	return keys
}

// AggregatedAlert summarizes a bucket: total report count, summed media
// tallies, the largest individual count claimed, and the latest
// observation timestamp. Confirmed marks whether the (species,
// location) pair has a validated-and-reviewed report in the trailing
// confirmation window; it changes rendering emphasis only.
type AggregatedAlert struct {
	ReportCount int
	PhotoCount  int
	AudioCount  int
	VideoCount  int
	MaxCount    int
	LatestObsDt string
	Confirmed   bool
}

// groupObservations nests undelivered rows by channel, then by
// (species, location) bucket. Bucket iteration order is stabilized by
// the caller via sortedBucketKeys.
func groupObservations(
	rows []UndeliveredObservation,
) map[string]map[string]*ObservationBucket {
	grouped := map[string]map[string]*ObservationBucket{}
	for _, row := range rows {
		channelBuckets, ok := grouped[row.ChannelID]
		if !ok {
			channelBuckets = map[string]*ObservationBucket{}
			grouped[row.ChannelID] = channelBuckets
		}
		key := bucketKey(row.SpeciesCode, row.LocID)
		bucket, ok := channelBuckets[key]
		if !ok {
			bucket = &ObservationBucket{
				SpeciesCode: row.SpeciesCode,
				CommonName:  row.CommonName,
				SciName:     row.SciName,
				LocID:       row.LocID,
				LocName:     row.LocName,
				LocPrivate:  row.LocPrivate,
				RegionCode:  row.RegionCode,
				CountyCode:  row.CountyCode,
			}
			channelBuckets[key] = bucket
		}
		bucket.Rows = append(bucket.Rows, row)
	}
	return grouped
}

// sortedBucketKeys returns a channel's bucket keys in deterministic
// order, so repeated cycles over the same data render identically.
func sortedBucketKeys(buckets map[string]*ObservationBucket) []string {
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// aggregateBucket computes the alert summary for one bucket. Timestamps
// compare lexicographically (the eBird layout sorts chronologically);
// ties are broken arbitrarily since only "latest" matters.
func aggregateBucket(
	b *ObservationBucket,
	confirmed map[string]struct{},
) AggregatedAlert {
	alert := AggregatedAlert{ReportCount: len(b.Rows)}
	for _, row := range b.Rows {
		alert.PhotoCount += row.PhotoCount
		alert.AudioCount += row.AudioCount
		alert.VideoCount += row.VideoCount
		if row.HowMany > alert.MaxCount {
			alert.MaxCount = row.HowMany
		}
		if row.ObsDt > alert.LatestObsDt {
			alert.LatestObsDt = row.ObsDt
		}
	}
	_, alert.Confirmed = confirmed[bucketKey(b.SpeciesCode, b.LocID)]
	return alert
}

// groupFeedItems nests undelivered feed rows by channel, preserving
// query order (published ascending) within each channel.
func groupFeedItems(
	rows []UndeliveredFeedItem,
) map[string][]UndeliveredFeedItem {
	grouped := map[string][]UndeliveredFeedItem{}
	for _, row := range rows {
		grouped[row.ChannelID] = append(grouped[row.ChannelID], row)
	}
	return grouped
}
