// Package ingest bridges the teacher's catalog-shaped playlist parsers
// (internal/indexer's M3U and Xtream player_api readers) into the flat
// model.Item records the filter/mapper/pipeline stages (C3-C5) operate
// on.
package ingest

import (
	"github.com/ivgateway/ivproxy/internal/catalog"
	"github.com/ivgateway/ivproxy/internal/model"
)

// FromCatalog flattens parsed movies/series/live channels into
// model.Items tagged with inputName so the identity registry (C6) can
// resolve stable virtual IDs by (inputName, providerStreamID).
func FromCatalog(movies []catalog.Movie, series []catalog.Series, live []catalog.LiveChannel, inputName string) []model.Item {
	items := make([]model.Item, 0, len(movies)+len(live))

	for _, m := range movies {
		items = append(items, model.Item{
			Name:  m.Title,
			Title: m.Title,
			Group: m.Category,
			ID:    m.ID,
			URL:   m.StreamURL,
			Logo:  m.ArtworkURL,
			Input: inputName,
			Type:  model.TypeVOD,
		})
	}

	for _, s := range series {
		for _, season := range s.Seasons {
			for _, ep := range season.Episodes {
				items = append(items, model.Item{
					Name:  s.Title,
					Title: ep.Title,
					Group: s.Category,
					ID:    ep.ID,
					URL:   ep.StreamURL,
					Logo:  s.ArtworkURL,
					Input: inputName,
					Type:  model.TypeSeries,
				})
			}
		}
	}

	for _, l := range live {
		items = append(items, model.Item{
			Name:         l.GuideName,
			Title:        l.GuideName,
			ID:           l.ChannelID,
			URL:          l.StreamURL,
			EPGChannelID: l.TVGID,
			Input:        inputName,
			Type:         model.TypeLive,
		})
	}

	return items
}

// ToCatalog is the inverse transform: it recovers movies/series/live
// channels out of pipeline output so internal/vodfs's FUSE mount (which
// still browses the teacher's catalog.Movie/Series shapes) can serve a
// target's VOD items without duplicating its directory-layout logic.
func ToCatalog(items []model.Item) (movies []catalog.Movie, series []catalog.Series, live []catalog.LiveChannel) {
	seriesIdx := make(map[string]int)

	for _, it := range items {
		switch it.Type {
		case model.TypeVOD:
			movies = append(movies, catalog.Movie{
				ID:         it.ID,
				Title:      it.Caption(),
				StreamURL:  it.URL,
				ArtworkURL: it.Logo,
				Category:   it.Group,
			})
		case model.TypeSeries:
			idx, ok := seriesIdx[it.Name]
			if !ok {
				idx = len(series)
				seriesIdx[it.Name] = idx
				series = append(series, catalog.Series{
					ID:         "series_" + it.Name,
					Title:      it.Name,
					ArtworkURL: it.Logo,
					Category:   it.Group,
				})
			}
			series[idx].Seasons = appendEpisode(series[idx].Seasons, it)
		case model.TypeLive:
			live = append(live, catalog.LiveChannel{
				ChannelID:  it.ID,
				GuideName:  it.Caption(),
				StreamURL:  it.URL,
				StreamURLs: []string{it.URL},
				EPGLinked:  it.EPGChannelID != "",
				TVGID:      it.EPGChannelID,
			})
		}
	}
	return movies, series, live
}

// appendEpisode appends a flat model.Item onto the single, implicit
// season 1 of a series; model.Item carries no season/episode numbering
// of its own (the playlist pipeline stages operate on flat records), so
// VOD library scans group by series name only.
func appendEpisode(seasons []catalog.Season, it model.Item) []catalog.Season {
	if len(seasons) == 0 {
		seasons = append(seasons, catalog.Season{Number: 1})
	}
	seasons[0].Episodes = append(seasons[0].Episodes, catalog.Episode{
		ID:         it.ID,
		SeasonNum:  1,
		EpisodeNum: len(seasons[0].Episodes) + 1,
		Title:      it.Caption(),
		StreamURL:  it.URL,
	})
	return seasons
}
