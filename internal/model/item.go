// Package model holds the playlist item and target types shared across the
// filter/mapper DSLs, the pipeline, the identity registry, and the output
// assemblers.
package model

import "fmt"

// ItemType is the closed set of playlist item kinds.
type ItemType string

const (
	TypeLive   ItemType = "live"
	TypeVOD    ItemType = "vod"
	TypeSeries ItemType = "series"
)

// NormalizeItemType maps the "movie" alias onto "vod" (spec: Type =
// live|vod|series, "movie" is an alias of vod).
func NormalizeItemType(s string) (ItemType, error) {
	switch s {
	case "live":
		return TypeLive, nil
	case "vod", "movie":
		return TypeVOD, nil
	case "series":
		return TypeSeries, nil
	default:
		return "", fmt.Errorf("model: unknown item type %q", s)
	}
}

// Item is an ordered playlist record. All fields are strings unless noted.
type Item struct {
	Name         string
	Title        string
	Group        string
	ID           string // provider stream id
	Chno         int    // 0 = unset
	URL          string
	Logo         string
	LogoSmall    string
	ParentCode   string
	AudioTrack   string
	TimeShift    string
	Rec          string
	EPGChannelID string
	EPGID        string
	Input        string // opaque input name
	Type         ItemType

	// VirtualID is assigned once by the identity registry (C6) and is
	// never mutated by the filter/mapper stages.
	VirtualID uint64
}

// Caption returns Title if set, else Name. Computed, never stored stale:
// call after any rename/map stage mutates Title or Name.
func (it Item) Caption() string {
	if it.Title != "" {
		return it.Title
	}
	return it.Name
}

// Field looks up a named field for the filter/mapper DSLs. Field names are
// case-sensitive and match the DSL grammar (spec.md §4.3/§4.4).
func (it Item) Field(name string) (string, bool) {
	switch name {
	case "Name":
		return it.Name, true
	case "Title":
		return it.Title, true
	case "Caption":
		return it.Caption(), true
	case "Group":
		return it.Group, true
	case "Url":
		return it.URL, true
	case "Input":
		return it.Input, true
	case "Logo":
		return it.Logo, true
	case "Type":
		return string(it.Type), true
	default:
		return "", false
	}
}

// SetField writes a named field back onto the item, used by the mapper DSL's
// "@field = expr" assignments. Type is never settable (spec: type never
// changes after ingest).
func (it *Item) SetField(name, value string) bool {
	switch name {
	case "Name":
		it.Name = value
	case "Title":
		it.Title = value
	case "Group":
		it.Group = value
	case "Url":
		it.URL = value
	case "Logo":
		it.Logo = value
	case "LogoSmall":
		it.LogoSmall = value
	case "EpgChannelId":
		it.EPGChannelID = value
	case "EpgId":
		it.EPGID = value
	default:
		return false
	}
	return true
}

// ProviderKey identifies an item for registry lookups: (input_name,
// provider_stream_id). Stable across runs as long as both are unchanged.
func (it Item) ProviderKey() (inputName, providerStreamID string) {
	return it.Input, it.ID
}
