package output

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ivgateway/ivproxy/internal/model"
)

// xtreamLiveStream, xtreamVODStream, and xtreamSeries mirror the field
// names Xtream Codes panels expect from player_api.php, matching the
// teacher's indexer/player_api.go JSON-tag style for the inverse
// direction (emitting rather than parsing).
type xtreamCategory struct {
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
	ParentID     int    `json:"parent_id"`
}

type xtreamLiveStream struct {
	Num            int    `json:"num"`
	Name           string `json:"name"`
	StreamID       uint64 `json:"stream_id"`
	StreamIcon     string `json:"stream_icon"`
	EPGChannelID   string `json:"epg_channel_id"`
	CategoryID     string `json:"category_id"`
	DirectSource   string `json:"direct_source,omitempty"`
}

type xtreamVODStream struct {
	Num          int    `json:"num"`
	Name         string `json:"name"`
	StreamID     uint64 `json:"stream_id"`
	StreamIcon   string `json:"stream_icon"`
	CategoryID   string `json:"category_id"`
	ContainerExt string `json:"container_extension"`
	DirectSource string `json:"direct_source,omitempty"`
}

type xtreamSeries struct {
	Num       int    `json:"num"`
	Name      string `json:"name"`
	SeriesID  uint64 `json:"series_id"`
	Cover     string `json:"cover"`
	CategoryID string `json:"category_id"`
}

// BuildLiveCategories groups live items by Group into Xtream categories,
// one per distinct group in first-seen order.
func BuildLiveCategories(items []model.Item) []xtreamCategory {
	return categoriesFor(items, model.TypeLive)
}

func BuildVODCategories(items []model.Item) []xtreamCategory {
	return categoriesFor(items, model.TypeVOD)
}

func BuildSeriesCategories(items []model.Item) []xtreamCategory {
	return categoriesFor(items, model.TypeSeries)
}

func categoriesFor(items []model.Item, t model.ItemType) []xtreamCategory {
	seen := make(map[string]bool)
	var out []xtreamCategory
	for _, it := range items {
		if it.Type != t || it.Group == "" || seen[it.Group] {
			continue
		}
		seen[it.Group] = true
		out = append(out, xtreamCategory{CategoryID: it.Group, CategoryName: it.Group})
	}
	return out
}

// BuildLiveStreams renders player_api.php?action=get_live_streams,
// honoring skip_live_direct_source (default true: direct_source omitted).
func BuildLiveStreams(items []model.Item, opts Options, sign URLSigner) ([]xtreamLiveStream, error) {
	var out []xtreamLiveStream
	num := 0
	for _, it := range items {
		if it.Type != model.TypeLive {
			continue
		}
		num++
		s := xtreamLiveStream{
			Num:          num,
			Name:         it.Caption(),
			StreamID:     it.VirtualID,
			StreamIcon:   it.Logo,
			EPGChannelID: it.EPGChannelID,
			CategoryID:   it.Group,
		}
		if !opts.SkipLiveDirectSource {
			direct, err := sign(it)
			if err != nil {
				return nil, err
			}
			s.DirectSource = direct
		}
		out = append(out, s)
	}
	return out, nil
}

// BuildVODStreams renders player_api.php?action=get_vod_streams.
func BuildVODStreams(items []model.Item, opts Options, sign URLSigner) ([]xtreamVODStream, error) {
	var out []xtreamVODStream
	num := 0
	for _, it := range items {
		if it.Type != model.TypeVOD {
			continue
		}
		num++
		s := xtreamVODStream{
			Num:          num,
			Name:         it.Caption(),
			StreamID:     it.VirtualID,
			StreamIcon:   it.Logo,
			CategoryID:   it.Group,
			ContainerExt: "mp4",
		}
		if !opts.SkipVideoDirectSource {
			direct, err := sign(it)
			if err != nil {
				return nil, err
			}
			s.DirectSource = direct
		}
		out = append(out, s)
	}
	return out, nil
}

// BuildSeries renders player_api.php?action=get_series. Series grouping
// in the pipeline output is by Group (one entry per distinct series
// item, since model.Item is a flat record — season/episode structure is
// the original provider's to own, not this proxy's).
func BuildSeries(items []model.Item) []xtreamSeries {
	var out []xtreamSeries
	num := 0
	for _, it := range items {
		if it.Type != model.TypeSeries {
			continue
		}
		num++
		out = append(out, xtreamSeries{
			Num:        num,
			Name:       it.Caption(),
			SeriesID:   it.VirtualID,
			Cover:      it.Logo,
			CategoryID: it.Group,
		})
	}
	return out
}

// WriteXtreamAction writes the JSON body for one player_api.php action,
// dispatching on the action query parameter the way the teacher's
// indexer/player_api.go interprets Xtream API actions when reading them.
func WriteXtreamAction(w http.ResponseWriter, action string, items []model.Item, opts Options, sign URLSigner) error {
	w.Header().Set("Content-Type", "application/json")
	var payload interface{}
	var err error
	switch action {
	case "get_live_categories":
		payload = BuildLiveCategories(items)
	case "get_vod_categories":
		payload = BuildVODCategories(items)
	case "get_series_categories":
		payload = BuildSeriesCategories(items)
	case "get_live_streams":
		payload, err = BuildLiveStreams(items, opts, sign)
	case "get_vod_streams":
		payload, err = BuildVODStreams(items, opts, sign)
	case "get_series":
		payload = BuildSeries(items)
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return nil
	}
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(payload)
}

// AuthResponse is player_api.php's bare (no action) response: account
// status used by Xtream clients to confirm credentials.
type AuthResponse struct {
	UserInfo struct {
		Username    string `json:"username"`
		Status      string `json:"status"`
		ExpDate     string `json:"exp_date"`
		MaxConnections string `json:"max_connections"`
		ActiveConnections int `json:"active_cons"`
	} `json:"user_info"`
	ServerInfo struct {
		URL        string `json:"url"`
		Port       string `json:"port"`
		ServerProtocol string `json:"server_protocol"`
	} `json:"server_info"`
}

// BuildAuthResponse fills the account-status fields the panel expects
// before issuing any action= calls.
func BuildAuthResponse(username string, active bool, expiresAt int64, maxConns, activeConns int, host, port string) AuthResponse {
	var r AuthResponse
	r.UserInfo.Username = username
	if active {
		r.UserInfo.Status = "Active"
	} else {
		r.UserInfo.Status = "Expired"
	}
	r.UserInfo.ExpDate = strconv.FormatInt(expiresAt, 10)
	r.UserInfo.MaxConnections = strconv.Itoa(maxConns)
	r.UserInfo.ActiveConnections = activeConns
	r.ServerInfo.URL = host
	r.ServerInfo.Port = port
	r.ServerInfo.ServerProtocol = "http"
	return r
}
