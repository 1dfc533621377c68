package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/ivgateway/ivproxy/internal/model"
)

// LineupEntry is one row of lineup.json: the HDHomeRun wire format a
// client (Plex, a software tuner) polls to learn channel numbers and
// where to fetch each one (spec.md §4.11).
type LineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
}

// WriteLineup emits one LineupEntry per live item with an assigned
// channel number (Chno != 0); items without one are omitted rather than
// emitted with a fabricated number, since Chno == 0 means assignChno
// never claimed a slot for that item.
func WriteLineup(w io.Writer, items []model.Item, sign URLSigner) error {
	out := make([]LineupEntry, 0, len(items))
	for _, it := range items {
		if it.Type != model.TypeLive || it.Chno == 0 {
			continue
		}
		url, err := sign(it)
		if err != nil {
			continue
		}
		out = append(out, LineupEntry{
			GuideNumber: strconv.Itoa(it.Chno),
			GuideName:   it.Caption(),
			URL:         url,
		})
	}
	return json.NewEncoder(w).Encode(out)
}

// DeviceXML renders the UPnP device descriptor a real HDHomeRun, and
// this emulation, serve at /device.xml: the document SSDP's LOCATION
// header points clients at.
func DeviceXML(friendlyName string, deviceID uint32, deviceUDN, baseURL string) string {
	return fmt.Sprintf(`<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <URLBase>%s</URLBase>
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
    <friendlyName>%s</friendlyName>
    <manufacturer>Silicondust</manufacturer>
    <modelName>HDTC-2US</modelName>
    <modelNumber>HDTC-2US</modelNumber>
    <serialNumber>%08X</serialNumber>
    <UDN>uuid:%s</UDN>
  </device>
</root>`, baseURL, friendlyName, deviceID, deviceUDN)
}
