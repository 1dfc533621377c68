package hdhomerun

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"time"
)

// SSDP answers UPnP M-SEARCH discovery on UDP 1900, in parallel with the
// proprietary HDHomeRun UDP 65001 discovery DiscoverServer already
// handles (spec.md §4.11: "participates in SSDP/UPnP (UDP 1900) and the
// proprietary HDHomeRun UDP 65001 discovery").
type SSDP struct {
	Device       *Device
	DeviceUDN    string // uuid:<device_udn>
	DeviceXMLURL string
}

// Run listens for M-SEARCH requests until ctx is cancelled.
func (s *SSDP) Run(ctx context.Context) error {
	pc, err := net.ListenPacket("udp", ":1900")
	if err != nil {
		return fmt.Errorf("hdhomerun: ssdp listen: %w", err)
	}
	defer pc.Close()

	log.Printf("hdhomerun: ssdp listening on :1900")

	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pc.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			continue
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}

		msg := string(buf[:n])
		if !strings.Contains(msg, "M-SEARCH") {
			continue
		}
		if strings.Contains(msg, "ssdp:all") ||
			strings.Contains(msg, "urn:schemas-upnp-org:device:MediaServer") ||
			strings.Contains(msg, "urn:schemas-upnp-org:device:Basic:1") {
			pc.WriteTo([]byte(s.searchResponse()), udpAddr)
			log.Printf("hdhomerun: ssdp responded to M-SEARCH from %s", udpAddr)
		}
	}
}

func (s *SSDP) searchResponse() string {
	return fmt.Sprintf(
		"HTTP/1.1 200 OK\r\n"+
			"CACHE-CONTROL: max-age=300\r\n"+
			"EXT:\r\n"+
			"LOCATION: %s\r\n"+
			"SERVER: ivproxy/1.0 UPnP/1.0\r\n"+
			"ST: urn:schemas-upnp-org:device:MediaServer:1\r\n"+
			"USN: %s::urn:schemas-upnp-org:device:MediaServer:1\r\n"+
			"\r\n",
		s.DeviceXMLURL, s.DeviceUDN,
	)
}

// StartSSDP builds an SSDP responder for device and runs it in a new
// goroutine. It no-ops (logging why) if baseURL can't produce a usable
// device.xml location, matching the teacher's fail-soft discovery
// posture (a missing BaseURL shouldn't crash the process).
func StartSSDP(ctx context.Context, device *Device, deviceUDN, baseURL string) {
	loc := deviceXMLURL(baseURL)
	if loc == "" {
		log.Printf("hdhomerun: ssdp disabled: base_url is empty or invalid")
		return
	}
	s := &SSDP{Device: device, DeviceUDN: deviceUDN, DeviceXMLURL: loc}
	go func() {
		if err := s.Run(ctx); err != nil {
			log.Printf("hdhomerun: ssdp error: %v", err)
		}
	}()
}

func deviceXMLURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return ""
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/device.xml"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
