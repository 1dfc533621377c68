// Package safeurl guards against SSRF by restricting outbound stream/asset
// fetches to plain HTTP(S) targets, rejecting file://, ftp://, and similar.
package safeurl

import "net/url"

var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// IsHTTPOrHTTPS reports whether u parses as an absolute URL with scheme
// http or https. url.Parse lowercases the scheme, so "HTTP://..." matches.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return allowedSchemes[parsed.Scheme]
}
