package extract

import (
	"fmt"
	"net/url"
	"strings"
)

// Service identifies the site family a media URL belongs to. It only drives
// metrics labels and log attributes; extraction is delegated to the tool
// either way.
type Service string

const (
	ServiceYouTube   Service = "youtube"
	ServiceInstagram Service = "instagram"
	ServiceFacebook  Service = "facebook"
	ServiceTikTok    Service = "tiktok"
	ServiceGeneric   Service = "generic"
)

// DisplayName returns the human-facing service label used in API messages.
func (s Service) DisplayName() string {
	switch s {
	case ServiceYouTube:
		return "YouTube"
	case ServiceInstagram:
		return "Instagram"
	case ServiceFacebook:
		return "Facebook"
	case ServiceTikTok:
		return "TikTok"
	default:
		return "Generic"
	}
}

// serviceHosts maps known host suffixes to services. Subdomains match by
// suffix (www.youtube.com, m.tiktok.com).
var serviceHosts = []struct {
	service Service
	hosts   []string
}{
	{ServiceYouTube, []string{"youtube.com", "youtu.be"}},
	{ServiceInstagram, []string{"instagram.com"}},
	{ServiceFacebook, []string{"facebook.com", "fb.watch"}},
	{ServiceTikTok, []string{"tiktok.com"}},
}

// ClassifyURL validates a submitted URL and returns the service family it
// belongs to. URLs that do not parse, carry a non-http(s) scheme, or have no
// host are rejected with *InvalidURLError. Unknown hosts fall through to
// ServiceGeneric.
func ClassifyURL(raw string) (Service, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", &InvalidURLError{URL: raw, Reason: "malformed URL", Err: err}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", &InvalidURLError{URL: raw, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", &InvalidURLError{URL: raw, Reason: "missing host"}
	}

	for _, entry := range serviceHosts {
		for _, h := range entry.hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return entry.service, nil
			}
		}
	}

	return ServiceGeneric, nil
}
