package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// geoProvider is one best-effort IP geolocation lookup. Startup detection
// tries each in turn (§4.2 step a: "retry >=3 providers") so a single
// provider outage doesn't block a worker from ever registering.
type geoProvider struct {
	name        string
	url         string
	countryPath string // dotted JSON field holding the ISO country code
}

var geoProviders = []geoProvider{
	{name: "ipapi.co", url: "https://ipapi.co/json/", countryPath: "country_code"},
	{name: "ip-api.com", url: "http://ip-api.com/json/", countryPath: "countryCode"},
	{name: "ipinfo.io", url: "https://ipinfo.io/json", countryPath: "country"},
}

// countryToRegion maps a coarse set of ISO country codes to the GuardAnt
// region slug whose worker pool is geographically closest. This is a
// best-effort default only: an operator overriding regionHint at
// registration time (or GUARDANT_REGION) always wins.
var countryToRegion = map[string]string{
	"US": "us-east-1", "CA": "us-east-1", "MX": "us-east-1",
	"GB": "eu-west-1", "IE": "eu-west-1", "FR": "eu-west-1", "DE": "eu-west-1", "NL": "eu-west-1", "ES": "eu-west-1", "PT": "eu-west-1", "IT": "eu-west-1",
	"SG": "ap-southeast-1", "MY": "ap-southeast-1", "ID": "ap-southeast-1", "TH": "ap-southeast-1", "AU": "ap-southeast-1", "NZ": "ap-southeast-1",
	"JP": "ap-northeast-1", "KR": "ap-northeast-1",
	"IN": "ap-south-1",
	"BR": "sa-east-1", "AR": "sa-east-1",
}

// DetectRegion resolves a region slug from the machine's outbound IP by
// trying each geoProvider in turn. Returns ("", err) only if every
// provider fails, letting the caller fall back to a default.
func DetectRegion(ctx context.Context, client *http.Client) (string, error) {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	var lastErr error
	for _, p := range geoProviders {
		country, err := lookupCountry(ctx, client, p)
		if err != nil {
			lastErr = err
			continue
		}
		if region, ok := countryToRegion[country]; ok {
			return region, nil
		}
		lastErr = fmt.Errorf("%s: country %q has no mapped region", p.name, country)
	}
	return "", fmt.Errorf("detecting region from IP geolocation: %w", lastErr)
}

func lookupCountry(ctx context.Context, client *http.Client, p geoProvider) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: status %d", p.name, resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%s: decoding response: %w", p.name, err)
	}
	code, _ := body[p.countryPath].(string)
	if code == "" {
		return "", fmt.Errorf("%s: missing %s field", p.name, p.countryPath)
	}
	return code, nil
}
