package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// CountryLookup resolves ISO country codes for an IP address. Backed by a
// GeoIP database in production, stubbed in tests.
type CountryLookup func(ip string) (string, error)

// countryLocales maps markets where a country code implies a better default
// than English. Explicit headers always win over this.
var countryLocales = map[string]string{
	"ID": "id",
	"BR": "pt",
	"PT": "pt",
	"ES": "es",
	"MX": "es",
	"AR": "es",
	"JP": "ja",
}

// I18N resolves the request locale, in priority order: X-Locale header,
// Accept-Language (BCP 47 matching against supported), GeoIP country, then
// the configured default.
func I18N(defaultLocale string, supported []string, lookup CountryLookup) func(http.Handler) http.Handler {
	// langs stays parallel to tags so a matcher index maps back to the
	// canonical locale string.
	langs := make([]string, 0, len(supported))
	tags := make([]language.Tag, 0, len(supported))
	for _, loc := range supported {
		if tag, err := language.Parse(loc); err == nil {
			langs = append(langs, loc)
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		langs = []string{"en"}
		tags = []language.Tag{language.English}
	}
	matcher := language.NewMatcher(tags)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := resolveCountry(r, lookup)
			locale := resolveLocale(r, matcher, langs, country, defaultLocale)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, strings.ToUpper(country))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveLocale(r *http.Request, matcher language.Matcher, supported []string, country, fallback string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		if matched := matchLocale(matcher, supported, v); matched != "" {
			return matched
		}
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		if prefs, _, err := language.ParseAcceptLanguage(accept); err == nil && len(prefs) > 0 {
			_, idx, conf := matcher.Match(prefs...)
			if conf > language.No && idx < len(supported) {
				return supported[idx]
			}
		}
	}
	if loc, ok := countryLocales[strings.ToUpper(country)]; ok {
		return loc
	}
	if fallback != "" {
		return fallback
	}
	return "en"
}

func matchLocale(matcher language.Matcher, supported []string, raw string) string {
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No || idx >= len(supported) {
		return ""
	}
	return supported[idx]
}

// resolveCountry returns a best-effort ISO country code: proxy headers
// first, then a GeoIP lookup on the client IP.
func resolveCountry(r *http.Request, lookup CountryLookup) string {
	headerHints := []string{"X-Country-Code", "CF-IPCountry", "X-Appengine-Country"}
	for _, key := range headerHints {
		if val := strings.TrimSpace(r.Header.Get(key)); val != "" {
			return strings.ToUpper(val)
		}
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil && country != "" {
				return strings.ToUpper(country)
			}
		}
	}
	return ""
}

// ClientIP returns the best-effort client IP address for the request.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}
