package discovery

import (
	"net/url"
	"regexp"
	"strings"
)

// placeholderPattern matches discovery URL placeholders such as
// <ui=UI_LLCC&> or <dchat=DISABLE_CHAT&>.
var placeholderPattern = regexp.MustCompile(`<([A-Za-z0-9_]+)=([A-Z0-9_]+)&?>`)

// placeholderValue returns the substitution for a recognized placeholder.
// An empty result removes the placeholder.
func placeholderValue(name, lang string) (string, bool) {
	switch name {
	case "UI_LLCC", "DC_LLCC":
		return lang, true
	case "DISABLE_CHAT":
		return "1", true
	case "EMBEDDED", "DISABLE_ASYNC":
		return "true", true
	}
	return "", false
}

// ComputeLaunchURL turns a discovery urlsrc template into the URL the
// browser loads: placeholders are substituted or removed, then WOPISrc,
// closebutton and the optional lang are appended.
func ComputeLaunchURL(template, wopiSrc, lang string) string {
	u := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		parts := placeholderPattern.FindStringSubmatch(m)
		v, ok := placeholderValue(parts[2], lang)
		if !ok || v == "" {
			return ""
		}
		return parts[1] + "=" + url.QueryEscape(v) + "&"
	})
	u = strings.TrimRight(u, "?&")

	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}

	var b strings.Builder
	b.WriteString(u)
	b.WriteString(sep)
	b.WriteString("WOPISrc=")
	b.WriteString(url.QueryEscape(wopiSrc))
	b.WriteString("&closebutton=false")
	if lang != "" {
		b.WriteString("&lang=")
		b.WriteString(url.QueryEscape(lang))
	}
	return b.String()
}
