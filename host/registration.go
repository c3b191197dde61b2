package host

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Permissions declares the scopes a UI needs up front and the scopes it may
// request at runtime. Any runtime request for a scope outside OptionalScopes
// is auto-denied without consulting any handler.
type Permissions struct {
	RequiredScopes []string `yaml:"required_scopes" json:"required_scopes"`
	OptionalScopes []string `yaml:"optional_scopes" json:"optional_scopes"`
}

// VersionRange is the protocol version span an embedded UI supports.
type VersionRange struct {
	MinVersion    string `yaml:"min_version" json:"min_version"`
	TargetVersion string `yaml:"target_version" json:"target_version"`
}

// Registration declares an embeddable UI: its name, where it loads from, the
// capabilities it exposes and the permission scopes it may hold.
type Registration struct {
	UIName       string       `yaml:"ui_name" json:"ui_name"`
	URLTemplate  string       `yaml:"url_template" json:"url_template"`
	Capabilities []string     `yaml:"capabilities" json:"capabilities"`
	Permissions  Permissions  `yaml:"permissions" json:"permissions"`
	Protocol     VersionRange `yaml:"protocol" json:"protocol"`
}

// Validate checks that required registration fields are set.
func (r Registration) Validate() error {
	if r.UIName == "" {
		return fmt.Errorf("host: registration: ui_name is required")
	}
	if r.URLTemplate == "" {
		return fmt.Errorf("host: registration %q: url_template is required", r.UIName)
	}
	return nil
}

// Optional reports whether the scope appears in the registration's declared
// optional scopes.
func (r Registration) Optional(scope string) bool {
	for _, s := range r.Permissions.OptionalScopes {
		if s == scope {
			return true
		}
	}
	return false
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// ResolveURL substitutes {name} placeholders in the URL template with the
// given parameters. Parameter values are query-escaped. An unresolved
// placeholder is an error.
func (r Registration) ResolveURL(params map[string]string) (string, error) {
	var missing []string
	resolved := placeholderRe.ReplaceAllStringFunc(r.URLTemplate, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return url.QueryEscape(v)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("host: registration %q: unresolved URL parameters: %s",
			r.UIName, strings.Join(missing, ", "))
	}
	return resolved, nil
}

// originOf extracts the scheme://host[:port] origin implied by a URL, which
// becomes the only sender origin a session accepts messages from.
func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("host: parse UI URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("host: UI URL %q has no usable origin", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
