package driver

import (
	"fmt"
	"strings"
)

// Capabilities describe the browser session to open. Extra is passed through
// untouched to factories that understand it.
type Capabilities struct {
	BrowserName string         `json:"browserName" yaml:"browserName" toml:"browser_name"`
	Headless    bool           `json:"headless" yaml:"headless" toml:"headless"`
	ServerURL   string         `json:"serverUrl,omitempty" yaml:"serverUrl,omitempty" toml:"server_url"`
	ExecPath    string         `json:"execPath,omitempty" yaml:"execPath,omitempty" toml:"exec_path"`
	Window      Rect           `json:"window" yaml:"window" toml:"window"`
	Args        []string       `json:"args,omitempty" yaml:"args,omitempty" toml:"args"`
	Extra       map[string]any `json:"extra,omitempty" yaml:"extra,omitempty" toml:"extra"`
}

// DefaultWindow is used when capabilities leave the window size unset.
var DefaultWindow = Rect{Width: 1280, Height: 800}

var chromiumNames = map[string]string{
	"":              "chrome",
	"chrome":        "chrome",
	"chromium":      "chrome",
	"googlechrome":  "chrome",
	"msedge":        "MicrosoftEdge",
	"microsoftedge": "MicrosoftEdge",
	"edge":          "MicrosoftEdge",
}

// Negotiate validates caps against what the drivers in this package support
// and fills in defaults.
func Negotiate(caps Capabilities) (Capabilities, error) {
	name, ok := chromiumNames[strings.ToLower(strings.TrimSpace(caps.BrowserName))]
	if !ok {
		return caps, &Error{Op: "negotiate", Kind: KindUnsupported,
			Err: fmt.Errorf("browser %q is not supported (chrome, chromium and edge are)", caps.BrowserName)}
	}
	out := caps
	out.BrowserName = name

	if out.Window.Width < 0 || out.Window.Height < 0 {
		return caps, &Error{Op: "negotiate", Kind: KindUnsupported,
			Err: fmt.Errorf("invalid window size %dx%d", out.Window.Width, out.Window.Height)}
	}
	if out.Window.Width == 0 {
		out.Window.Width = DefaultWindow.Width
	}
	if out.Window.Height == 0 {
		out.Window.Height = DefaultWindow.Height
	}

	for _, arg := range out.Args {
		if !strings.HasPrefix(arg, "--") || len(arg) == 2 {
			return caps, &Error{Op: "negotiate", Kind: KindUnsupported,
				Err: fmt.Errorf("browser argument %q must look like --name or --name=value", arg)}
		}
	}
	return out, nil
}

// ParseArg splits "--name=value" into its flag name and value. A bare
// "--name" yields the boolean true.
func ParseArg(arg string) (string, any) {
	arg = strings.TrimPrefix(arg, "--")
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, true
}
