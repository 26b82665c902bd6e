// Package service writes a user-level launchd agent that keeps the pushtalk
// daemon running on macOS.
package service

import (
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// The agent runs the foreground serve command so launchd owns the process.
const launchdTemplate = `<?xml version='1.0' encoding='UTF-8'?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key><string>{{.Label}}</string>
  <key>ProgramArguments</key>
  <array>
    <string>{{.Binary}}</string>
    <string>serve</string>
    <string>--config</string>
    <string>{{.Config}}</string>
  </array>
  <key>RunAtLoad</key><true/>
  <key>KeepAlive</key><dict><key>SuccessfulExit</key><false/></dict>
  <key>StandardOutPath</key><string>{{.Log}}</string>
  <key>StandardErrorPath</key><string>{{.Log}}</string>
  {{- if .Env }}
  <key>EnvironmentVariables</key>
  <dict>
    {{- range $k, $v := .Env }}
    <key>{{$k}}</key><string>{{$v}}</string>
    {{- end }}
  </dict>
  {{- end }}
</dict>
</plist>
`

var plistTpl = template.Must(template.New("launchd").Parse(launchdTemplate))

type LaunchdParams struct {
	Label  string
	Binary string
	Config string
	Log    string
	Env    map[string]string
}

func agentsDir() string {
	return filepath.Join(os.Getenv("HOME"), "Library", "LaunchAgents")
}

// LaunchdPath returns the plist path for a label.
func LaunchdPath(label string) string {
	return filepath.Join(agentsDir(), fmt.Sprintf("%s.plist", label))
}

// Status returns the plist path and whether it exists.
func Status(label string) (string, bool) {
	plist := LaunchdPath(label)
	_, err := os.Stat(plist)
	return plist, err == nil
}

// WritePlist writes a user-level launchd plist and returns its path.
func WritePlist(params LaunchdParams) (string, error) {
	if err := os.MkdirAll(agentsDir(), 0o755); err != nil {
		return "", err
	}
	path := LaunchdPath(params.Label)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := plistTpl.Execute(f, params); err != nil {
		return "", err
	}
	return path, nil
}
