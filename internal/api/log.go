package api

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"skytour/pkg/logging"
)

// maxParamLen drops long attribute values such as narration text.
const maxParamLen = 24

// Captures key=value or key="value with spaces".
var logRegex = regexp.MustCompile(`([a-zA-Z0-9_\-.]+)=(?:"([^"]*)"|([^ ]+))`)

// handleLatestLog returns the last narration event as a one-line summary.
func handleLatestLog(w http.ResponseWriter, r *http.Request) {
	line := logging.LastNarration.LastLine()
	writeJSON(w, http.StatusOK, map[string]string{"log": formatLogLine(line)})
}

// formatLogLine turns a slog text record into "HH:MM:SS event [poi] (k=v, ...)".
func formatLogLine(raw string) string {
	matches := logRegex.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return raw
	}

	var msg, clock, poi string
	var params []string
	for _, m := range matches {
		key, val := m[1], m[2]
		if val == "" {
			val = m[3]
		}
		val = strings.TrimSpace(val)

		switch key {
		case "time":
			if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
				clock = t.Format("15:04:05")
			}
		case "level":
		case "msg":
			msg = val
		case "poi":
			poi = val
		default:
			if len(val) <= maxParamLen {
				params = append(params, key+"="+val)
			}
		}
	}
	if msg == "" {
		return raw
	}

	sort.Strings(params)
	out := msg
	if clock != "" {
		out = clock + " " + out
	}
	if poi != "" {
		out = fmt.Sprintf("%s [%s]", out, poi)
	}
	if len(params) > 0 {
		out = fmt.Sprintf("%s (%s)", out, strings.Join(params, ", "))
	}
	return out
}
