// trace.go records every backend round trip to the trace log of applog.
package backend

import (
	"fmt"
	"strings"
	"time"

	"github.com/DachengChen/sqlpilot/applog"
)

func traceRequest(method, path string, body []byte) {
	ts := time.Now().Format("2006-01-02 15:04:05")
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(
		"\n════════════════════════════════════════════════════════════════\n"+
			"[REQUEST] %s  |  %s %s\n"+
			"════════════════════════════════════════════════════════════════",
		ts, method, path,
	))
	if len(body) > 0 {
		sb.WriteString("\n")
		sb.WriteString(truncate(string(body), 4000))
	}
	applog.Trace().Info(sb.String())
}

func traceResponse(path string, status int, body []byte, err error) {
	ts := time.Now().Format("2006-01-02 15:04:05")
	errStr := "(none)"
	if err != nil {
		errStr = err.Error()
	}
	applog.Trace().Info(fmt.Sprintf(
		"[RESPONSE] %s  |  %s  |  Status: %d\n"+
			"────────────────────────────────────────\n"+
			"Error: %s\n"+
			"────────────────────────────────────────\n"+
			"%s",
		ts, path, status, errStr, truncate(string(body), 4000),
	))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
