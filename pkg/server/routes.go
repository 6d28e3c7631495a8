package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"
)

const (
	contentHTML  = "text/html; charset=utf-8"
	contentJSON  = "application/json"
	contentPlain = "text/plain; charset=utf-8"

	clockLayout = "15:04:05"
	stampLayout = "2006-01-02 15:04:05"
)

// DefaultRoutes returns the built-in pages
func DefaultRoutes() map[string]Route {
	return map[string]Route{
		"/":       homeRoute,
		"/test":   testRoute,
		"/health": healthRoute,
		"/ping":   pingRoute,
		"/info":   infoRoute,
	}
}

// DeviceType guesses from a User-Agent whether the caller is a phone
func DeviceType(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, marker := range []string{"mobile", "android", "iphone", "ipad"} {
		if strings.Contains(ua, marker) {
			return "Mobile"
		}
	}
	return "Desktop"
}

func homeRoute(_ context.Context, call Call) Response {
	data := struct {
		ClientIP string
		Label    string
		Device   string
		Server   string
		Time     string
	}{
		ClientIP: call.ClientIP,
		Label:    call.Label,
		Device:   DeviceType(call.Request.UserAgent),
		Server:   fmt.Sprintf("%s:%d", call.Server.Host, call.Server.Port),
		Time:     call.Now.Format(stampLayout),
	}

	var buf bytes.Buffer
	if err := homePage.Execute(&buf, data); err != nil {
		return Response{
			Status:      http.StatusInternalServerError,
			ContentType: contentPlain,
			Body:        []byte("500 - " + err.Error()),
		}
	}
	return Response{Status: http.StatusOK, ContentType: contentHTML, Body: buf.Bytes()}
}

type testPayload struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	ClientIP       string `json:"client_ip"`
	ServerTime     string `json:"server_time"`
	ConnectionType string `json:"connection_type"`
}

func testRoute(_ context.Context, call Call) Response {
	if !wantsJSON(call.Request) {
		body := fmt.Sprintf("OK - test endpoint reached from %s (%s) at %s\n",
			call.ClientIP, call.Label, call.Now.Format(stampLayout))
		return Response{Status: http.StatusOK, ContentType: contentPlain, Body: []byte(body)}
	}
	return jsonResponse(testPayload{
		Status:         "success",
		Message:        "Test endpoint working",
		ClientIP:       call.ClientIP,
		ServerTime:     call.Now.Format(stampLayout),
		ConnectionType: call.Label,
	})
}

type healthPayload struct {
	Status     string `json:"status"`
	ServerInfo struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		Platform string `json:"platform"`
		Uptime   string `json:"uptime"`
		Started  string `json:"started"`
	} `json:"server_info"`
	ClientInfo struct {
		IP             string `json:"ip"`
		ConnectionType string `json:"connection_type"`
	} `json:"client_info"`
}

func healthRoute(_ context.Context, call Call) Response {
	var p healthPayload
	p.Status = "healthy"
	p.ServerInfo.Host = call.Server.Host
	p.ServerInfo.Port = call.Server.Port
	p.ServerInfo.Platform = call.Server.Platform
	p.ServerInfo.Uptime = call.Now.Sub(call.Server.Started).Truncate(time.Second).String()
	p.ServerInfo.Started = call.Server.Started.Format(stampLayout)
	p.ClientInfo.IP = call.ClientIP
	p.ClientInfo.ConnectionType = call.Label
	return jsonResponse(p)
}

type pingPayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	ClientIP  string `json:"client_ip"`
}

func pingRoute(_ context.Context, call Call) Response {
	return jsonResponse(pingPayload{
		Status:    "ok",
		Timestamp: call.Now.Format(clockLayout),
		ClientIP:  call.ClientIP,
	})
}

func infoRoute(ctx context.Context, call Call) Response {
	var snap InfoSnapshot
	if call.Diagnostics != nil {
		snap = call.Diagnostics.Snapshot(ctx, call.ClientIP)
	}
	snap.ClientIP = call.ClientIP
	snap.ConnectionType = call.Label
	snap.ServerTime = call.Now.Format(stampLayout)
	if snap.Verdict == "" {
		snap.Verdict = "Unknown"
	}
	return jsonResponse(snap)
}

func wantsJSON(req Request) bool {
	return strings.Contains(strings.ToLower(req.Accept), "json") ||
		strings.Contains(strings.ToLower(req.ContentType), "json")
}

func jsonResponse(v interface{}) Response {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Response{
			Status:      http.StatusInternalServerError,
			ContentType: contentPlain,
			Body:        []byte("500 - " + err.Error()),
		}
	}
	return Response{Status: http.StatusOK, ContentType: contentJSON, Body: body}
}

var homePage = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>ReachCheck - connected</title>
<style>
body { font-family: Arial, sans-serif; margin: 20px; background: #f0f0f0; }
.card { background: #fff; padding: 20px; border-radius: 10px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
.ok { color: #2e7d32; font-size: 24px; margin-bottom: 16px; }
.info { background: #e7f3ff; padding: 15px; border-radius: 5px; margin: 10px 0; }
a.btn { display: inline-block; background: #4caf50; color: #fff; padding: 10px 18px; border-radius: 5px; margin: 4px; text-decoration: none; }
</style>
</head>
<body>
<div class="card">
<div class="ok">Connection successful</div>
<div class="info">
<strong>Your IP:</strong> {{.ClientIP}}<br>
<strong>Connection type:</strong> {{.Label}}<br>
<strong>Device:</strong> {{.Device}}<br>
<strong>Server:</strong> {{.Server}}<br>
<strong>Time:</strong> {{.Time}}
</div>
<a class="btn" href="/test">Test endpoint</a>
<a class="btn" href="/ping">Ping</a>
<a class="btn" href="/health">Health</a>
<a class="btn" href="/info">Diagnostics</a>
</div>
</body>
</html>
`))
