package services

import (
	"net/http"
	"time"
)

// CustomTransport fügt jeder Anfrage einen User-Agent-Header hinzu.
type CustomTransport struct {
	Transport http.RoundTripper
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "trustgraph-backend/1.0")
	return t.Transport.RoundTrip(req)
}

// httpClient wird für alle externen HTTP-Anfragen in diesem Paket verwendet.
// Der Timeout deckelt die Pipeline- und Signing-Aufrufe.
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &CustomTransport{
		Transport: http.DefaultTransport,
	},
}
