package deleter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// CSRFMetaName is the name of the meta tag carrying the anti-forgery token.
const CSRFMetaName = "csrf-token"

// ErrNoCSRFToken means the hosting page carries no csrf meta tag.
var ErrNoCSRFToken = errors.New("deleter: no csrf token on page")

// CSRFSource supplies the anti-forgery token sent with destructive requests.
// An empty token with a nil error means no header is sent.
type CSRFSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

// Token returns the token.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// MetaTagSource reads the token from the <meta name="csrf-token"> tag of
// the hosting page. The token is fetched once and cached until Invalidate.
type MetaTagSource struct {
	pageURL string
	client  *http.Client

	mu    sync.Mutex
	token string
}

// NewMetaTagSource creates a source reading pageURL with client.
// A nil client uses http.DefaultClient.
func NewMetaTagSource(pageURL string, client *http.Client) *MetaTagSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &MetaTagSource{pageURL: pageURL, client: client}
}

// Token returns the cached token, fetching the page on first use.
func (m *MetaTagSource) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" {
		return m.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("deleter: build page request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deleter: fetch page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deleter: fetch page: status %d", resp.StatusCode)
	}

	token, err := ExtractCSRFToken(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	m.token = token
	return token, nil
}

// Invalidate drops the cached token so the next request refetches the page.
func (m *MetaTagSource) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
}

// ExtractCSRFToken scans an HTML document for the csrf meta tag.
func ExtractCSRFToken(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return "", ErrNoCSRFToken
			}
			return "", fmt.Errorf("deleter: parse page: %w", z.Err())
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			if t.Data != "meta" {
				continue
			}
			var name, content string
			for _, a := range t.Attr {
				switch strings.ToLower(a.Key) {
				case "name":
					name = a.Val
				case "content":
					content = a.Val
				}
			}
			if strings.EqualFold(name, CSRFMetaName) && content != "" {
				return content, nil
			}
		}
	}
}
