// Package network pairs the requests and responses observed on the shared
// browsing context and picks the transaction most worth replaying.
package network

import (
	"encoding/json"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/ReconCrawler/internal/browser"
)

// Filter decides whether a URL is captured.
type Filter interface {
	Allow(rawURL string) bool
}

// Transaction is a captured request with its response, if one arrived.
type Transaction struct {
	ID           int64             `json:"id"`
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers,omitempty"`
	RequestBody  string            `json:"request_body,omitempty"`
	ResourceType string            `json:"resource_type,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Response     *Response         `json:"response,omitempty"`
}

// Response is the response half of a Transaction.
type Response struct {
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers,omitempty"`
	MimeType  string            `json:"mime_type,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type pairKey struct {
	url    string
	method string
}

// Correlator stores in-scope transactions for the life of a crawl.
//
// Responses are paired with the oldest unmatched request that has the same
// URL and method. There is no request identifier in the pairing, so two
// concurrent identical requests may receive each other's responses.
type Correlator struct {
	filter Filter

	mu        sync.Mutex
	nextID    int64
	txs       []*Transaction
	unmatched map[pairKey][]*Transaction
}

// NewCorrelator creates a correlator. A nil filter captures everything.
func NewCorrelator(filter Filter) *Correlator {
	return &Correlator{
		filter:    filter,
		unmatched: make(map[pairKey][]*Transaction),
	}
}

// Attach registers the correlator on a browsing context.
func (c *Correlator) Attach(b browser.Browser) {
	b.OnRequest(c.ObserveRequest)
	b.OnResponse(func(ev browser.ResponseEvent) { c.ObserveResponse(ev) })
}

// ObserveRequest captures an outgoing request.
func (c *Correlator) ObserveRequest(ev browser.RequestEvent) {
	if c.filter != nil && !c.filter.Allow(ev.URL) {
		return
	}
	method := strings.ToUpper(ev.Method)
	if method == "" {
		method = "GET"
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	tx := &Transaction{
		ID:           c.nextID,
		URL:          ev.URL,
		Method:       method,
		Headers:      ev.Headers,
		RequestBody:  ev.Body,
		ResourceType: ev.ResourceType,
		Timestamp:    ts,
	}
	c.txs = append(c.txs, tx)
	k := pairKey{url: tx.URL, method: method}
	c.unmatched[k] = append(c.unmatched[k], tx)
}

// ObserveResponse pairs a response with its request. It reports whether a
// request was found.
func (c *Correlator) ObserveResponse(ev browser.ResponseEvent) bool {
	method := strings.ToUpper(ev.Method)
	if method == "" {
		method = "GET"
	}
	k := pairKey{url: ev.URL, method: method}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	queue := c.unmatched[k]
	if len(queue) == 0 {
		return false
	}
	tx := queue[0]
	if len(queue) == 1 {
		delete(c.unmatched, k)
	} else {
		c.unmatched[k] = queue[1:]
	}
	tx.Response = &Response{
		Status:    ev.Status,
		Headers:   ev.Headers,
		MimeType:  ev.MimeType,
		Timestamp: ts,
	}
	return true
}

// Len returns the number of captured transactions.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.txs)
}

// Transactions returns a copy of every transaction in capture order.
func (c *Correlator) Transactions() []Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Transaction, len(c.txs))
	for i, tx := range c.txs {
		out[i] = tx.clone()
	}
	return out
}

// Restore replaces the captured set with a snapshot. Restored requests
// never pair with new responses. An empty snapshot is ignored.
func (c *Correlator) Restore(txs []Transaction) {
	if len(txs) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.txs = make([]*Transaction, len(txs))
	c.unmatched = make(map[pairKey][]*Transaction)
	c.nextID = 0
	for i := range txs {
		tx := txs[i].clone()
		c.txs[i] = &tx
		if tx.ID > c.nextID {
			c.nextID = tx.ID
		}
	}
}

// Best returns the best representative transaction, or nil when only
// assets were captured.
func (c *Correlator) Best() *Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *Transaction
	bestScore := -1
	for _, tx := range c.txs {
		if IsAsset(tx.URL, tx.ResourceType) {
			continue
		}
		// Strictly greater keeps the earliest transaction on ties.
		if s := Score(tx); s > bestScore {
			best, bestScore = tx, s
		}
	}
	if best == nil {
		return nil
	}
	out := best.clone()
	return &out
}

// Score rates how useful a transaction is for manual replay.
func Score(tx *Transaction) int {
	score := 0
	if tx.Method == "POST" {
		score += 5
	}

	body := strings.TrimSpace(tx.RequestBody)
	switch {
	case body == "":
	case isJSONBody(body):
		score += 4
	case isFormBody(body, headerValue(tx.Headers, "Content-Type")):
		score += 5
	}

	if u, err := url.Parse(tx.URL); err == nil {
		n := len(u.Query())
		if n > 3 {
			n = 3
		}
		score += n
	}
	return score
}

var assetExtensions = map[string]struct{}{
	".js": {}, ".mjs": {}, ".css": {}, ".map": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {}, ".webp": {}, ".avif": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
	".mp4": {}, ".webm": {}, ".mp3": {}, ".wav": {},
}

var assetResourceTypes = map[string]struct{}{
	"Stylesheet": {}, "Image": {}, "Media": {}, "Font": {}, "Script": {}, "Manifest": {},
}

// IsAsset reports whether a transaction is a static asset.
func IsAsset(rawURL, resourceType string) bool {
	if _, ok := assetResourceTypes[resourceType]; ok {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	_, ok := assetExtensions[strings.ToLower(path.Ext(u.Path))]
	return ok
}

func isJSONBody(body string) bool {
	if body[0] != '{' && body[0] != '[' {
		return false
	}
	return json.Valid([]byte(body))
}

func isFormBody(body, contentType string) bool {
	if !strings.Contains(body, "=") {
		return false
	}
	if strings.Contains(strings.ToLower(contentType), "application/x-www-form-urlencoded") {
		return true
	}
	values, err := url.ParseQuery(body)
	if err != nil || len(values) == 0 {
		return false
	}
	for k := range values {
		if k == "" || strings.ContainsAny(k, " \n\t{}") {
			return false
		}
	}
	return true
}

func headerValue(h map[string]string, name string) string {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (tx *Transaction) clone() Transaction {
	out := *tx
	if tx.Response != nil {
		r := *tx.Response
		out.Response = &r
	}
	return out
}
