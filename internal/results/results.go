// Package results holds the crawl-wide result aggregate.
package results

import (
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/ReconCrawler/internal/forms"
	"github.com/PentesterFlow/ReconCrawler/internal/network"
)

// PageRecord is written once per successfully processed page.
type PageRecord struct {
	URL        string    `json:"url"`
	Depth      int       `json:"depth"`
	Title      string    `json:"title"`
	LinksFound int       `json:"links_found"`
	Timestamp  time.Time `json:"timestamp"`
}

// Technology is a detected framework, library or server.
type Technology struct {
	Name       string `json:"name"`
	Category   string `json:"category,omitempty"`
	Version    string `json:"version,omitempty"`
	Confidence int    `json:"confidence"`
	Evidence   string `json:"evidence,omitempty"`
}

// Endpoint is a discovered URL or API path.
type Endpoint struct {
	URL     string `json:"url"`
	Method  string `json:"method,omitempty"`
	Source  string `json:"source"`
	PageURL string `json:"page_url,omitempty"`
}

// Secret is a suspected credential or key.
type Secret struct {
	Kind    string `json:"kind"`
	Value   string `json:"value"`
	Source  string `json:"source"`
	PageURL string `json:"page_url,omitempty"`
}

// Snapshot is a point-in-time copy of the aggregate.
type Snapshot struct {
	Pages        []PageRecord          `json:"pages"`
	Requests     []network.Transaction `json:"requests"`
	BestRequest  *network.Transaction  `json:"best_request,omitempty"`
	Endpoints    []Endpoint            `json:"endpoints"`
	Secrets      []Secret              `json:"secrets"`
	Forms        []forms.Attempt       `json:"forms"`
	Technologies []Technology          `json:"technologies"`
}

// RequestSource owns captured network transactions.
type RequestSource interface {
	Transactions() []network.Transaction
	Best() *network.Transaction
	Restore(txs []network.Transaction)
}

// Listener sees each committed page and each newly recorded endpoint.
// Calls happen outside the aggregate's lock, in commit order per caller.
type Listener interface {
	PageAdded(p PageRecord)
	EndpointAdded(ep Endpoint)
}

// Aggregate accumulates crawl findings. Every method is safe for
// concurrent use; contributions are only ever appended or merged.
type Aggregate struct {
	requests RequestSource

	mu           sync.RWMutex
	listener     Listener
	pages        []PageRecord
	endpoints    []Endpoint
	endpointKeys map[string]struct{}
	secrets      []Secret
	secretKeys   map[string]struct{}
	forms        []forms.Attempt
	techs        []Technology
	techKeys     map[string]struct{}
}

// New creates an empty aggregate. requests may be nil.
func New(requests RequestSource) *Aggregate {
	return &Aggregate{
		requests:     requests,
		endpointKeys: make(map[string]struct{}),
		secretKeys:   make(map[string]struct{}),
		techKeys:     make(map[string]struct{}),
	}
}

// SetListener installs l; nil removes it. Merged snapshots are not replayed.
func (a *Aggregate) SetListener(l Listener) {
	a.mu.Lock()
	a.listener = l
	a.mu.Unlock()
}

// AddPage appends a page record.
func (a *Aggregate) AddPage(p PageRecord) {
	a.mu.Lock()
	a.pages = append(a.pages, p)
	l := a.listener
	a.mu.Unlock()
	if l != nil {
		l.PageAdded(p)
	}
}

// PageCount returns the number of committed pages.
func (a *Aggregate) PageCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.pages)
}

// AddEndpoints merges endpoints keyed by method and URL. It returns the
// number of new entries.
func (a *Aggregate) AddEndpoints(eps ...Endpoint) int {
	a.mu.Lock()
	n := len(a.endpoints)
	added := a.addEndpointsLocked(eps)
	l := a.listener
	var fresh []Endpoint
	if l != nil && added > 0 {
		fresh = append(fresh, a.endpoints[n:]...)
	}
	a.mu.Unlock()

	for _, ep := range fresh {
		l.EndpointAdded(ep)
	}
	return added
}

func (a *Aggregate) addEndpointsLocked(eps []Endpoint) int {
	added := 0
	for _, ep := range eps {
		k := strings.ToUpper(ep.Method) + " " + ep.URL
		if _, ok := a.endpointKeys[k]; ok {
			continue
		}
		a.endpointKeys[k] = struct{}{}
		a.endpoints = append(a.endpoints, ep)
		added++
	}
	return added
}

// AddSecrets appends secrets not already recorded with the same kind and value.
func (a *Aggregate) AddSecrets(secrets ...Secret) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range secrets {
		k := s.Kind + "\x00" + s.Value
		if _, ok := a.secretKeys[k]; ok {
			continue
		}
		a.secretKeys[k] = struct{}{}
		a.secrets = append(a.secrets, s)
	}
}

// AddForm appends a form attempt.
func (a *Aggregate) AddForm(f forms.Attempt) {
	a.mu.Lock()
	a.forms = append(a.forms, f)
	a.mu.Unlock()
}

// AddTechnologies merges technologies keyed by lowercase name.
func (a *Aggregate) AddTechnologies(techs ...Technology) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addTechsLocked(techs)
}

func (a *Aggregate) addTechsLocked(techs []Technology) {
	for _, t := range techs {
		k := strings.ToLower(t.Name)
		if _, ok := a.techKeys[k]; ok {
			continue
		}
		a.techKeys[k] = struct{}{}
		a.techs = append(a.techs, t)
	}
}

// Snapshot returns a copy of everything collected so far.
func (a *Aggregate) Snapshot() Snapshot {
	a.mu.RLock()
	s := Snapshot{
		Pages:        append([]PageRecord(nil), a.pages...),
		Endpoints:    append([]Endpoint(nil), a.endpoints...),
		Secrets:      append([]Secret(nil), a.secrets...),
		Forms:        append([]forms.Attempt(nil), a.forms...),
		Technologies: append([]Technology(nil), a.techs...),
	}
	a.mu.RUnlock()

	if a.requests != nil {
		s.Requests = a.requests.Transactions()
		s.BestRequest = a.requests.Best()
	}
	return s
}

// Merge folds a saved snapshot into the aggregate. Arrays (pages, requests,
// secrets, forms) are replaced when the saved copy is non-empty; sets
// (endpoints, technologies) are merged element-wise.
func (a *Aggregate) Merge(s Snapshot) {
	a.mu.Lock()
	if len(s.Pages) > 0 {
		a.pages = append([]PageRecord(nil), s.Pages...)
	}
	if len(s.Secrets) > 0 {
		a.secrets = append([]Secret(nil), s.Secrets...)
		a.secretKeys = make(map[string]struct{}, len(s.Secrets))
		for _, sec := range s.Secrets {
			a.secretKeys[sec.Kind+"\x00"+sec.Value] = struct{}{}
		}
	}
	if len(s.Forms) > 0 {
		a.forms = append([]forms.Attempt(nil), s.Forms...)
	}
	a.addEndpointsLocked(s.Endpoints)
	a.addTechsLocked(s.Technologies)
	a.mu.Unlock()

	if a.requests != nil {
		a.requests.Restore(s.Requests)
	}
}
