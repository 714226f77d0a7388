package visitor

import (
	"reflect"
	"testing"
)

// ============================================================================
// Link Extraction Tests
// ============================================================================

func TestExtractLinks(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "anchors resolved and fragments stripped",
			body: `<a href="/a">a</a><a href="b?x=1#frag">b</a><a href="#top">top</a>`,
			want: []string{"https://example.com/a", "https://example.com/dir/b?x=1"},
		},
		{
			name: "area and iframe",
			body: `<map><area href="/map"></map><iframe src="/if"></iframe>`,
			want: []string{"https://example.com/map", "https://example.com/if"},
		},
		{
			name: "angular attributes",
			body: `<a ng-href="/ng">x</a><a ng-href="/users/{{id}}">y</a><button routerLink="/settings">s</button>`,
			want: []string{"https://example.com/ng", "https://example.com/settings"},
		},
		{
			name: "onclick handlers",
			body: `<div onclick="window.open('/popup')"></div><span onclick="location.assign('/next')"></span><b onclick="doIt()"></b>`,
			want: []string{"https://example.com/popup", "https://example.com/next"},
		},
		{
			name: "urls in text",
			body: `<p>Docs at https://example.com/docs, or http://example.com/old.</p>`,
			want: []string{"https://example.com/docs", "http://example.com/old"},
		},
		{
			name: "comments",
			body: `<!-- TODO remove <a href="/debug">debug</a> --><p>x</p><!-- see https://example.com/internal -->`,
			// Absolute URLs are already picked up by the markup scan.
			want: []string{"https://example.com/internal", "https://example.com/debug"},
		},
		{
			name: "non-http schemes skipped",
			body: `<a href="mailto:a@b.c">m</a><a href="javascript:void(0)">j</a><a href="tel:123">t</a>`,
			want: nil,
		},
		{
			name: "duplicates collapse",
			body: `<a href="/a">1</a><a href="/a#x">2</a><a href="https://EXAMPLE.com:443/a">3</a>`,
			want: []string{"https://example.com/a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractLinks(tt.body, "https://example.com/dir/page")
			if err != nil {
				t.Fatalf("ExtractLinks() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractLinks() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractURLsFromText(t *testing.T) {
	got := ExtractURLsFromText(`see "https://a.example/x?y=1" and (http://b.example/z). end https://`)
	want := []string{"https://a.example/x?y=1", "http://b.example/z"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractURLsFromText() = %v, want %v", got, want)
	}
}

func TestHTMLComments(t *testing.T) {
	got := htmlComments(`<p>a</p><!-- one --><!----><div><!-- two --></div>`)
	want := []string{"one", "two"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("htmlComments() = %v, want %v", got, want)
	}
}

func TestURLsFromJSON(t *testing.T) {
	body := `{"next":"/api/items?page=2","self":"https:\/\/example.com\/api\/items","root":"/","proto":"//cdn.example.com/x","n":1}`
	got := URLsFromJSON(body, "https://example.com/api/items")
	want := []string{
		"https://example.com/api/items",
		"https://example.com/api/items?page=2",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("URLsFromJSON() = %v, want %v", got, want)
	}
}
