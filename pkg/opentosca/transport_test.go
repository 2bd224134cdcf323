package opentosca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	tr, err := NewTransport("http://container:1337/containerapi")
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	cases := map[string]string{
		"CSARs":                           "http://container:1337/containerapi/CSARs",
		"/instancedata/serviceInstances/": "http://container:1337/containerapi/instancedata/serviceInstances",
		"http://other/CSARs/x.csar":       "http://other/CSARs/x.csar",
		"":                                "http://container:1337/containerapi",
	}
	for ref, want := range cases {
		if got := tr.Resolve(ref); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", ref, got, want)
		}
	}
	if got := tr.Endpoint("CSARs", "a b#1.csar"); got != "http://container:1337/containerapi/CSARs/a%20b%231.csar" {
		t.Errorf("Endpoint escaped = %q", got)
	}
}

type entry struct {
	Name string `xml:"name,attr"`
}

func TestFetchLinkedBoundsParallelism(t *testing.T) {
	var inflight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		fmt.Fprintf(w, `<Entry name="%s"/>`, r.URL.Path[1:])
	}))
	defer srv.Close()

	tr, err := NewTransport(srv.URL)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	var links []Link
	for i := 0; i < 6; i++ {
		links = append(links, Link{Href: fmt.Sprintf("%s/e%d", srv.URL, i)})
	}
	got, err := FetchLinked[entry](context.Background(), tr, links, 2)
	if err != nil {
		t.Fatalf("fetch linked: %v", err)
	}
	for i, e := range got {
		if e.Name != fmt.Sprintf("e%d", i) {
			t.Fatalf("result %d = %q, order not preserved", i, e.Name)
		}
	}
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent requests, saw %d", peak.Load())
	}
}

func TestFetchLinkedHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<Entry name="x"/>`)
	}))
	defer srv.Close()
	tr, err := NewTransport(srv.URL)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = FetchLinked[entry](ctx, tr, []Link{{Href: srv.URL + "/a"}}, 1)
	if !errors.Is(err, ErrUnreachable) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected unreachable wrapping context.Canceled, got %v", err)
	}
}
