package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/csarrepo/csarrepo/pkg/opentosca"
)

func TestResolveMarker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /CSARs/shop_v1.csar/Content/"+opentosca.MarkerFile, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "42\n")
	})
	container := httptest.NewServer(mux)
	defer container.Close()

	client, err := opentosca.New(opentosca.Server{Address: container.URL}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	var out bytes.Buffer
	if err := resolveMarker(context.Background(), &out, client, "shop_v1.csar"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := out.String(); got != "csar file 42\n" {
		t.Fatalf("unexpected output %q", got)
	}

	out.Reset()
	err = resolveMarker(context.Background(), &out, client, "foreign.csar")
	if err == nil || !strings.Contains(err.Error(), "no repository marker") {
		t.Fatalf("expected missing marker error, got %v", err)
	}
}

func TestPrintJSON(t *testing.T) {
	var out bytes.Buffer
	links := []opentosca.Link{{Href: "http://c/CSARs/a.csar", Title: "a.csar"}}
	if err := printJSON(&out, links); err != nil {
		t.Fatalf("print: %v", err)
	}
	if !strings.Contains(out.String(), `"href": "http://c/CSARs/a.csar"`) {
		t.Fatalf("unexpected output %s", out.String())
	}
}
