package extractor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/IshaanNene/scrapehub/internal/types"
)

const sampleHTML = `<html><head>
<title>Fallback Title</title>
<meta property="og:title" content="OG Title">
<meta property="og:description" content="OG Desc">
<meta property="og:image" content="https://example.com/img.png">
<meta name="twitter:card" content="summary">
<script type="application/ld+json">{"@type":"Article","headline":"h"}</script>
</head><body>
<img src="https://example.com/a.jpg" alt="a">
<article>This is the article body and it is definitely longer than twenty characters.</article>
</body></html>`

func TestExtractSimple(t *testing.T) {
	e := New(nil, nilLogger())
	payload, err := e.Extract(sampleHTML, "https://example.com/post", types.ModeSimple)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	simple := payload.(SimplePayload)
	if simple.Title != "OG Title" || simple.Image == "" {
		t.Fatalf("unexpected simple payload: %+v", simple)
	}
}

func TestExtractFullBoundsAndCategorization(t *testing.T) {
	e := New(nil, nilLogger())
	payload, err := e.Extract(sampleHTML, "https://example.com/post", types.ModeFull)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	full := payload.(FullPayload)
	if full.OGData["title"] != "OG Title" {
		t.Fatalf("og data not categorized: %+v", full.OGData)
	}
	if full.TwitterData["card"] != "summary" {
		t.Fatalf("twitter data not categorized: %+v", full.TwitterData)
	}
	if len(full.Images) != 1 {
		t.Fatalf("images = %+v, want 1", full.Images)
	}
}

func TestExtractFullCapsImagesAndVideos(t *testing.T) {
	var body strings.Builder
	body.WriteString("<html><head><title>t</title></head><body>")
	for i := 0; i < maxImages+10; i++ {
		fmt.Fprintf(&body, `<img src="https://example.com/%d.jpg">`, i)
	}
	for i := 0; i < maxVideos+10; i++ {
		fmt.Fprintf(&body, `<video src="https://example.com/%d.mp4"></video>`, i)
	}
	body.WriteString("</body></html>")

	e := New(nil, nilLogger())
	payload, err := e.Extract(body.String(), "https://example.com/post", types.ModeFull)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	full := payload.(FullPayload)
	if len(full.Images) != maxImages {
		t.Fatalf("images = %d, want %d", len(full.Images), maxImages)
	}
	if len(full.Videos) != maxVideos {
		t.Fatalf("videos = %d, want %d", len(full.Videos), maxVideos)
	}
}

func TestExtractSuperIncludesArticleAndJSONLD(t *testing.T) {
	e := New(nil, nilLogger())
	payload, err := e.Extract(sampleHTML, "https://example.com/post", types.ModeSuper)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	super := payload.(SuperPayload)
	if !strings.Contains(super.ArticleText, "article body") {
		t.Fatalf("article text missing: %q", super.ArticleText)
	}
	if len(super.JSONLD) != 1 {
		t.Fatalf("json-ld = %+v, want 1 document", super.JSONLD)
	}
}

func TestTruncateCapsArticleText(t *testing.T) {
	long := strings.Repeat("a", maxArticleChars+500)
	if got := truncate(long, maxArticleChars); len(got) != maxArticleChars {
		t.Fatalf("truncated length = %d, want %d", len(got), maxArticleChars)
	}
}
