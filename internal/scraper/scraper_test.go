package scraper

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestArticleScriptInterpolation(t *testing.T) {
	script := ArticleScript(0, 0, 0)
	if strings.Contains(script, "%d") {
		t.Fatalf("script still contains placeholders:\n%s", script)
	}
	if !strings.Contains(script, "nbTopCandidates: 5") {
		t.Fatalf("expected default nbTopCandidates=5 in script")
	}
	if !strings.Contains(script, "charThreshold: 500") {
		t.Fatalf("expected default charThreshold=500 in script")
	}

	tuned := ArticleScript(100, 7, 250)
	if !strings.Contains(tuned, "maxElemsToParse: 100") || !strings.Contains(tuned, "nbTopCandidates: 7") {
		t.Fatalf("tuned parameters not interpolated:\n%s", tuned)
	}
}

func TestDecodeArticle(t *testing.T) {
	raw := json.RawMessage(`{"title":"T","content":"<p>x</p>","textContent":"x","byline":"B","excerpt":"E","lang":"en"}`)
	article, err := DecodeArticle(raw)
	if err != nil {
		t.Fatalf("DecodeArticle: %v", err)
	}
	if article.Failed() {
		t.Fatalf("article unexpectedly failed: %+v", article)
	}
	if article.Title != "T" || article.Lang != "en" {
		t.Fatalf("unexpected article: %+v", article)
	}
}

func TestDecodeArticleErrRecord(t *testing.T) {
	article, err := DecodeArticle(json.RawMessage(`{"err":["no article"]}`))
	if err != nil {
		t.Fatalf("an err record is not a decode failure: %v", err)
	}
	if !article.Failed() {
		t.Fatalf("err record must mark the article as failed")
	}
}

func TestDecodeArticleNull(t *testing.T) {
	article, err := DecodeArticle(json.RawMessage(`null`))
	if err != nil {
		t.Fatalf("null result: %v", err)
	}
	if !article.Failed() {
		t.Fatalf("nil article must count as failed")
	}
}

func TestDecodeLinks(t *testing.T) {
	links := DecodeLinks(json.RawMessage(`[{"url":"/a","text":"A"},{"url":"https://x/b","text":"B"}]`))
	if len(links) != 2 || links[0].URL != "/a" || links[1].Text != "B" {
		t.Fatalf("unexpected links: %+v", links)
	}

	// Error records and nulls decode to an empty slice: soft failures.
	if got := DecodeLinks(json.RawMessage(`{"err":["boom"]}`)); got != nil {
		t.Fatalf("err record should yield no links, got %+v", got)
	}
	if got := DecodeLinks(json.RawMessage(`null`)); got != nil {
		t.Fatalf("null should yield no links, got %+v", got)
	}
}

func TestLoadInitScripts(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "b.js"), []byte("// second"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.js"), []byte("// first"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	scripts, err := LoadInitScripts(dir)
	if err != nil {
		t.Fatalf("LoadInitScripts: %v", err)
	}
	if len(scripts) != 2 || scripts[0] != "// first" || scripts[1] != "// second" {
		t.Fatalf("unexpected scripts: %q", scripts)
	}

	// Missing directory is not an error.
	scripts, err = LoadInitScripts(filepath.Join(dir, "missing"))
	if err != nil || scripts != nil {
		t.Fatalf("missing dir: scripts=%v err=%v", scripts, err)
	}
}
