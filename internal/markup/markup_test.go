package markup

import (
	"strings"
	"testing"
)

const chapterXHTML = `<?xml version="1.0" encoding="utf-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head><title>Chapter</title><link rel="stylesheet" href="style.css"/><style>p { margin: 0 }</style></head>
<body>
<h1>Chapter One</h1>
<p>Hello <em>brave</em> world.</p>
<p>Line one<br/>Line two</p>
<div id="anchor"/>
<p>***</p>
<pre>let x = 1;</pre>
<script>var t = "skip me";</script>
</body>
</html>`

func TestParseDetectsDialect(t *testing.T) {
	tests := []struct {
		name string
		file string
		text string
		want Dialect
	}{
		{"xml declaration", "a.html", `<?xml version="1.0"?><html><body></body></html>`, DialectXHTML},
		{"xhtml extension", "a.xhtml", `<html><body></body></html>`, DialectXHTML},
		{"xhtml namespace", "a.htm", `<html xmlns="http://www.w3.org/1999/xhtml"><body></body></html>`, DialectXHTML},
		{"plain html", "a.html", `<!DOCTYPE html><html><body><p>x</p></body></html>`, DialectHTML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse(tt.file, tt.text)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if doc.Dialect != tt.want {
				t.Errorf("Dialect = %v, want %v", doc.Dialect, tt.want)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	doc, err := Parse("ch1.xhtml", chapterXHTML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	frags := Extract(doc)

	var got []string
	for _, f := range frags {
		got = append(got, f.Original)
	}
	want := []string{"Chapter", "Chapter One", "Hello brave world.", "Line one", "Line two", "***", "let x = 1;"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("Extract() = %q, want %q", got, want)
	}

	for i, f := range frags {
		if f.ID != i {
			t.Errorf("fragment %d has ID %d", i, f.ID)
		}
	}
	if frags[5].SkipReason != SkipNoLetters {
		t.Errorf("punctuation fragment SkipReason = %q", frags[5].SkipReason)
	}
	if frags[6].SkipReason != SkipPreformatted {
		t.Errorf("pre fragment SkipReason = %q", frags[6].SkipReason)
	}
	if !frags[3].Split || frags[4].BreaksBefore != 1 {
		t.Errorf("line break split not recorded: %+v %+v", frags[3], frags[4])
	}
}

func TestExtractNestedBlocksDoNotDuplicate(t *testing.T) {
	doc, err := Parse("n.html", `<html><body><div>Lead text<p>Inner paragraph</p></div></body></html>`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	frags := Extract(doc)
	if len(frags) != 2 {
		t.Fatalf("len(Extract()) = %d, want 2", len(frags))
	}
	if !frags[0].Inline || frags[0].Original != "Lead text" {
		t.Errorf("frags[0] = %+v, want inline lead text", frags[0])
	}
	if frags[1].Inline || frags[1].Original != "Inner paragraph" {
		t.Errorf("frags[1] = %+v, want block paragraph", frags[1])
	}
}

func TestExtractNormalizesWhitespace(t *testing.T) {
	doc, err := Parse("w.html", "<html><body><p>  Hello\n\n   there\t friend </p></body></html>")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	frags := Extract(doc)
	if len(frags) != 1 || frags[0].Original != "Hello there friend" {
		t.Fatalf("Extract() = %+v", frags)
	}
}

func TestApplyAndRenderXHTML(t *testing.T) {
	doc, err := Parse("ch1.xhtml", chapterXHTML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	frags := Extract(doc)
	frags[1].Translated = "第一章"
	frags[2].Translated = "你好，勇敢的世界。"
	frags[3].Translated = "第一行"
	// frags[4] left untranslated: split siblings keep their original text

	if n := Apply(doc, frags); n != 3 {
		t.Errorf("Apply() = %d anchors, want 3", n)
	}
	doc.SetLanguage("zh")

	out, err := doc.Render()
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	for _, want := range []string{
		`<?xml version="1.0" encoding="utf-8"?>` + "\n<!DOCTYPE html>\n<html",
		`<h1>第一章</h1>`,
		`<p>你好，勇敢的世界。</p>`,
		`<p>第一行<br/>Line two</p>`,
		`<div id="anchor"></div>`,
		`<link rel="stylesheet" href="style.css"/>`,
		`<title>Chapter</title>`,
		`var t = "skip me";`,
		`xmlns:epub="http://www.idpf.org/2007/ops"`,
		`lang="zh"`,
		`xml:lang="zh"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q\n%s", want, out)
		}
	}
}

func TestApplyInlinePreservesSurroundingSpace(t *testing.T) {
	doc, err := Parse("i.html", `<html><body><div> Intro <p>Body</p></div></body></html>`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	frags := Extract(doc)
	frags[0].Translated = "Einleitung"

	Apply(doc, frags)
	out, err := doc.Render()
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, "<div> Einleitung <p>Body</p></div>") {
		t.Errorf("Render() = %s", out)
	}
}

func TestApplyEscapesTranslatedText(t *testing.T) {
	doc, err := Parse("e.html", `<html><body><p>Fish and chips</p></body></html>`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	frags := Extract(doc)
	frags[0].Translated = "Fisch & <Pommes>"

	Apply(doc, frags)
	out, err := doc.Render()
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, "<p>Fisch &amp; &lt;Pommes&gt;</p>") {
		t.Errorf("Render() = %s", out)
	}
}

func TestApplyWithoutTranslationsLeavesTree(t *testing.T) {
	doc, err := Parse("u.html", `<html><body><p>Keep <b>me</b></p></body></html>`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	frags := Extract(doc)
	if n := Apply(doc, frags); n != 0 {
		t.Errorf("Apply() = %d, want 0", n)
	}
	out, _ := doc.Render()
	if !strings.Contains(out, "<p>Keep <b>me</b></p>") {
		t.Errorf("Render() = %s", out)
	}
}

func TestFragmentIsTranslated(t *testing.T) {
	tests := []struct {
		name       string
		original   string
		translated string
		want       bool
	}{
		{"missing", "Hello there", "", false},
		{"blank", "Hello there", "  \n", false},
		{"echoed", "Hello there", "Hello there", false},
		{"echoed with other spacing", "Hello there", " Hello\n there ", false},
		{"translated", "Hello there", "Hallo zusammen", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Fragment{Original: tt.original, Translated: tt.translated}
			if got := f.IsTranslated(); got != tt.want {
				t.Errorf("IsTranslated() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseCollapsesClosedVoidElements(t *testing.T) {
	doc, err := Parse("b.xhtml", `<html xmlns="http://www.w3.org/1999/xhtml"><body><p>One<br></br>Two</p><p>Three<br class="x"></BR>Four</p></body></html>`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	frags := Extract(doc)

	var got []string
	for _, f := range frags {
		got = append(got, f.Original)
	}
	if strings.Join(got, "|") != "One|Two|Three|Four" {
		t.Fatalf("Extract() = %q", got)
	}
	if frags[1].BreaksBefore != 1 || frags[3].BreaksBefore != 1 {
		t.Errorf("BreaksBefore = %d, %d; want 1, 1", frags[1].BreaksBefore, frags[3].BreaksBefore)
	}

	frags[0].Translated = "Eins"
	Apply(doc, frags)
	out, err := doc.Render()
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{`<p>Eins<br/>Two</p>`, `<p>Three<br class="x"/>Four</p>`} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q\n%s", want, out)
		}
	}
}
