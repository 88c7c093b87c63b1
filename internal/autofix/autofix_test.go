package autofix

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/Lllllllleong/geoingestflow/internal/formats"
)

func TestRepairTrailingCommas(t *testing.T) {
	in := `{"type":"FeatureCollection","features":[{"a":1,},],}`
	res := Repair([]byte(in), formats.GeoJSON)
	var v map[string]any
	if err := json.Unmarshal(res.Text, &v); err != nil {
		t.Fatalf("repaired text still invalid: %v\n%s", err, res.Text)
	}
	if !res.Changed() {
		t.Fatal("expected fixes to be reported")
	}
}

func TestRepairKeepsCommasInStrings(t *testing.T) {
	in := `{"name":"a,}","note":"x, ]"}`
	res := Repair([]byte(in), formats.JSON)
	if string(res.Text) != in {
		t.Fatalf("string content modified: %s", res.Text)
	}
	if res.Changed() {
		t.Fatalf("unexpected fixes: %v", res.Fixes)
	}
}

func TestRepairComments(t *testing.T) {
	in := "{\n  // the name\n  \"name\": \"http://example.com\", /* block\n comment */\n  \"n\": 1\n}"
	res := Repair([]byte(in), formats.JSON)
	var v struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	if err := json.Unmarshal(res.Text, &v); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, res.Text)
	}
	if v.Name != "http://example.com" || v.N != 1 {
		t.Fatalf("got %+v", v)
	}
	if strings.Count(string(res.Text), "\n") != strings.Count(in, "\n") {
		t.Fatal("line count changed")
	}
}

func TestRepairLineEndingsAndArtifacts(t *testing.T) {
	in := "\xef\xbb\xbfname,lat\r\nA\x00,1\rB\uFFFD,2\r\n"
	res := Repair([]byte(in), formats.CSV)
	want := "name,lat\nA,1\nB,2\n"
	if string(res.Text) != want {
		t.Fatalf("got %q, want %q", res.Text, want)
	}
	if len(res.Fixes) != 3 {
		t.Fatalf("fixes = %v", res.Fixes)
	}
}

func TestRepairWindows1252(t *testing.T) {
	// 0xE9 is é in Windows-1252 and invalid on its own in UTF-8.
	res := Repair([]byte("name\nCaf\xe9\n"), formats.CSV)
	if string(res.Text) != "name\nCafé\n" {
		t.Fatalf("got %q", res.Text)
	}
}

func TestRepairUTF16(t *testing.T) {
	in := []byte{0xFF, 0xFE, 'P', 0, 'O', 0, 'I', 0, 'N', 0, 'T', 0}
	res := Repair(in, formats.WKT)
	if string(res.Text) != "POINT" {
		t.Fatalf("got %q", res.Text)
	}
}

func TestRepairCleanInputUnchanged(t *testing.T) {
	in := `{"a":[1,2,3]}`
	res := Repair([]byte(in), formats.JSON)
	if res.Changed() || string(res.Text) != in {
		t.Fatalf("clean input modified: %q %v", res.Text, res.Fixes)
	}
}

func TestRepairSkipsJSONRulesForOtherFormats(t *testing.T) {
	in := "a,b,\n1,2,\n"
	res := Repair([]byte(in), formats.CSV)
	if string(res.Text) != in {
		t.Fatalf("csv trailing delimiters touched: %q", res.Text)
	}
}
