package checksum

import "testing"

func TestScript(t *testing.T) {
	got := Script("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("Script mismatch: got %s want %s", got, want)
	}
}

func TestScriptIgnoresLineEndings(t *testing.T) {
	if Script("SELECT 1;\r\nSELECT 2;\r\n") != Script("SELECT 1;\nSELECT 2;\n") {
		t.Fatal("CRLF and LF scripts should hash the same")
	}
}

func TestShort(t *testing.T) {
	if got := Short("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("Short = %q", got)
	}
	if got := Short("abc"); got != "abc" {
		t.Fatalf("Short = %q", got)
	}
}
