package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testProtocolXML = `<protocol name="testproto">
  <interface name="wl_thing" version="2">
    <request name="destroy" type="destructor"/>
    <event name="ping">
      <arg name="serial" type="uint"/>
    </event>
  </interface>
</protocol>`

func writeTestProtocol(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.xml")
	if err := os.WriteFile(path, []byte(testProtocolXML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestGenerateCommandWritesSource(t *testing.T) {
	input := writeTestProtocol(t)
	output := filepath.Join(t.TempDir(), "generated.go")

	root := newRootCmd()
	root.SetArgs([]string{"generate", "--input", input, "--output", output, "--package", "testproto"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(got), "package testproto") {
		t.Fatalf("generated file missing package clause:\n%s", got)
	}
	if !strings.Contains(string(got), "var Thing = &wire.Interface{") {
		t.Fatalf("generated file missing Thing interface:\n%s", got)
	}
}

func TestListInterfacesCommand(t *testing.T) {
	input := writeTestProtocol(t)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"list-interfaces", "--input", input})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !strings.Contains(out.String(), "wl_thing") {
		t.Fatalf("expected output to mention wl_thing, got:\n%s", out.String())
	}
}

func TestGenerateCommandRequiresInput(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"generate", "--package", "x"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected an error when --input is missing")
	}
}
