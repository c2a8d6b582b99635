package scanner

import (
	"bytes"
	"strings"
	"testing"

	"github.com/wl-go/gowl/wire"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<protocol name="sample">
  <interface name="wl_widget" version="3">
    <request name="resize" since="2">
      <arg name="width" type="int"/>
      <arg name="height" type="int"/>
    </request>
    <request name="destroy" type="destructor"/>
    <request name="attach">
      <arg name="surface" type="object" interface="wl_surface" allow-null="true"/>
      <arg name="callback" type="new_id" interface="wl_callback"/>
    </request>
    <event name="resized">
      <arg name="width" type="int"/>
      <arg name="height" type="int"/>
    </event>
  </interface>
  <interface name="wl_surface" version="1">
  </interface>
  <interface name="wl_callback" version="1">
    <event name="done">
      <arg name="data" type="uint"/>
    </event>
  </interface>
</protocol>
`

func TestParse(t *testing.T) {
	p, err := Parse(strings.NewReader(sampleXML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Name != "sample" {
		t.Fatalf("expected protocol name %q, got %q", "sample", p.Name)
	}
	if len(p.Interfaces) != 3 {
		t.Fatalf("expected 3 interfaces, got %d", len(p.Interfaces))
	}

	var widget *wire.Interface
	for _, iface := range p.Interfaces {
		if iface.Name == "wl_widget" {
			widget = iface
		}
	}
	if widget == nil {
		t.Fatalf("wl_widget not found")
	}
	if widget.Version != 3 {
		t.Fatalf("expected version 3, got %d", widget.Version)
	}
	if len(widget.Requests) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(widget.Requests))
	}

	resize := widget.Requests[0]
	if resize.Name != "resize" || resize.Since != 2 || len(resize.Signature) != 2 {
		t.Fatalf("unexpected resize descriptor: %+v", resize)
	}
	if resize.Signature[0].Type != wire.ArgInt {
		t.Fatalf("expected int arg, got %v", resize.Signature[0].Type)
	}

	destroy := widget.Requests[1]
	if !destroy.Destructor {
		t.Fatalf("expected destroy to be a destructor")
	}

	attach := widget.Requests[2]
	if attach.Signature[0].Type != wire.ArgObject || !attach.Signature[0].Nullable {
		t.Fatalf("expected nullable object arg, got %+v", attach.Signature[0])
	}
	if attach.Signature[0].Iface == nil || attach.Signature[0].Iface.Name != "wl_surface" {
		t.Fatalf("expected surface interface resolved, got %+v", attach.Signature[0].Iface)
	}
	if attach.Signature[1].Type != wire.ArgNewID || attach.NewIDInterface == nil || attach.NewIDInterface.Name != "wl_callback" {
		t.Fatalf("expected resolved callback new_id, got %+v", attach)
	}

	if len(widget.Events) != 1 || widget.Events[0].Name != "resized" {
		t.Fatalf("unexpected events: %+v", widget.Events)
	}
}

func TestParseUnknownInterfaceReference(t *testing.T) {
	const badXML = `<protocol name="bad">
  <interface name="wl_thing" version="1">
    <request name="attach">
      <arg name="other" type="object" interface="wl_missing"/>
    </request>
  </interface>
</protocol>`
	if _, err := Parse(strings.NewReader(badXML)); err == nil {
		t.Fatalf("expected an error for an unresolved interface reference")
	}
}

func TestGenerate(t *testing.T) {
	p, err := Parse(strings.NewReader(sampleXML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var buf bytes.Buffer
	if err := Generate(&buf, "sampleproto", p); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"package sampleproto",
		"var Widget = &wire.Interface{",
		`Name:    "wl_widget"`,
		"Destructor: true",
		"wire.ArgNewID",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("generated source missing %q:\n%s", want, out)
		}
	}
}
