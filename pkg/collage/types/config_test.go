package types

import (
	"reflect"
	"strings"
	"testing"
)

func Test_LoadSettings_ParsesByteSizeAndConnections(t *testing.T) {
	doc := strings.NewReader(`
object_buffer_cap: "256mb"
keep_alive_timeout: 5s
keep_alive_interval: 1s
connections:
  - type: tcp
    hostname: 127.0.0.1
    port: 9000
`)
	settings, err := LoadSettings(doc)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if want := uint64(256 * 1000 * 1000); settings.Bytes != want {
		t.Fatalf("expected Bytes %d, got %d", want, settings.Bytes)
	}
	if len(settings.Connections) != 1 || settings.Connections[0].Port != 9000 {
		t.Fatalf("expected one connection on port 9000, got %+v", settings.Connections)
	}
}

func Test_LoadSettings_EmptyDocumentFallsBackToDefaults(t *testing.T) {
	settings, err := LoadSettings(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if !reflect.DeepEqual(settings, DefaultSettings()) {
		t.Fatalf("expected defaults for an empty document, got %+v", settings)
	}
}
