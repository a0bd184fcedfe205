package dokploy

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const pocketbaseCompose = `
services:
  pocketbase:
    image: adrianmusante/pocketbase:latest
    restart: always
    environment:
      - POCKETBASE_ADMIN_EMAIL=${ADMIN_EMAIL}
      - POCKETBASE_ADMIN_PASSWORD=${ADMIN_PASSWORD}
    volumes:
      - pocketbase-data:/pocketbase

volumes:
  pocketbase-data: {}
`

const pocketbaseConfig = `
[variables]
main_domain = "${domain}"
admin_email = "${email}"
admin_password = "${password:32}"

[config]
[[config.domains]]
serviceName = "pocketbase"
port = 8090
host = "${main_domain}"

[config.env]
ADMIN_EMAIL = "${admin_email}"
ADMIN_PASSWORD = "${admin_password}"

[[config.mounts]]
name = "pocketbase-data"
mountPath = "/pocketbase"
`

func encodeEnvelope(t *testing.T, compose, config string) string {
	t.Helper()
	raw, err := json.Marshal(envelope{Compose: compose, Config: config})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestToZaneopsConvertsPlaceholdersAndRoutes(t *testing.T) {
	out, err := ToZaneops(encodeEnvelope(t, pocketbaseCompose, pocketbaseConfig))
	if err != nil {
		t.Fatalf("ToZaneops: %v", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("output is not valid YAML: %v\n%s", err, out)
	}

	xenv, ok := doc["x-env"].(map[string]any)
	if !ok {
		t.Fatalf("expected x-env section, got %#v", doc["x-env"])
	}
	if xenv["main_domain"] != "{{ generate_domain }}" {
		t.Errorf("main_domain = %v, want generate_domain placeholder", xenv["main_domain"])
	}
	if xenv["admin_email"] != "{{ generate_email }}" {
		t.Errorf("admin_email = %v, want generate_email placeholder", xenv["admin_email"])
	}
	if xenv["admin_password"] != "{{ generate_password | 32 }}" {
		t.Errorf("admin_password = %v, want generate_password|32 placeholder", xenv["admin_password"])
	}
	if xenv["ADMIN_EMAIL"] != "${admin_email}" {
		t.Errorf("ADMIN_EMAIL = %v, want ${admin_email} passthrough", xenv["ADMIN_EMAIL"])
	}

	services := doc["services"].(map[string]any)
	pb := services["pocketbase"].(map[string]any)
	deploy := pb["deploy"].(map[string]any)
	labels := deploy["labels"].(map[string]any)

	if labels["zane.http.routes.0.domain"] != "${main_domain}" {
		t.Errorf("route domain label = %v", labels["zane.http.routes.0.domain"])
	}
	if labels["zane.http.routes.0.base_path"] != "/" {
		t.Errorf("route base_path label = %v", labels["zane.http.routes.0.base_path"])
	}
	if labels["zane.http.routes.0.port"] != 8090 {
		t.Errorf("route port label = %v", labels["zane.http.routes.0.port"])
	}

	if doc["configs"] != nil {
		if configs, ok := doc["configs"].(map[string]any); ok && len(configs) != 0 {
			t.Errorf("expected no configs for a content-less mount, got %#v", configs)
		}
	}
}

func TestToZaneopsInlineConfigMount(t *testing.T) {
	compose := `
services:
  cache:
    image: valkey/valkey:alpine
`
	config := `
[variables]
valkey_password = "${password:32}"

[config]
env = ["VALKEY_PASSWORD=${valkey_password}"]

[[config.mounts]]
filePath = "valkey.conf"
content = """
bind 0.0.0.0
port 6379
"""
`
	out, err := ToZaneops(encodeEnvelope(t, compose, config))
	if err != nil {
		t.Fatalf("ToZaneops: %v", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("output is not valid YAML: %v\n%s", err, out)
	}

	xenv := doc["x-env"].(map[string]any)
	if xenv["VALKEY_PASSWORD"] != "${valkey_password}" {
		t.Errorf("VALKEY_PASSWORD = %v, want ${valkey_password} passthrough from the string-array env form", xenv["VALKEY_PASSWORD"])
	}

	configs := doc["configs"].(map[string]any)
	entry, ok := configs["valkey.conf"].(map[string]any)
	if !ok {
		t.Fatalf("expected configs[valkey.conf], got %#v", doc["configs"])
	}
	if !strings.Contains(entry["content"].(string), "bind 0.0.0.0") {
		t.Errorf("config content missing expected body: %v", entry["content"])
	}
}

func TestToZaneopsRejectsRelativeBindMount(t *testing.T) {
	compose := `
services:
  app:
    image: example/app:latest
    volumes:
      - ../files/app:/data
`
	config := `
[variables]
[config]
`
	if _, err := ToZaneops(encodeEnvelope(t, compose, config)); err == nil {
		t.Fatal("expected ToZaneops to reject a ../files/ bind mount")
	}
}

func TestToZaneopsRejectsInvalidBase64(t *testing.T) {
	if _, err := ToZaneops("not-base64!!"); err == nil {
		t.Fatal("expected an error for invalid base64 input")
	}
}
