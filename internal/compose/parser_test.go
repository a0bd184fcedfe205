/*
Copyright 2025 The Crossplane Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package compose

import (
	"context"
	"testing"

	"github.com/zaneops/compose-core/internal/apperr"
	"github.com/zaneops/compose-core/internal/domain"
)

func TestParser_Parse(t *testing.T) {
	tests := []struct {
		name           string
		projectName    string
		composeContent string
		wantErr        bool
		wantServices   int
		validateResult func(t *testing.T, spec *domain.ComposeSpec)
	}{
		{
			name:        "simple service",
			projectName: "test-project",
			composeContent: `
version: '3.8'
services:
  web:
    image: nginx:latest
    ports:
      - "80:80"
`,
			wantErr:      false,
			wantServices: 1,
			validateResult: func(t *testing.T, r *domain.ComposeSpec) {
				web := r.Services["web"]
				if web == nil {
					t.Fatalf("expected service web")
				}
				if web.Image != "nginx:latest" {
					t.Errorf("expected image nginx:latest, got %s", web.Image)
				}
				if len(web.Ports) != 1 || web.Ports[0].Target != 80 {
					t.Errorf("expected one port mapping to target 80, got %+v", web.Ports)
				}
			},
		},
		{
			name:        "service with environment map",
			projectName: "test-env",
			composeContent: `
version: '3.8'
services:
  api:
    image: node:18-alpine
    environment:
      NODE_ENV: production
      DEBUG: "true"
`,
			wantErr:      false,
			wantServices: 1,
			validateResult: func(t *testing.T, r *domain.ComposeSpec) {
				api := r.Services["api"]
				if len(api.Environment) != 2 {
					t.Errorf("expected 2 environment variables, got %d", len(api.Environment))
				}
				if v := api.Environment["NODE_ENV"]; v == nil || *v != "production" {
					t.Errorf("expected NODE_ENV=production, got %v", v)
				}
			},
		},
		{
			name:        "service with volumes",
			projectName: "test-volumes",
			composeContent: `
version: '3.8'
services:
  db:
    image: postgres:13
    volumes:
      - db_data:/var/lib/postgresql/data
      - /etc/postgresql/conf.d:/etc/postgresql/conf.d:ro

volumes:
  db_data:
`,
			wantErr:      false,
			wantServices: 1,
			validateResult: func(t *testing.T, r *domain.ComposeSpec) {
				db := r.Services["db"]
				if len(db.Volumes) != 2 {
					t.Fatalf("expected 2 volumes, got %d", len(db.Volumes))
				}
				if db.Volumes[1].ReadOnly != true {
					t.Errorf("expected second mount read-only")
				}
				if _, ok := r.Volumes["db_data"]; !ok {
					t.Errorf("expected db_data volume definition")
				}
			},
		},
		{
			name:        "rejects relative bind mount",
			projectName: "test-bind",
			composeContent: `
version: '3.8'
services:
  db:
    image: postgres:13
    volumes:
      - ./relative:/data
`,
			wantErr: true,
		},
		{
			name:        "rejects missing image",
			projectName: "test-missing-image",
			composeContent: `
version: '3.8'
services:
  web:
    ports:
      - "80:80"
`,
			wantErr: true,
		},
		{
			name:        "rejects invalid yaml",
			projectName: "test-invalid-yaml",
			composeContent: `
services:
  web:
    image: nginx
    bad: [
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewParser(tt.projectName)

			spec, err := parser.Parse(context.Background(), tt.composeContent)

			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if apperr.KindOf(err) != apperr.InvalidCompose {
					t.Errorf("expected InvalidCompose kind, got %v", apperr.KindOf(err))
				}
				return
			}

			if len(spec.Services) != tt.wantServices {
				t.Errorf("expected %d services, got %d", tt.wantServices, len(spec.Services))
			}

			if tt.validateResult != nil {
				tt.validateResult(t, spec)
			}
		})
	}
}

func TestParser_GetServiceDependencies(t *testing.T) {
	parser := NewParser("test")
	spec, err := parser.Parse(context.Background(), `
version: '3.8'
services:
  redis:
    image: redis:7-alpine
  api:
    image: node:18-alpine
    depends_on:
      - redis
  web:
    image: nginx:latest
    depends_on:
      - api
`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	deps := parser.GetServiceDependencies(spec)

	if len(deps["api"]) != 1 || deps["api"][0] != "redis" {
		t.Errorf("expected api to depend on redis, got %v", deps["api"])
	}
	if len(deps["web"]) != 1 || deps["web"][0] != "api" {
		t.Errorf("expected web to depend on api, got %v", deps["web"])
	}
}
