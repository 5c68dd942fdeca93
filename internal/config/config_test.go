package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadSettings(t *testing.T) {
	envVars := []string{"DEPLOYX_TELEMETRY", "DEPLOYX_MAX_ATTEMPTS", "NEW_RELIC_LICENSE_KEY", "NEW_RELIC_APP_NAME"}
	original := map[string]string{}
	for _, key := range envVars {
		original[key] = os.Getenv(key)
	}
	cleanup := func() {
		for key, value := range original {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}
	defer cleanup()

	t.Run("default values", func(t *testing.T) {
		for _, key := range envVars {
			os.Unsetenv(key)
		}

		settings := LoadSettings()

		if settings.NetworkTimeout != 30*time.Second {
			t.Errorf("NetworkTimeout = %v, want %v", settings.NetworkTimeout, 30*time.Second)
		}
		if settings.MaxDeployAttempts != 3 {
			t.Errorf("MaxDeployAttempts = %v, want 3", settings.MaxDeployAttempts)
		}
		if settings.TelemetryEnabled {
			t.Error("TelemetryEnabled = true, want false")
		}
		if settings.NewRelicAppName != "deployx" {
			t.Errorf("NewRelicAppName = %v, want deployx", settings.NewRelicAppName)
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		os.Setenv("DEPLOYX_TELEMETRY", "true")
		os.Setenv("DEPLOYX_MAX_ATTEMPTS", "5")
		os.Setenv("NEW_RELIC_APP_NAME", "deployx-staging")

		settings := LoadSettings()

		if !settings.TelemetryEnabled {
			t.Error("TelemetryEnabled = false, want true")
		}
		if settings.MaxDeployAttempts != 5 {
			t.Errorf("MaxDeployAttempts = %v, want 5", settings.MaxDeployAttempts)
		}
		if settings.NewRelicAppName != "deployx-staging" {
			t.Errorf("NewRelicAppName = %v, want deployx-staging", settings.NewRelicAppName)
		}
	})

	t.Run("invalid values fall back to defaults", func(t *testing.T) {
		os.Setenv("DEPLOYX_TELEMETRY", "not-a-bool")
		os.Setenv("DEPLOYX_MAX_ATTEMPTS", "0")

		settings := LoadSettings()

		if settings.TelemetryEnabled {
			t.Error("TelemetryEnabled = true, want false on parse failure")
		}
		if settings.MaxDeployAttempts != 3 {
			t.Errorf("MaxDeployAttempts = %v, want 3 on invalid value", settings.MaxDeployAttempts)
		}
	})
}

func TestDocumentRoundtrip(t *testing.T) {
	dir := t.TempDir()

	doc := Default("my-site", "react", "vercel")
	doc.Platforms["vercel"] = map[string]string{"project": "my-site-prod"}

	if err := Save(dir, doc); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !Exists(dir) {
		t.Fatal("Exists() = false after Save")
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Project.Name != "my-site" {
		t.Errorf("Project.Name = %v, want my-site", loaded.Project.Name)
	}
	if loaded.Platform != "vercel" {
		t.Errorf("Platform = %v, want vercel", loaded.Platform)
	}
	if loaded.Build.Command != "npm run build" {
		t.Errorf("Build.Command = %v, want npm run build", loaded.Build.Command)
	}
	if loaded.Build.Output != "build" {
		t.Errorf("Build.Output = %v, want build", loaded.Build.Output)
	}
	if got := loaded.PlatformConfig("vercel")["project"]; got != "my-site-prod" {
		t.Errorf("PlatformConfig(vercel)[project] = %v, want my-site-prod", got)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil {
		t.Fatal("Load() on empty dir did not fail")
	}
}

func TestPlatformConfigAbsent(t *testing.T) {
	doc := &Document{}
	cfg := doc.PlatformConfig("netlify")
	if cfg == nil {
		t.Fatal("PlatformConfig() returned nil for absent platform")
	}
	if len(cfg) != 0 {
		t.Errorf("PlatformConfig() = %v, want empty map", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     *Document
		wantErr bool
	}{
		{
			name:    "valid document",
			doc:     Default("site", "static", "netlify"),
			wantErr: false,
		},
		{
			name:    "missing project name",
			doc:     &Document{Platform: "vercel", Build: BuildSection{Output: "dist"}},
			wantErr: true,
		},
		{
			name: "missing platform",
			doc: &Document{
				Project: ProjectSection{Name: "site"},
				Build:   BuildSection{Output: "dist"},
			},
			wantErr: true,
		},
		{
			name: "unsupported platform",
			doc: &Document{
				Project:  ProjectSection{Name: "site"},
				Platform: "heroku",
				Build:    BuildSection{Output: "dist"},
			},
			wantErr: true,
		},
		{
			name: "unsupported project type",
			doc: &Document{
				Project:  ProjectSection{Name: "site", Type: "cobol"},
				Platform: "vercel",
				Build:    BuildSection{Output: "dist"},
			},
			wantErr: true,
		},
		{
			name: "missing build output",
			doc: &Document{
				Project:  ProjectSection{Name: "site"},
				Platform: "vercel",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.doc)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
