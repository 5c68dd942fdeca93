package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"deployx/internal/errdefs"
)

// ConfigFilename is the project configuration document at the project root.
const ConfigFilename = "deployx.yml"

// SupportedPlatforms is the closed set of deploy targets.
var SupportedPlatforms = []string{"github-pages", "vercel", "netlify", "railway", "render"}

// SupportedProjectTypes accepted in project.type.
var SupportedProjectTypes = []string{
	"react", "vue", "static", "nextjs", "python",
	"django", "flask", "fastapi", "nodejs", "angular", "vite",
}

// Settings are process-level knobs read from the environment once at startup.
type Settings struct {
	NetworkTimeout    time.Duration
	MaxDeployAttempts int
	RetryBackoffBase  time.Duration
	TelemetryEnabled  bool
	NewRelicLicense   string
	NewRelicAppName   string
}

func LoadSettings() *Settings {
	telemetryStr := getEnv("DEPLOYX_TELEMETRY", "false")
	telemetry, err := strconv.ParseBool(telemetryStr)
	if err != nil {
		telemetry = false
	}

	attempts, err := strconv.Atoi(getEnv("DEPLOYX_MAX_ATTEMPTS", "3"))
	if err != nil || attempts < 1 {
		attempts = 3
	}

	return &Settings{
		NetworkTimeout:    30 * time.Second,
		MaxDeployAttempts: attempts,
		RetryBackoffBase:  time.Second,
		TelemetryEnabled:  telemetry,
		NewRelicLicense:   getEnv("NEW_RELIC_LICENSE_KEY", ""),
		NewRelicAppName:   getEnv("NEW_RELIC_APP_NAME", "deployx"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ProjectSection identifies the project being deployed.
type ProjectSection struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// BuildSection declares how the artifact is produced.
type BuildSection struct {
	Command string `yaml:"command,omitempty"`
	Output  string `yaml:"output"`
}

// Document is the parsed deployx.yml. Platform-specific sub-sections
// (repository name, branch, service id) sit under a key named after
// the platform.
type Document struct {
	Project   ProjectSection               `yaml:"project"`
	Build     BuildSection                 `yaml:"build"`
	Platform  string                       `yaml:"platform"`
	Platforms map[string]map[string]string `yaml:",inline"`
}

// PlatformConfig returns the sub-section for the given platform,
// never nil.
func (d *Document) PlatformConfig(platform string) map[string]string {
	if cfg, ok := d.Platforms[platform]; ok {
		return cfg
	}
	return map[string]string{}
}

func Path(projectDir string) string {
	return filepath.Join(projectDir, ConfigFilename)
}

func Exists(projectDir string) bool {
	_, err := os.Stat(Path(projectDir))
	return err == nil
}

func Load(projectDir string) (*Document, error) {
	data, err := os.ReadFile(Path(projectDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Configuration(
				fmt.Sprintf("no %s found in %s (run 'deployx init' first)", ConfigFilename, projectDir), err)
		}
		return nil, errdefs.Configuration("read "+ConfigFilename, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errdefs.Configuration("malformed "+ConfigFilename, err)
	}
	return &doc, nil
}

func Save(projectDir string, doc *Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errdefs.Configuration("encode "+ConfigFilename, err)
	}
	if err := os.WriteFile(Path(projectDir), data, 0644); err != nil {
		return errdefs.Configuration("write "+ConfigFilename, err)
	}
	return nil
}

// Validate checks the document is complete enough to build a
// DeploymentRequest from.
func Validate(doc *Document) error {
	if doc.Project.Name == "" {
		return errdefs.Configuration("project.name is required", nil)
	}
	if doc.Platform == "" {
		return errdefs.Configuration("platform is required", nil)
	}
	if !contains(SupportedPlatforms, doc.Platform) {
		return errdefs.Configuration(
			fmt.Sprintf("unsupported platform %q (supported: %v)", doc.Platform, SupportedPlatforms), nil)
	}
	if doc.Project.Type != "" && !contains(SupportedProjectTypes, doc.Project.Type) {
		return errdefs.Configuration(
			fmt.Sprintf("unsupported project type %q", doc.Project.Type), nil)
	}
	if doc.Build.Output == "" {
		return errdefs.Configuration("build.output is required", nil)
	}
	return nil
}

// Default builds the starter document written by 'deployx init'.
func Default(projectName, projectType, platform string) *Document {
	build := BuildSection{Output: "."}
	switch projectType {
	case "react":
		build = BuildSection{Command: "npm run build", Output: "build"}
	case "vue", "vite", "angular":
		build = BuildSection{Command: "npm run build", Output: "dist"}
	case "nextjs":
		build = BuildSection{Command: "npm run build", Output: "out"}
	}
	return &Document{
		Project:   ProjectSection{Name: projectName, Type: projectType},
		Build:     build,
		Platform:  platform,
		Platforms: map[string]map[string]string{platform: {}},
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
