package detect

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"deployx/internal/logger"
	"deployx/internal/models"
)

// Detect inspects a project directory and reports its type, framework
// and build settings. Detection priority: node projects first, then
// python, then plain static sites. An unrecognizable directory comes
// back with type "unknown" and no error; the caller decides whether
// that is fatal.
func Detect(projectDir string) models.ProjectProfile {
	log := logger.WithModule("detect")

	if exists(projectDir, "package.json") {
		profile := detectNode(projectDir)
		log.WithField("type", profile.Type).Debug("detected node project")
		return profile
	}

	for _, marker := range []string{"requirements.txt", "setup.py", "pyproject.toml", "Pipfile"} {
		if exists(projectDir, marker) {
			profile := detectPython(projectDir)
			log.WithField("type", profile.Type).Debug("detected python project")
			return profile
		}
	}

	if exists(projectDir, "index.html") {
		return models.ProjectProfile{Type: "static", OutputDir: "."}
	}
	if exists(projectDir, filepath.Join("public", "index.html")) {
		return models.ProjectProfile{Type: "static", OutputDir: "public"}
	}

	return models.ProjectProfile{Type: "unknown", OutputDir: "."}
}

type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
}

func detectNode(dir string) models.ProjectProfile {
	profile := models.ProjectProfile{
		Type:           "nodejs",
		PackageManager: nodePackageManager(dir),
		OutputDir:      ".",
	}

	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return profile
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		// Malformed package.json still marks a node project.
		return profile
	}

	deps := map[string]bool{}
	for name := range pkg.Dependencies {
		deps[name] = true
	}
	for name := range pkg.DevDependencies {
		deps[name] = true
	}

	switch {
	case deps["vite"]:
		profile.Framework = "vite"
		profile.Type = "vite"
		profile.OutputDir = "dist"
		if deps["react"] {
			profile.Type = "react"
			profile.Framework = "react-vite"
		} else if deps["vue"] {
			profile.Type = "vue"
			profile.Framework = "vue-vite"
		}
	case deps["react"]:
		profile.Framework = "react"
		profile.Type = "react"
		profile.OutputDir = "build"
	case deps["next"]:
		profile.Framework = "nextjs"
		profile.Type = "nextjs"
		profile.OutputDir = "out"
	case deps["vue"]:
		profile.Framework = "vue"
		profile.Type = "vue"
		profile.OutputDir = "dist"
	case deps["@angular/core"]:
		profile.Framework = "angular"
		profile.Type = "angular"
		profile.OutputDir = "dist"
	case deps["express"]:
		profile.Framework = "express"
	}

	if _, ok := pkg.Scripts["build"]; ok {
		profile.BuildCommand = profile.PackageManager + " run build"
	}
	return profile
}

func detectPython(dir string) models.ProjectProfile {
	profile := models.ProjectProfile{
		Type:           "python",
		PackageManager: pythonPackageManager(dir),
		OutputDir:      ".",
	}

	requirements := readRequirements(dir)
	switch {
	case requirements["django"]:
		profile.Framework = "django"
		profile.Type = "django"
		profile.BuildCommand = "python manage.py collectstatic --noinput"
		profile.OutputDir = "staticfiles"
	case requirements["flask"]:
		profile.Framework = "flask"
		profile.Type = "flask"
	case requirements["fastapi"]:
		profile.Framework = "fastapi"
		profile.Type = "fastapi"
	}
	return profile
}

// readRequirements collects lowercase package names from
// requirements.txt, ignoring versions, comments and blank lines.
func readRequirements(dir string) map[string]bool {
	found := map[string]bool{}

	f, err := os.Open(filepath.Join(dir, "requirements.txt"))
	if err != nil {
		return found
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, sep := range []string{"==", ">=", "<=", "~=", ">", "<", "[", ";", " "} {
			if i := strings.Index(line, sep); i >= 0 {
				line = line[:i]
			}
		}
		if line != "" {
			found[strings.ToLower(line)] = true
		}
	}
	return found
}

func nodePackageManager(dir string) string {
	switch {
	case exists(dir, "yarn.lock"):
		return "yarn"
	case exists(dir, "pnpm-lock.yaml"):
		return "pnpm"
	case exists(dir, "bun.lockb"):
		return "bun"
	default:
		return "npm"
	}
}

func pythonPackageManager(dir string) string {
	switch {
	case exists(dir, "uv.lock"):
		return "uv"
	case exists(dir, "Pipfile"):
		return "pipenv"
	case exists(dir, "poetry.lock"):
		return "poetry"
	default:
		return "pip"
	}
}

func exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
