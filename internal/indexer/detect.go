package indexer

import (
	"path"
	"sort"
	"strings"
)

// sourceExtensions lists the file types worth chunking and embedding.
// Everything else in the tree is skipped, which keeps the index focused on
// code the retriever can usefully quote.
var sourceExtensions = map[string]bool{
	".go":    true,
	".js":    true,
	".jsx":   true,
	".ts":    true,
	".tsx":   true,
	".py":    true,
	".java":  true,
	".rb":    true,
	".rs":    true,
	".kt":    true,
	".swift": true,
	".cs":    true,
	".php":   true,
	".c":     true,
	".h":     true,
	".cpp":   true,
	".hpp":   true,
	".sql":   true,
	".proto": true,
	".md":    true,
	".yaml":  true,
	".yml":   true,
}

// skippedDirs are path segments that never contribute useful chunks
var skippedDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".git":         true,
	"__pycache__":  true,
}

func isSourcePath(filePath string) bool {
	for _, segment := range strings.Split(filePath, "/") {
		if skippedDirs[segment] {
			return false
		}
	}
	return sourceExtensions[strings.ToLower(path.Ext(filePath))]
}

// frameworkMarkers maps well-known manifest or config files to the
// framework they indicate
var frameworkMarkers = map[string]string{
	"package.json":       "node",
	"go.mod":             "go-modules",
	"requirements.txt":   "python",
	"pyproject.toml":     "python",
	"pom.xml":            "maven",
	"build.gradle":       "gradle",
	"Gemfile":            "rails",
	"Cargo.toml":         "cargo",
	"next.config.js":     "nextjs",
	"nuxt.config.js":     "nuxt",
	"angular.json":       "angular",
	"vite.config.ts":     "vite",
	"docker-compose.yml": "docker-compose",
	"Dockerfile":         "docker",
	"serverless.yml":     "serverless",
	"manage.py":          "django",
}

// DetectFrameworks inspects root-level file names for framework manifests
func DetectFrameworks(leaves map[string]string) []string {
	seen := make(map[string]bool)
	for filePath := range leaves {
		base := path.Base(filePath)
		if framework, ok := frameworkMarkers[base]; ok && !seen[framework] {
			seen[framework] = true
		}
	}
	frameworks := make([]string, 0, len(seen))
	for framework := range seen {
		frameworks = append(frameworks, framework)
	}
	sort.Strings(frameworks)
	return frameworks
}

// architectureMarkers maps directory naming conventions to coarse
// architecture patterns surfaced in the project summary
var architectureMarkers = map[string]string{
	"controllers":  "mvc",
	"models":       "mvc",
	"views":        "mvc",
	"handlers":     "handler-based",
	"services":     "service-layer",
	"repositories": "repository-pattern",
	"migrations":   "managed-schema",
	"cmd":          "multi-binary",
	"internal":     "go-internal-layout",
	"microservice": "microservices",
	"graphql":      "graphql-api",
	"grpc":         "grpc-api",
}

// DetectArchitecturePatterns inspects directory segments across the tree
func DetectArchitecturePatterns(leaves map[string]string) []string {
	seen := make(map[string]bool)
	for filePath := range leaves {
		for _, segment := range strings.Split(path.Dir(filePath), "/") {
			if pattern, ok := architectureMarkers[strings.ToLower(segment)]; ok {
				seen[pattern] = true
			}
		}
	}
	patterns := make([]string, 0, len(seen))
	for pattern := range seen {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)
	return patterns
}
