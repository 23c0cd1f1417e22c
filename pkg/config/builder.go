package config

import "time"

// BuilderConfig holds runtime configuration for the build workload. The
// deployment identifiers arrive through the environment because the dispatcher
// injects them when it launches the container.
type BuilderConfig struct {
	DeploymentID  string
	ProjectID     string
	RepoURL       string
	BuildCommand  string
	WorkspaceRoot string
	OutputDirs    string
	CloneTimeout  time.Duration
	BuildTimeout  time.Duration
	LogLevel      string
	Bus           BusConfig
	Artifact      ArtifactConfig
}

// LoadBuilderConfig constructs a BuilderConfig from environment variables.
func LoadBuilderConfig() BuilderConfig {
	return BuilderConfig{
		DeploymentID:  GetString("DEPLOYMENT_ID", ""),
		ProjectID:     GetString("PROJECT_ID", ""),
		RepoURL:       GetString("REPO_URL", ""),
		BuildCommand:  GetString("BUILD_COMMAND", "npm install && npm run build"),
		WorkspaceRoot: GetString("WORKSPACE_ROOT", "/workspace"),
		OutputDirs:    GetString("OUTPUT_DIRS", "dist,build,out,public"),
		CloneTimeout:  GetDuration("CLONE_TIMEOUT", 2*time.Minute),
		BuildTimeout:  GetDuration("BUILD_TIMEOUT", 15*time.Minute),
		LogLevel:      GetString("LOG_LEVEL", "info"),
		Bus:           LoadBusConfig(),
		Artifact:      LoadArtifactConfig(),
	}
}
