package ml

import (
	"fmt"
	"os"
	"time"
)

// Backend names accepted in Config.Type
const (
	BackendGemini = "gemini" // Gemini REST API with an API key
	BackendGoogle = "google" // Vertex AI with project credentials
	BackendLocal  = "local"  // replays a canned response, no network
)

// Config selects and configures the inference backend
type Config struct {
	Type string `koanf:"type"`

	// gemini
	APIKey     string `koanf:"api_key"`
	Endpoint   string `koanf:"endpoint"`
	Model      string `koanf:"model"`
	ImageModel string `koanf:"image_model"`
	// Zero means no client-side timeout.
	Timeout time.Duration `koanf:"timeout"`

	// google
	ProjectID       string `koanf:"project_id"`
	Location        string `koanf:"location"`
	CredentialsFile string `koanf:"credentials_file"`

	// local
	ResponseFile string `koanf:"response_file"`
}

// DefaultConfig returns the Gemini REST configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		Type:       BackendGemini,
		Endpoint:   "https://generativelanguage.googleapis.com/v1beta",
		Model:      "gemini-2.5-flash-preview-05-20",
		ImageModel: "gemini-2.5-flash-image-preview",
		Location:   "us-central1",
	}
}

// ApplyEnv fills empty credentials from the conventional environment variables
func (c *Config) ApplyEnv() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.ProjectID == "" {
		c.ProjectID = os.Getenv("GOOGLE_PROJECT_ID")
	}
	if c.Location == "" {
		c.Location = os.Getenv("GOOGLE_LOCATION")
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = os.Getenv("GOOGLE_CREDENTIALS_FILE")
	}
}

// Validate checks that the selected backend has what it needs
func (c *Config) Validate() error {
	switch c.Type {
	case BackendGemini:
		if c.APIKey == "" {
			return fmt.Errorf("ml.api_key (or GEMINI_API_KEY) is required for the %s backend", c.Type)
		}
		if c.Model == "" {
			return fmt.Errorf("ml.model is required for the %s backend", c.Type)
		}
	case BackendGoogle:
		if c.ProjectID == "" || c.Location == "" {
			return fmt.Errorf("ml.project_id and ml.location are required for the %s backend", c.Type)
		}
	case BackendLocal:
	default:
		return fmt.Errorf("unsupported model type: %s", c.Type)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("ml.timeout must not be negative")
	}
	return nil
}
