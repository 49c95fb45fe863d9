package config

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected *Config
	}{
		{
			name: "default config",
			envVars: map[string]string{
				"PROJECT_ID": "test-project",
			},
			expected: &Config{
				ProjectID:  "test-project",
				LogLevel:   "info",
				ServerPort: "8080",
			},
		},
		{
			name: "custom config",
			envVars: map[string]string{
				"PROJECT_ID":  "custom-project",
				"LOG_LEVEL":   "debug",
				"SERVER_PORT": "9000",
			},
			expected: &Config{
				ProjectID:  "custom-project",
				LogLevel:   "debug",
				ServerPort: "9000",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment variables
			for key := range tt.envVars {
				os.Unsetenv(key)
			}

			// Set test environment variables
			for key, value := range tt.envVars {
				os.Setenv(key, value)
			}

			config := NewConfig()
			assert.Equal(t, tt.expected.ProjectID, config.ProjectID)
			assert.Equal(t, tt.expected.LogLevel, config.LogLevel)
			assert.Equal(t, tt.expected.ServerPort, config.ServerPort)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	os.Setenv("PROJECT_ID", "test-project")
	defer os.Unsetenv("PROJECT_ID")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing project id",
			mutate:  func(c *Config) { c.ProjectID = "" },
			wantErr: true,
		},
		{
			name:    "invalid aggregator url",
			mutate:  func(c *Config) { c.Aggregator.BaseURL = "not a url" },
			wantErr: true,
		},
		{
			name:    "decode batch size out of range",
			mutate:  func(c *Config) { c.Pipeline.DecodeBatchSize = 1000 },
			wantErr: true,
		},
		{
			name:    "gap larger than interval",
			mutate:  func(c *Config) { c.Scheduler.MinGap = 2 * c.Scheduler.Interval },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewAppConfig(t *testing.T) {
	// Set test environment variables
	os.Setenv("PROJECT_ID", "test-project")
	defer os.Unsetenv("PROJECT_ID")

	// This test requires a real datastore client, so we'll skip it in CI
	if os.Getenv("CI") != "" {
		t.Skip("Skipping integration test in CI")
		return
	}

	// Note: This test would require actual GCP credentials
	// In a real scenario, you'd mock the datastore client
	t.Skip("Requires GCP credentials - implement with mocks for full unit testing")
}

func TestGetEnv(t *testing.T) {
	// Test with existing env var
	os.Setenv("TEST_VAR", "test_value")
	defer os.Unsetenv("TEST_VAR")

	result := getEnv("TEST_VAR", "default")
	assert.Equal(t, "test_value", result)

	// Test with non-existing env var
	result = getEnv("NON_EXISTING_VAR", "default")
	assert.Equal(t, "default", result)
}

func TestServicesClose(t *testing.T) {
	logger := logrus.New()

	// Create a mock datastore client (this would need to be mocked properly)
	services := &Services{
		Logger: logger,
		// Note: In real tests, you'd mock these dependencies
	}

	// Test that Close doesn't panic
	assert.NotPanics(t, func() {
		services.Close()
	}, "Close should not panic")
}
