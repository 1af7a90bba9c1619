package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the structure of the config.yaml file.
// Per-location settings and tuning that are awkward to express as env vars.
type YAMLConfig struct {
	Locations  []LocationConfig `yaml:"locations"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Topics     TopicsConfig     `yaml:"topics"`
}

// LocationConfig names a location and whether the scheduler skips it.
type LocationConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name,omitempty"`
	Exclude bool   `yaml:"exclude,omitempty"` // Skip in backlog runs
}

type NormalizerConfig struct {
	CandidateLimit  int           `yaml:"candidate_limit"`
	ClassifyTimeout time.Duration `yaml:"classify_timeout"`
}

type SchedulerConfig struct {
	PageSize            int           `yaml:"page_size"`
	MaxPagesPerLocation int           `yaml:"max_pages_per_location"`
	Workers             int           `yaml:"workers"`
	Budget              time.Duration `yaml:"budget"`
}

type TopicsConfig struct {
	WindowDays    int `yaml:"window_days"`
	SampleSize    int `yaml:"sample_size"`
	MinTopicSize  int `yaml:"min_topic_size"`
	EnrichWorkers int `yaml:"enrich_workers"`
}

// LoadYAMLConfig loads the YAML configuration file at path.
// Returns nil without error if the config file doesn't exist.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file is optional
			return nil, nil
		}
		return nil, err
	}
	return ParseYAMLConfig(data)
}

// ParseYAMLConfig decodes a config document.
func ParseYAMLConfig(data []byte) (*YAMLConfig, error) {
	var cfg YAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ExcludedLocationIDs returns the ids of locations marked exclude.
func (c *YAMLConfig) ExcludedLocationIDs() []string {
	if c == nil {
		return nil
	}
	var ids []string
	for _, l := range c.Locations {
		if l.Exclude && l.ID != "" {
			ids = append(ids, l.ID)
		}
	}
	return ids
}
