package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"gopkg.in/yaml.v3"
)

const (
	MatchAny    = "any"
	MatchSerial = "serial"
)

// Config is a flashing profile.
type Config struct {
	BaseDir string `yaml:"base_dir"`

	// Device is the boot ROM serial device node, e.g. /dev/ttyACM0.
	Device string `yaml:"device"`

	Bringup                        Bringup       `yaml:"bringup"`
	TargetMatch                    TargetMatch   `yaml:"target_match"`
	PreserveSecondaryBootPartition bool          `yaml:"preserve_secondary_boot_partition"`
	Partitions                     Partitions    `yaml:"partitions"`
	Serial                         Serial        `yaml:"serial"`
	CommitEstimate                 time.Duration `yaml:"commit_estimate"`
	AgePublicKey                   string        `yaml:"age_public_key,omitempty"`
	S3                             S3Config      `yaml:"s3"`
	Images                         Images        `yaml:"images"`
}

type Bringup struct {
	Enabled      bool   `yaml:"enabled"`
	Chip         string `yaml:"chip"`
	ResetLine    int    `yaml:"reset_line"`
	DownloadLine int    `yaml:"download_line"`
	PowerLine    int    `yaml:"power_line"`
}

type TargetMatch struct {
	Mode   string `yaml:"mode"`
	Serial string `yaml:"serial,omitempty"`
}

type Partitions struct {
	FIP           string `yaml:"fip"`
	SecondaryBoot string `yaml:"secondary_boot"`
	System        string `yaml:"system"`
}

type Serial struct {
	Baud      int    `yaml:"baud"`
	DAAddress uint32 `yaml:"da_address"`
}

type Images struct {
	DA        string `yaml:"da"`
	FIP       string `yaml:"fip,omitempty"`
	Img       string `yaml:"img,omitempty"`
	FIPBlake3 string `yaml:"fip_blake3,omitempty"`
	ImgBlake3 string `yaml:"img_blake3,omitempty"`
}

type S3Config struct {
	Enabled      bool               `yaml:"enabled"`
	Bucket       string             `yaml:"bucket"`
	Prefix       string             `yaml:"prefix"`
	Region       string             `yaml:"region"`
	Endpoint     string             `yaml:"endpoint"`
	StorageClass types.StorageClass `yaml:"storage_class,omitempty"`
	Retry        struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"retry,omitempty"`
}

// Default returns the profile used when no file is given.
func Default() *Config {
	cfg := &Config{BaseDir: "/var/lib/mtkflash"}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.TargetMatch.Mode == "" {
		c.TargetMatch.Mode = MatchAny
	}
	if c.Partitions.FIP == "" {
		c.Partitions.FIP = "mmc0boot0"
	}
	if c.Partitions.SecondaryBoot == "" {
		c.Partitions.SecondaryBoot = "mmc0boot1"
	}
	if c.Partitions.System == "" {
		c.Partitions.System = "mmc0"
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = 115200
	}
	if c.Serial.DAAddress == 0 {
		c.Serial.DAAddress = 0x201000
	}
	if c.CommitEstimate == 0 {
		c.CommitEstimate = 12 * time.Second
	}
	if c.S3.StorageClass == "" {
		c.S3.StorageClass = types.StorageClassStandard
	}
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads filename, or returns Default when filename is empty.
func LoadOrDefault(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}
	return Load(filename)
}

func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir is required")
	}
	if c.Bringup.Enabled {
		if c.Bringup.Chip == "" {
			return fmt.Errorf("bringup.chip is required when bringup is enabled")
		}
		lines := []struct {
			name string
			line int
		}{
			{"reset_line", c.Bringup.ResetLine},
			{"download_line", c.Bringup.DownloadLine},
			{"power_line", c.Bringup.PowerLine},
		}
		seen := map[int]string{}
		for _, l := range lines {
			if l.line < 0 {
				return fmt.Errorf("bringup.%s must not be negative", l.name)
			}
			if other, ok := seen[l.line]; ok {
				return fmt.Errorf("bringup.%s and bringup.%s use the same line %d", other, l.name, l.line)
			}
			seen[l.line] = l.name
		}
	}
	switch c.TargetMatch.Mode {
	case MatchAny:
	case MatchSerial:
		if c.TargetMatch.Serial == "" {
			return fmt.Errorf("target_match.serial is required when mode is serial")
		}
	default:
		return fmt.Errorf("target_match.mode must be %q or %q, got %q", MatchAny, MatchSerial, c.TargetMatch.Mode)
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive")
	}
	if c.CommitEstimate < 0 {
		return fmt.Errorf("commit_estimate must not be negative")
	}
	if c.AgePublicKey != "" && !strings.HasPrefix(c.AgePublicKey, "age1") {
		return fmt.Errorf("age_public_key must start with 'age1'")
	}
	if err := validateDigest("images.fip_blake3", c.Images.FIPBlake3); err != nil {
		return err
	}
	if err := validateDigest("images.img_blake3", c.Images.ImgBlake3); err != nil {
		return err
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when s3 is enabled")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("s3.region is required when s3 is enabled")
		}
	}
	return nil
}

func validateDigest(field, digest string) error {
	if digest == "" {
		return nil
	}
	b, err := hex.DecodeString(digest)
	if err != nil || len(b) != 32 {
		return errors.New(field + " must be a 64 character hex BLAKE3 digest")
	}
	return nil
}

func (c *Config) S3RetryAttempts() int {
	if c.S3.Retry.MaxAttempts > 0 {
		return c.S3.Retry.MaxAttempts
	}
	return 3
}
