package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath 默认配置文件路径
const DefaultPath = "config/config.yaml"

// 远端后端
const (
	BackendDrive = "drive"
	BackendS3    = "s3"
	BackendBolt  = "bolt"
)

// Config 对应 config.yaml 的根结构
type Config struct {
	Sync   SyncConfig   `yaml:"sync"`
	Remote RemoteConfig `yaml:"remote"`
	Drive  DriveConfig  `yaml:"drive"`
	S3     S3Config     `yaml:"s3"`
	Bolt   BoltConfig   `yaml:"bolt"`
	Crypto CryptoConfig `yaml:"crypto"`
	System SystemConfig `yaml:"system"`
}

// SyncConfig 同步相关配置
type SyncConfig struct {
	LocalDir string `yaml:"local_dir"`
	// 在 remote.parent_id 下查找或创建的远端根目录
	RootFolder string `yaml:"root_folder"`
	// 设置后跳过查找, 直接使用该 id
	RootFolderID  string `yaml:"root_folder_id"`
	Interval      string `yaml:"interval"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Watch         bool   `yaml:"watch"`
	IgnoreFile    string `yaml:"ignore_file"`
	// 也就是解析后的 duration，不导出到 yaml
	IntervalDuration time.Duration `yaml:"-"`
}

type RemoteConfig struct {
	Backend  string `yaml:"backend"`
	ParentID string `yaml:"parent_id"`
}

// DriveConfig Google Drive API 配置
type DriveConfig struct {
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	AccessToken     string `yaml:"access_token"`
	RefreshToken    string `yaml:"refresh_token"`
	CredentialsFile string `yaml:"credentials_file"`
}

// S3Config S3 兼容存储配置. Empty keys fall back to the default AWS
// credential chain.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type BoltConfig struct {
	Path string `yaml:"path"`
}

// CryptoConfig 加密配置
type CryptoConfig struct {
	Enable           bool   `yaml:"enable"`
	Password         string `yaml:"password"`
	EncryptFilenames bool   `yaml:"encrypt_filenames"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	LockFile string `yaml:"lock_file"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// LoadConfig 读取并解析配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML 内容, 填充默认值并校验
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 格式错误: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Sync.Interval == "" {
		c.Sync.Interval = "60s"
	}
	if c.Sync.MaxConcurrent <= 0 {
		c.Sync.MaxConcurrent = 3
	}
	if c.Sync.IgnoreFile == "" {
		c.Sync.IgnoreFile = ".syncignore"
	}
	if c.Remote.Backend == "" {
		c.Remote.Backend = BackendDrive
	}
	if c.Remote.ParentID == "" {
		c.Remote.ParentID = "root"
	}
	if c.Bolt.Path == "" {
		c.Bolt.Path = "./data/remote.db"
	}
	if c.System.LockFile == "" {
		c.System.LockFile = "./data/drivesync.lock"
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "info"
	}
}

// Validate 校验配置, 并解析同步间隔
func (c *Config) Validate() error {
	if c.Sync.LocalDir == "" {
		return errors.New("缺少本地目录 (sync.local_dir)")
	}
	if c.Sync.RootFolder == "" && c.Sync.RootFolderID == "" {
		return errors.New("需要 sync.root_folder 或 sync.root_folder_id")
	}

	duration, err := time.ParseDuration(c.Sync.Interval)
	if err != nil {
		return fmt.Errorf("无效的同步间隔格式 (sync.interval): %w", err)
	}
	if duration <= 0 {
		return fmt.Errorf("同步间隔必须大于 0 (sync.interval): %s", c.Sync.Interval)
	}
	c.Sync.IntervalDuration = duration

	switch c.Remote.Backend {
	case BackendDrive:
		d := c.Drive
		if d.CredentialsFile == "" && d.AccessToken == "" && d.RefreshToken == "" {
			return errors.New("drive 需要 credentials_file, refresh_token 或 access_token")
		}
		if d.CredentialsFile == "" && d.RefreshToken != "" && (d.ClientID == "" || d.ClientSecret == "") {
			return errors.New("使用 refresh_token 时需要 drive.client_id 和 drive.client_secret")
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return errors.New("缺少 s3.bucket")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			return errors.New("s3.access_key 和 s3.secret_key 需要同时设置")
		}
	case BackendBolt:
	default:
		return fmt.Errorf("未知的远端后端: %s", c.Remote.Backend)
	}

	if c.Crypto.Enable && c.Crypto.Password == "" {
		return errors.New("启用加密时需要 crypto.password")
	}
	return nil
}
