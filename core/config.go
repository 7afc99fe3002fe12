package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/lisuiheng/naudio-go/audio"
	"github.com/spf13/viper"
)

const DefaultChannelName = "com.example.audio/recorder"

// Config 是服务配置结构（与YAML文件的结构一致）
type Config struct {
	System struct {
		Channel string `mapstructure:"channel" validate:"required"`

		Network struct {
			Transport   string `mapstructure:"transport"`
			Listen      string `mapstructure:"listen"`
			URL         string `mapstructure:"url"`
			AccessToken string `mapstructure:"access_token"`
		} `mapstructure:"network"`
	} `mapstructure:"system"`

	Storage struct {
		Dir             string `mapstructure:"dir"`
		RestrictDeletes bool   `mapstructure:"restrict_deletes"`
	} `mapstructure:"storage"`

	Audio struct {
		Backend       string `mapstructure:"backend" validate:"oneof=host fake"`
		SampleRate    int    `mapstructure:"sample_rate" validate:"gt=0"`
		Channels      int    `mapstructure:"channels" validate:"oneof=1 2"`
		FrameDuration int    `mapstructure:"frame_duration" validate:"gt=0"`
		ExclusiveMode bool   `mapstructure:"exclusive_mode"`
		QueueFrames   int    `mapstructure:"queue_frames" validate:"gte=0"`
	} `mapstructure:"audio"`

	Formats struct {
		Strict    bool `mapstructure:"strict"`
		NativeWAV bool `mapstructure:"native_wav"`
		Extended  bool `mapstructure:"extended"`
	} `mapstructure:"formats"`

	Media struct {
		FFmpegPath  string `mapstructure:"ffmpeg_path"`
		AACBitrate  int    `mapstructure:"aac_bitrate"`
		AMRBitrate  int    `mapstructure:"amr_bitrate"`
		OpusBitrate int    `mapstructure:"opus_bitrate"`
	} `mapstructure:"media"`

	Logging struct {
		Level      string   `mapstructure:"level"`
		Format     string   `mapstructure:"format" validate:"omitempty,oneof=text json"`
		Outputs    []string `mapstructure:"outputs"`
		MaxSizeMB  int      `mapstructure:"max_size_mb"`
		MaxBackups int      `mapstructure:"max_backups"`
		MaxAgeDays int      `mapstructure:"max_age_days"`
	} `mapstructure:"logging"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("system.channel", DefaultChannelName)
	v.SetDefault("system.network.transport", "websocket")
	v.SetDefault("system.network.listen", "127.0.0.1:8765")
	v.SetDefault("system.network.url", "ws://127.0.0.1:8765")
	v.SetDefault("system.network.access_token", "")

	v.SetDefault("storage.dir", "")
	v.SetDefault("storage.restrict_deletes", true)

	v.SetDefault("audio.backend", "host")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.frame_duration", 20)
	v.SetDefault("audio.exclusive_mode", false)
	v.SetDefault("audio.queue_frames", 100)

	v.SetDefault("formats.strict", false)
	v.SetDefault("formats.native_wav", false)
	v.SetDefault("formats.extended", false)

	v.SetDefault("media.ffmpeg_path", "ffmpeg")
	v.SetDefault("media.aac_bitrate", 64000)
	v.SetDefault("media.amr_bitrate", 12200)
	v.SetDefault("media.opus_bitrate", 32000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputs", []string{"stdout"})
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("metrics.enabled", true)
}

// DefaultConfig 返回只包含默认值的配置
func DefaultConfig() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// 默认值都是基本类型，不会解码失败
	_ = v.Unmarshal(&cfg)
	return cfg
}

// LoadConfig 加载配置文件；configPath 为空时按默认路径搜索，找不到文件则使用默认值
func LoadConfig(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath != "" {
		// 使用命令行指定的路径
		v.SetConfigFile(configPath)
	} else {
		// 默认多路径搜索
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/naudio")
	}

	v.SetEnvPrefix("NAUDIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = newValidator()

// newValidator 错误信息里的字段名使用配置文件中的键名
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate 检查配置的取值范围
func (c Config) Validate() error {
	err := validate.Struct(&c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		key := fe.Namespace()
		if _, rest, ok := strings.Cut(key, "."); ok {
			key = rest
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s, got %v", key, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s, got %v", key, fe.Tag(), fe.Value()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// StreamConfig 返回采集流参数
func (c Config) StreamConfig() audio.StreamConfig {
	return audio.StreamConfig{
		SampleRate:    c.Audio.SampleRate,
		Channels:      c.Audio.Channels,
		FrameDuration: c.Audio.FrameDuration,
	}
}

// FormatOptions 返回格式表选项
func (c Config) FormatOptions() audio.FormatOptions {
	return audio.FormatOptions{
		Strict:    c.Formats.Strict,
		NativeWAV: c.Formats.NativeWAV,
		Extended:  c.Formats.Extended,
	}
}

// ResolveStorageDir 返回录音文件目录：配置值优先，其次 $XDG_DATA_HOME，最后 ~/.local/share
func ResolveStorageDir(configured string) (string, error) {
	if configured != "" {
		return filepath.Abs(configured)
	}
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve storage dir: %w", err)
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "naudio", "files"), nil
}
