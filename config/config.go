package config

import (
    "log"
    "os"
    "time"

    "gopkg.in/yaml.v2"
)

type Config struct {
    Server struct {
        Port string `yaml:"port"`
    } `yaml:"server"`
    MySQL struct {
        DSN string `yaml:"dsn"`
    } `yaml:"mysql"`

    Redis struct {
        Addr     string `yaml:"addr"`
        Password string `yaml:"password"`
    } `yaml:"redis"`

    MinIO struct {
        Endpoint  string `yaml:"endpoint"`
        AccessKey string `yaml:"access_key"`
        SecretKey string `yaml:"secret_key"`
        Bucket    string `yaml:"bucket"`
        UseSSL    bool   `yaml:"use_ssl"`
        Domain    string `yaml:"domain"`
    } `yaml:"minio"`

    // 各外部生成服务的接入配置
    Backends struct {
        // LLM: 剧本拆分 + 提示词生成（配额最严格，必须串行调用）
        LLM struct {
            Endpoint   string `yaml:"endpoint"`
            APIKey     string `yaml:"api_key"`
            Model      string `yaml:"model"`
            MinSpacing int    `yaml:"min_spacing_seconds"`
        } `yaml:"llm"`
        // Replicate 家族: 提交后返回 prediction id，各自独立轮询
        Replicate struct {
            Endpoint   string `yaml:"endpoint"`
            APIKey     string `yaml:"api_key"`
            MinSpacing int    `yaml:"min_spacing_seconds"`
        } `yaml:"replicate"`
        // Fal 家族: 单次调用内部等待直至终态
        Fal struct {
            Endpoint string `yaml:"endpoint"`
            APIKey   string `yaml:"api_key"`
        } `yaml:"fal"`
        TTS struct {
            Endpoint string `yaml:"endpoint"`
            APIKey   string `yaml:"api_key"`
        } `yaml:"tts"`
        // 图像/动画各自走哪个家族: "replicate" 或 "fal"
        ImageProvider     string `yaml:"image_provider"`
        AnimationProvider string `yaml:"animation_provider"`
    } `yaml:"backends"`

    Render struct {
        Addr string `yaml:"addr"` // 渲染引擎 worker 地址
    } `yaml:"render"`
}

var AppConfig *Config

const (
    // 轮询外部任务: 3 秒一次，最长 10 分钟，超时按失败处理
    PollInterval = 3 * time.Second
    PollTimeout  = 10 * time.Minute

    // 限流被拒后最多重试 3 次; 服务端未给 Retry-After 时默认等 15 秒
    RateLimitMaxRetries = 3
    DefaultRetryAfter   = 15 * time.Second
    DefaultMinSpacing   = 12 * time.Second
)

func InitConfig() {
    f, err := os.Open("config/config.yaml")
    if err != nil {
        log.Fatalf("配置文件读取失败: %v", err)
    }
    defer f.Close()
    decoder := yaml.NewDecoder(f)
    AppConfig = &Config{}
    if err := decoder.Decode(AppConfig); err != nil {
        log.Fatalf("配置文件解析失败: %v", err)
    }
}

// LLMSpacing 把配置秒数转成 Duration，未配置时取默认 12s
func LLMSpacing() time.Duration {
    if AppConfig != nil && AppConfig.Backends.LLM.MinSpacing > 0 {
        return time.Duration(AppConfig.Backends.LLM.MinSpacing) * time.Second
    }
    return DefaultMinSpacing
}

func ReplicateSpacing() time.Duration {
    if AppConfig != nil && AppConfig.Backends.Replicate.MinSpacing > 0 {
        return time.Duration(AppConfig.Backends.Replicate.MinSpacing) * time.Second
    }
    return DefaultMinSpacing
}
