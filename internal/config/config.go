package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Log          LogConfig          `mapstructure:"log"`
	DB           DBConfig           `mapstructure:"db"`
	Ingest       IngestConfig       `mapstructure:"ingest"`
	Segmentation SegmentationConfig `mapstructure:"segmentation"`
	Export       ExportConfig       `mapstructure:"export"`
	Schedule     ScheduleConfig     `mapstructure:"schedule"`
	Lock         LockConfig         `mapstructure:"lock"`
	Server       ServerConfig       `mapstructure:"server"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	// Driver is one of postgres, mysql, sqlite.
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type IngestConfig struct {
	DataDir        string   `mapstructure:"data_dir"`
	Pattern        string   `mapstructure:"pattern"`
	AnimalKey      string   `mapstructure:"animal_key"`
	Experimenters  []string `mapstructure:"experimenters"`
	Species        string   `mapstructure:"species"`
	AnimalSource   string   `mapstructure:"animal_source"`
	BrainSubregion string   `mapstructure:"brain_subregion"`
	CorticalLayer  string   `mapstructure:"cortical_layer"`
	PSTHSetting    uint     `mapstructure:"psth_setting"`
	BatchSize      int      `mapstructure:"batch_size"`
}

type SegmentationConfig struct {
	Settings []SegmentationSetting `mapstructure:"settings"`
}

type SegmentationSetting struct {
	ID      uint    `mapstructure:"id"`
	Event   string  `mapstructure:"event"`
	Pre     float64 `mapstructure:"pre"`
	Post    float64 `mapstructure:"post"`
	BinSize float64 `mapstructure:"bin_size"`
}

type ExportConfig struct {
	OutputDir           string   `mapstructure:"output_dir"`
	Overwrite           bool     `mapstructure:"overwrite"`
	Formats             []string `mapstructure:"formats"`
	Container           string   `mapstructure:"container"`
	Compression         string   `mapstructure:"compression"`
	CompressionLevel    int      `mapstructure:"compression_level"`
	Institution         string   `mapstructure:"institution"`
	RelatedPublications []string `mapstructure:"related_publications"`
	HardwareFilter      string   `mapstructure:"hardware_filter"`
	Timezone            string   `mapstructure:"timezone"`
}

type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Spec    string `mapstructure:"spec"`
}

type LockConfig struct {
	Backend       string        `mapstructure:"backend"`
	Key           string        `mapstructure:"key"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

type ServerConfig struct {
	HTTPAddr  string        `mapstructure:"http_addr"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ECONOMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 2)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.auto_migrate", true)

	v.SetDefault("ingest.data_dir", "data/7007846/Ephys/Code/ProcessedData")
	v.SetDefault("ingest.pattern", "*.mat")
	v.SetDefault("ingest.animal_key", "data/7007846/Ephys/Code/ProcessedData/Animal Key.xlsx")
	v.SetDefault("ingest.experimenters", []string{"Mike Economo"})
	v.SetDefault("ingest.species", "Mus musculus")
	v.SetDefault("ingest.animal_source", "N/A")
	v.SetDefault("ingest.brain_subregion", "N/A")
	v.SetDefault("ingest.cortical_layer", "5")
	v.SetDefault("ingest.psth_setting", 0)
	v.SetDefault("ingest.batch_size", 500)

	// Setting 0 is the cue-aligned window the imported PSTHs were computed on.
	v.SetDefault("segmentation.settings", []map[string]any{
		{"id": 0, "event": "cue_start", "pre": 1.5, "post": 3.0, "bin_size": 0},
		{"id": 1, "event": "pole_in", "pre": 0.5, "post": 2.0, "bin_size": 0.05},
	})

	v.SetDefault("export.output_dir", "data/NWB 2.0")
	v.SetDefault("export.overwrite", true)
	v.SetDefault("export.formats", []string{"nwb"})
	v.SetDefault("export.container", "directory")
	v.SetDefault("export.compression", "gzip")
	v.SetDefault("export.compression_level", 5)
	v.SetDefault("export.institution", "Janelia Research Campus")
	v.SetDefault("export.related_publications", []string{"https://doi.org/10.1038/s41586-018-0642-9"})
	v.SetDefault("export.hardware_filter", "Bandpass filtered 300-6K Hz")
	v.SetDefault("export.timezone", "UTC")

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.spec", "@every 1h")

	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.key", "economo:pipeline")
	v.SetDefault("lock.ttl", "2h")
	v.SetDefault("lock.redis_addr", "")
	v.SetDefault("lock.redis_db", 0)

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.token_ttl", "24h")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
