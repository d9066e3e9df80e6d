// Copyright 2024 KnightRecs Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/spf13/viper"

	"github.com/knightrecs/knightrecs/model"
)

// Config is the configuration of the recommender.
type Config struct {
	Data      DataConfig      `mapstructure:"data"`
	Train     TrainConfig     `mapstructure:"train"`
	Tune      TuneConfig      `mapstructure:"tune"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// DataConfig describes the rating data and how it is split.
type DataConfig struct {
	// Path to the MovieLens ratings CSV. Empty means the built-in dataset.
	RatingsPath string `mapstructure:"ratings_path"`
	// Path to the MovieLens movies CSV. Empty means the built-in dataset.
	MoviesPath  string  `mapstructure:"movies_path"`
	MinRating   float32 `mapstructure:"min_rating" validate:"ltfield=MaxRating"`
	MaxRating   float32 `mapstructure:"max_rating"`
	TestRatio   float32 `mapstructure:"test_ratio" validate:"gt=0,lt=1"`
	RandomState int64   `mapstructure:"random_state"`
}

// TrainConfig carries the hyper-parameters of the model.
type TrainConfig struct {
	NFactors   int     `mapstructure:"n_factors" validate:"gt=0"`
	NEpochs    int     `mapstructure:"n_epochs" validate:"gt=0"`
	Lr         float64 `mapstructure:"lr" validate:"gt=0"`
	Reg        float64 `mapstructure:"reg" validate:"gte=0"`
	InitMean   float64 `mapstructure:"init_mean"`
	InitStdDev float64 `mapstructure:"init_std_dev" validate:"gt=0"`
	Verbose    int     `mapstructure:"verbose" validate:"gt=0"`
	Jobs       int     `mapstructure:"jobs" validate:"gt=0"`
}

type TuneConfig struct {
	NTrials int `mapstructure:"n_trials" validate:"gt=0"`
}

type RecommendConfig struct {
	DefaultN    int           `mapstructure:"default_n" validate:"gt=0"`
	MaxN        int           `mapstructure:"max_n" validate:"gt=0"`
	CacheExpire time.Duration `mapstructure:"cache_expire" validate:"gt=0"`
	CacheSize   int           `mapstructure:"cache_size" validate:"gt=0"`
}

type ServerConfig struct {
	HttpHost string `mapstructure:"http_host"`
	HttpPort int    `mapstructure:"http_port" validate:"gte=0,lte=65535"`
	APIKey   string `mapstructure:"api_key"`
}

type StorageConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// GetDefaultConfig returns the default configuration, which equals
// unmarshaling an empty configuration file.
func GetDefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			MinRating:   0.5,
			MaxRating:   5,
			TestRatio:   0.2,
			RandomState: 42,
		},
		Train: TrainConfig{
			NFactors:   50,
			NEpochs:    20,
			Lr:         0.005,
			Reg:        0.02,
			InitMean:   0,
			InitStdDev: 0.1,
			Verbose:    10,
			Jobs:       1,
		},
		Tune: TuneConfig{
			NTrials: 10,
		},
		Recommend: RecommendConfig{
			DefaultN:    5,
			MaxN:        100,
			CacheExpire: time.Minute,
			CacheSize:   10000,
		},
		Server: ServerConfig{
			HttpHost: "0.0.0.0",
			HttpPort: 5000,
		},
		Storage: StorageConfig{
			Path: "~/.knightrecs/model",
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [data]
	viper.SetDefault("data.ratings_path", defaultConfig.Data.RatingsPath)
	viper.SetDefault("data.movies_path", defaultConfig.Data.MoviesPath)
	viper.SetDefault("data.min_rating", defaultConfig.Data.MinRating)
	viper.SetDefault("data.max_rating", defaultConfig.Data.MaxRating)
	viper.SetDefault("data.test_ratio", defaultConfig.Data.TestRatio)
	viper.SetDefault("data.random_state", defaultConfig.Data.RandomState)
	// [train]
	viper.SetDefault("train.n_factors", defaultConfig.Train.NFactors)
	viper.SetDefault("train.n_epochs", defaultConfig.Train.NEpochs)
	viper.SetDefault("train.lr", defaultConfig.Train.Lr)
	viper.SetDefault("train.reg", defaultConfig.Train.Reg)
	viper.SetDefault("train.init_mean", defaultConfig.Train.InitMean)
	viper.SetDefault("train.init_std_dev", defaultConfig.Train.InitStdDev)
	viper.SetDefault("train.verbose", defaultConfig.Train.Verbose)
	viper.SetDefault("train.jobs", defaultConfig.Train.Jobs)
	// [tune]
	viper.SetDefault("tune.n_trials", defaultConfig.Tune.NTrials)
	// [recommend]
	viper.SetDefault("recommend.default_n", defaultConfig.Recommend.DefaultN)
	viper.SetDefault("recommend.max_n", defaultConfig.Recommend.MaxN)
	viper.SetDefault("recommend.cache_expire", defaultConfig.Recommend.CacheExpire)
	viper.SetDefault("recommend.cache_size", defaultConfig.Recommend.CacheSize)
	// [server]
	viper.SetDefault("server.http_host", defaultConfig.Server.HttpHost)
	viper.SetDefault("server.http_port", defaultConfig.Server.HttpPort)
	viper.SetDefault("server.api_key", defaultConfig.Server.APIKey)
	// [storage]
	viper.SetDefault("storage.path", defaultConfig.Storage.Path)
}

type configBinding struct {
	key string
	env string
}

// LoadConfig loads the configuration from a TOML file. Environment variables
// override the file.
func LoadConfig(path string) (*Config, error) {
	// set default config
	setDefault()
	// bind environment variables
	bindings := []configBinding{
		{"data.ratings_path", "KNIGHTRECS_RATINGS_PATH"},
		{"data.movies_path", "KNIGHTRECS_MOVIES_PATH"},
		{"server.http_host", "KNIGHTRECS_SERVER_HTTP_HOST"},
		{"server.http_port", "KNIGHTRECS_SERVER_HTTP_PORT"},
		{"server.api_key", "KNIGHTRECS_SERVER_API_KEY"},
		{"storage.path", "KNIGHTRECS_STORAGE_PATH"},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}
	// load config file
	viper.SetConfigType("toml")
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Trace(err)
	}
	// unmarshal config file
	var conf Config
	if err := viper.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	conf.Storage.Path = expandHome(conf.Storage.Path)
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks the configuration against the rules in the struct tags.
func (config *Config) Validate() error {
	if err := validator.New().Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	return nil
}

// ModelParams converts the training section to model hyper-parameters.
func (config *Config) ModelParams() model.Params {
	return model.Params{
		model.NFactors:    config.Train.NFactors,
		model.NEpochs:     config.Train.NEpochs,
		model.Lr:          config.Train.Lr,
		model.Reg:         config.Train.Reg,
		model.InitMean:    config.Train.InitMean,
		model.InitStdDev:  config.Train.InitStdDev,
		model.RandomState: config.Data.RandomState,
	}
}

// FitConfig converts the training section to a fit configuration.
func (config *Config) FitConfig() *model.FitConfig {
	return model.NewFitConfig().
		SetVerbose(config.Train.Verbose).
		SetJobs(config.Train.Jobs)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if usr, err := user.Current(); err == nil {
			return filepath.Join(usr.HomeDir, path[2:])
		}
	}
	return path
}
