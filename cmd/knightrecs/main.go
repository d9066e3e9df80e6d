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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/knightrecs/knightrecs/base/log"
	"github.com/knightrecs/knightrecs/cmd/version"
	"github.com/knightrecs/knightrecs/config"
	"github.com/knightrecs/knightrecs/dataset"
	"github.com/knightrecs/knightrecs/model"
	"github.com/knightrecs/knightrecs/server"
	"github.com/knightrecs/knightrecs/storage"
)

// builtinDataset is downloaded when no local dataset is configured.
const builtinDataset = "ml-latest-small"

var rootCommand = &cobra.Command{
	Use:   "knightrecs",
	Short: "A movie recommendation engine based on matrix factorization.",
	Run: func(cmd *cobra.Command, args []string) {
		// Show version
		if showVersion, _ := cmd.PersistentFlags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		_ = cmd.Usage()
	},
}

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Train the recommendation model and save it.",
	Run: func(cmd *cobra.Command, args []string) {
		conf := mustLoadConfig(cmd)
		full, err := loadRatings(conf)
		if err != nil {
			log.Logger().Fatal("failed to load ratings", zap.Error(err))
		}
		log.Logger().Info("ratings loaded",
			zap.Int("n_users", full.CountUsers()),
			zap.Int("n_movies", full.CountItems()),
			zap.Int("n_ratings", full.Count()))
		trainSet, testSet := dataset.SplitRatio(full, conf.Data.TestRatio, conf.Data.RandomState)
		m := model.NewSVD(conf.ModelParams())
		score, err := m.Fit(context.Background(), trainSet, testSet, conf.FitConfig())
		if err != nil {
			log.Logger().Fatal("failed to train model", zap.Error(err))
		}
		snapshot := storage.NewSnapshot(m, score, full.UserProfiles())
		if err = storage.NewModelStore(conf.Storage.Path).Save(snapshot); err != nil {
			log.Logger().Fatal("failed to save model", zap.Error(err))
		}
		log.Logger().Info("model saved",
			zap.String("snapshot_id", snapshot.Meta.SnapshotId),
			zap.String("path", conf.Storage.Path),
			zap.Float32("RMSE", score.RMSE),
			zap.Float32("MAE", score.MAE))
	},
}

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Start the RESTful recommendation server.",
	Run: func(cmd *cobra.Command, args []string) {
		conf := mustLoadConfig(cmd)
		movies, err := loadMovies(conf)
		if err != nil {
			log.Logger().Fatal("failed to load movies", zap.Error(err))
		}
		s := server.NewRestServer(conf, storage.NewModelStore(conf.Storage.Path), movies)
		s.Serve()
	},
}

var tuneCommand = &cobra.Command{
	Use:   "tune",
	Short: "Search hyper-parameters for the recommendation model.",
	Run: func(cmd *cobra.Command, args []string) {
		conf := mustLoadConfig(cmd)
		full, err := loadRatings(conf)
		if err != nil {
			log.Logger().Fatal("failed to load ratings", zap.Error(err))
		}
		trainSet, testSet := dataset.SplitRatio(full, conf.Data.TestRatio, conf.Data.RandomState)
		search := model.NewModelSearch(map[string]model.ModelCreator{
			"svd": func() model.MatrixFactorization {
				return model.NewSVD(conf.ModelParams())
			},
		}, trainSet, testSet, conf.FitConfig())
		study, err := goptuna.CreateStudy("knightrecs",
			goptuna.StudyOptionDirection(goptuna.StudyDirectionMinimize),
			goptuna.StudyOptionSampler(tpe.NewSampler()))
		if err != nil {
			log.Logger().Fatal("failed to create study", zap.Error(err))
		}
		if err = study.Optimize(search.Objective, conf.Tune.NTrials); err != nil {
			log.Logger().Fatal("failed to search hyper-parameters", zap.Error(err))
		}
		renderTrials(study)
		result := search.Result()
		log.Logger().Info("search complete",
			zap.String("model", result.Type),
			zap.Float32("RMSE", result.Score.RMSE),
			zap.Float32("MAE", result.Score.MAE),
			zap.String("params", result.Params.ToString()))
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().BoolP("version", "v", false, "knightrecs version")
	rootCommand.PersistentFlags().StringP("config", "c", "config.toml", "configuration file path")
	rootCommand.AddCommand(trainCommand, serveCommand, tuneCommand)
}

// mustLoadConfig sets up the logger and loads the configuration file shared by
// all subcommands.
func mustLoadConfig(cmd *cobra.Command) *config.Config {
	flagSet := cmd.Root().PersistentFlags()
	debug, _ := flagSet.GetBool("debug")
	log.SetLogger(flagSet, debug)
	configPath, _ := flagSet.GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	return conf
}

// loadRatings reads ratings from the configured CSV file, falling back to the
// built-in MovieLens dataset when no file is configured.
func loadRatings(conf *config.Config) (*dataset.Dataset, error) {
	if conf.Data.RatingsPath == "" {
		ratings, _, err := dataset.LoadDataFromBuiltIn(builtinDataset, conf.Data.MinRating, conf.Data.MaxRating)
		return ratings, err
	}
	return dataset.LoadRatings(conf.Data.RatingsPath, conf.Data.MinRating, conf.Data.MaxRating)
}

// loadMovies reads the movie catalog from the configured CSV file, falling
// back to the built-in MovieLens dataset when no file is configured.
func loadMovies(conf *config.Config) (map[int64]dataset.Movie, error) {
	if conf.Data.MoviesPath == "" {
		_, movies, err := dataset.LoadDataFromBuiltIn(builtinDataset, conf.Data.MinRating, conf.Data.MaxRating)
		return movies, err
	}
	return dataset.LoadMovies(conf.Data.MoviesPath)
}

func renderTrials(study *goptuna.Study) {
	trials, err := study.GetTrials()
	if err != nil {
		log.Logger().Error("failed to fetch trials", zap.Error(err))
		return
	}
	table := tablewriter.NewTable(os.Stdout)
	table.Header("#", "State", "RMSE", "Params")
	for _, trial := range trials {
		value := "-"
		if trial.State == goptuna.TrialStateComplete {
			value = fmt.Sprintf("%.5f", trial.Value)
		}
		_ = table.Append([]string{
			fmt.Sprintf("%d", trial.Number),
			fmt.Sprint(trial.State),
			value,
			fmt.Sprintf("%v", trial.Params),
		})
	}
	_ = table.Render()
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
