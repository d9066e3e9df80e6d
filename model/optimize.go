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

package model

import (
	"context"

	"github.com/c-bata/goptuna"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/knightrecs/knightrecs/base/log"
	"github.com/knightrecs/knightrecs/dataset"
)

type ModelCreator func() MatrixFactorization

// SearchedModel is the winner of a tuning study.
type SearchedModel struct {
	Type   string
	Params Params
	Score  Score
}

// ModelSearch is a goptuna objective searching model types and their
// hyper-parameters at once.
type ModelSearch struct {
	modelCreators map[string]ModelCreator
	modelTypes    []string
	trainSet      *dataset.Dataset
	testSet       *dataset.Dataset
	config        *FitConfig
	result        SearchedModel
}

func NewModelSearch(models map[string]ModelCreator, trainSet, testSet *dataset.Dataset, config *FitConfig) *ModelSearch {
	return &ModelSearch{
		modelCreators: models,
		modelTypes:    maps.Keys(models),
		trainSet:      trainSet,
		testSet:       testSet,
		config:        config,
	}
}

// Objective fits a suggested model and reports its RMSE. Failed trials are
// pruned so that the study keeps running.
func (ms *ModelSearch) Objective(trial goptuna.Trial) (float64, error) {
	if len(ms.modelCreators) == 0 {
		return 0, errors.New("no model to search")
	}
	modelType, err := trial.SuggestCategorical("Model", ms.modelTypes)
	if err != nil {
		return 0, errors.Trace(err)
	}
	m := ms.modelCreators[modelType]()
	m.SetParams(m.GetParams().Overwrite(m.SuggestParams(trial)))
	score, err := m.Fit(context.Background(), ms.trainSet, ms.testSet, ms.config)
	if err != nil {
		log.Logger().Warn("prune failed trial", zap.String("model", modelType), zap.Error(err))
		return 0, goptuna.ErrTrialPruned
	}
	if ms.result.Params == nil || score.BetterThan(ms.result.Score) {
		ms.result = SearchedModel{
			Type:   modelType,
			Params: m.GetParams(),
			Score:  score,
		}
	}
	return float64(score.RMSE), nil
}

func (ms *ModelSearch) Result() SearchedModel {
	return ms.result
}
