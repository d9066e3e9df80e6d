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
	"fmt"

	"go.uber.org/zap"

	"github.com/knightrecs/knightrecs/base"
	"github.com/knightrecs/knightrecs/base/log"
	"github.com/knightrecs/knightrecs/base/progress"
	"github.com/knightrecs/knightrecs/dataset"
)

// ParamsSearchResult contains the return of a parameter search.
type ParamsSearchResult struct {
	BestModel  MatrixFactorization
	BestScore  Score
	BestParams Params
	BestIndex  int
	Scores     []Score
	Params     []Params
}

// AddScore records a candidate and keeps the best model.
func (r *ParamsSearchResult) AddScore(params Params, score Score, m MatrixFactorization) {
	r.Scores = append(r.Scores, score)
	r.Params = append(r.Params, params.Copy())
	if r.BestParams == nil || score.BetterThan(r.BestScore) {
		r.BestModel = Clone(m)
		r.BestScore = score
		r.BestParams = params.Copy()
		r.BestIndex = len(r.Params) - 1
	}
}

// GridSearchCV finds the best parameters for a model. Candidates whose fit
// fails, for example by divergence, are skipped.
func GridSearchCV(ctx context.Context, estimator MatrixFactorization, trainSet, testSet *dataset.Dataset,
	paramGrid ParamsGrid, _ int64, fitConfig *FitConfig) ParamsSearchResult {
	// Retrieve parameter names and length
	paramNames := make([]ParamName, 0, len(paramGrid))
	total := 1
	for paramName, values := range paramGrid {
		paramNames = append(paramNames, paramName)
		total *= len(values)
	}
	// Construct DFS procedure
	results := ParamsSearchResult{
		Scores: make([]Score, 0, total),
		Params: make([]Params, 0, total),
	}
	var dfs func(deep int, params Params)
	newCtx, span := progress.Start(ctx, "GridSearchCV", total)
	dfs = func(deep int, params Params) {
		if deep == len(paramNames) {
			log.Logger().Info(fmt.Sprintf("grid search (%v/%v)", span.Count(), total),
				zap.Any("params", params))
			estimator.Clear()
			estimator.SetParams(estimator.GetParams().Overwrite(params))
			score, err := estimator.Fit(newCtx, trainSet, testSet, fitConfig)
			if err != nil {
				log.Logger().Warn("grid search: skip failed candidate",
					zap.Any("params", params), zap.Error(err))
			} else {
				results.AddScore(params, score, estimator)
			}
			span.Add(1)
		} else {
			paramName := paramNames[deep]
			values := paramGrid[paramName]
			for _, val := range values {
				params[paramName] = val
				dfs(deep+1, params)
			}
		}
	}
	params := make(map[ParamName]interface{})
	dfs(0, params)
	span.End()
	return results
}

// RandomSearchCV searches hyper-parameters by random.
func RandomSearchCV(ctx context.Context, estimator MatrixFactorization, trainSet, testSet *dataset.Dataset,
	paramGrid ParamsGrid, numTrials int, seed int64, fitConfig *FitConfig) ParamsSearchResult {
	// if the number of combinations is less than the number of trials, use grid search
	if paramGrid.NumCombinations() < numTrials {
		return GridSearchCV(ctx, estimator, trainSet, testSet, paramGrid, seed, fitConfig)
	}
	rng := base.NewRandomGenerator(seed)
	results := ParamsSearchResult{
		Scores: make([]Score, 0, numTrials),
		Params: make([]Params, 0, numTrials),
	}
	newCtx, span := progress.Start(ctx, "RandomSearchCV", numTrials)
	for i := 1; i <= numTrials; i++ {
		// Make parameters
		params := Params{}
		for paramName, values := range paramGrid {
			value := values[rng.Intn(len(values))]
			params[paramName] = value
		}
		// Cross validate
		log.Logger().Info(fmt.Sprintf("random search (%v/%v)", i, numTrials),
			zap.Any("params", params))
		estimator.Clear()
		estimator.SetParams(estimator.GetParams().Overwrite(params))
		score, err := estimator.Fit(newCtx, trainSet, testSet, fitConfig)
		if err != nil {
			log.Logger().Warn("random search: skip failed candidate",
				zap.Any("params", params), zap.Error(err))
		} else {
			results.AddScore(params, score, estimator)
		}
		span.Add(1)
	}
	span.End()
	return results
}
