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

	"github.com/chewxy/math32"

	"github.com/knightrecs/knightrecs/common/parallel"
	"github.com/knightrecs/knightrecs/dataset"
)

// EvaluateRegression evaluates a matrix factorization model on a rating
// prediction task. Predictions are computed in parallel, the reduction is
// sequential so that the result does not depend on the number of jobs.
func EvaluateRegression(estimator MatrixFactorization, testSet *dataset.Dataset, jobs int) Score {
	if testSet.Count() == 0 {
		return Score{}
	}
	predictions := make([]float32, testSet.Count())
	_ = parallel.For(context.Background(), testSet.Count(), jobs, func(i int) {
		userIndex, itemIndex, _ := testSet.Get(i)
		predictions[i] = estimator.internalPredict(userIndex, itemIndex)
	})
	var squareSum, absSum float32
	for i := 0; i < testSet.Count(); i++ {
		_, _, rating := testSet.Get(i)
		diff := rating - predictions[i]
		squareSum += diff * diff
		absSum += math32.Abs(diff)
	}
	return Score{
		RMSE: math32.Sqrt(squareSum / float32(testSet.Count())),
		MAE:  absSum / float32(testSet.Count()),
	}
}
