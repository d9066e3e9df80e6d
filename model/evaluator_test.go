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
	"io"
	"testing"
	"time"

	"github.com/c-bata/goptuna"
	"github.com/stretchr/testify/assert"

	"github.com/knightrecs/knightrecs/dataset"
)

type mockMatrixFactorization struct {
	BaseModel
	predictions map[[2]int32]float32
}

func (m *mockMatrixFactorization) GetParamsGrid() ParamsGrid {
	panic("implement me")
}

func (m *mockMatrixFactorization) Clear() {
	panic("implement me")
}

func (m *mockMatrixFactorization) Invalid() bool {
	panic("implement me")
}

func (m *mockMatrixFactorization) Fit(_ context.Context, _, _ *dataset.Dataset, _ *FitConfig) (Score, error) {
	panic("implement me")
}

func (m *mockMatrixFactorization) Predict(_, _ int64) float32 {
	panic("implement me")
}

func (m *mockMatrixFactorization) internalPredict(userIndex, itemIndex int32) float32 {
	return m.predictions[[2]int32{userIndex, itemIndex}]
}

func (m *mockMatrixFactorization) GetUserIndex() *dataset.FreqDict {
	panic("implement me")
}

func (m *mockMatrixFactorization) GetItemIndex() *dataset.FreqDict {
	panic("implement me")
}

func (m *mockMatrixFactorization) IsUserPredictable(_ int32) bool {
	panic("implement me")
}

func (m *mockMatrixFactorization) IsItemPredictable(_ int32) bool {
	panic("implement me")
}

func (m *mockMatrixFactorization) GetUserFactor(_ int32) []float32 {
	panic("implement me")
}

func (m *mockMatrixFactorization) GetItemFactor(_ int32) []float32 {
	panic("implement me")
}

func (m *mockMatrixFactorization) SuggestParams(_ goptuna.Trial) Params {
	panic("implement me")
}

func (m *mockMatrixFactorization) Marshal(_ io.Writer) error {
	panic("implement me")
}

func (m *mockMatrixFactorization) Unmarshal(_ io.Reader) error {
	panic("implement me")
}

func TestEvaluateRegression(t *testing.T) {
	testSet := dataset.NewDataset(time.Now(), 0.5, 5)
	testSet.AddRating(1, 10, 3)
	testSet.AddRating(1, 20, 4)
	testSet.AddRating(2, 10, 2)
	testSet.AddRating(2, 20, 5)
	estimator := &mockMatrixFactorization{predictions: map[[2]int32]float32{
		{0, 0}: 3.5,
		{0, 1}: 3.5,
		{1, 0}: 2.5,
		{1, 1}: 4,
	}}
	score := EvaluateRegression(estimator, testSet, 1)
	assert.InDelta(t, 0.661438, score.RMSE, 1e-4)
	assert.InDelta(t, 0.625, score.MAE, 1e-4)
	// the score does not depend on the number of jobs
	assert.Equal(t, score, EvaluateRegression(estimator, testSet, 4))
}

func TestEvaluateRegression_Empty(t *testing.T) {
	testSet := dataset.NewDataset(time.Now(), 0.5, 5)
	estimator := &mockMatrixFactorization{}
	assert.Equal(t, Score{}, EvaluateRegression(estimator, testSet, 1))
}
