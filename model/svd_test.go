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
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knightrecs/knightrecs/dataset"
)

func newRatingScenario() *dataset.Dataset {
	data := dataset.NewDataset(time.Now(), 0.5, 5)
	data.AddRating(1, 10, 5)
	data.AddRating(1, 20, 3)
	data.AddRating(2, 10, 4)
	data.AddRating(2, 30, 2)
	return data
}

func TestSVD_SetParams(t *testing.T) {
	m := NewSVD(nil)
	assert.Equal(t, 50, m.nFactors)
	assert.Equal(t, 20, m.nEpochs)
	assert.Equal(t, float32(0.005), m.lr)
	assert.Equal(t, float32(0.02), m.reg)
	assert.Equal(t, float32(0), m.initMean)
	assert.Equal(t, float32(0.1), m.initStdDev)
	m = NewSVD(Params{NFactors: 4, NEpochs: 10, Lr: 0.01, Reg: 0.1})
	assert.Equal(t, 4, m.nFactors)
	assert.Equal(t, 10, m.nEpochs)
	assert.Equal(t, float32(0.01), m.lr)
	assert.Equal(t, float32(0.1), m.reg)
}

func TestSVD_Fit(t *testing.T) {
	data := newRatingScenario()
	m := NewSVD(Params{NFactors: 2, NEpochs: 100, RandomState: 42})
	score, err := m.Fit(context.Background(), data, data, NewFitConfig().SetVerbose(20))
	assert.NoError(t, err)
	assert.False(t, math32.IsNaN(score.RMSE))
	assert.Less(t, score.RMSE, float32(1))
	assert.LessOrEqual(t, score.MAE, score.RMSE)
	// the model is bound to the dictionaries of the train set
	assert.Equal(t, int32(2), m.GetUserIndex().Count())
	assert.Equal(t, int32(3), m.GetItemIndex().Count())
	assert.Len(t, m.GetUserFactor(0), 2)
	assert.Len(t, m.GetItemFactor(0), 2)
	// public and internal predictions must agree
	for i := 0; i < data.Count(); i++ {
		userIndex, itemIndex, _ := data.Get(i)
		userId, _ := data.GetUserDict().Value(userIndex)
		movieId, _ := data.GetItemDict().Value(itemIndex)
		assert.Equal(t, m.internalPredict(userIndex, itemIndex), m.Predict(userId, movieId))
	}
	// predictions stay within the rating scale
	for _, userId := range []int64{1, 2, 999} {
		for _, movieId := range []int64{10, 20, 30, 999} {
			prediction := m.Predict(userId, movieId)
			assert.GreaterOrEqual(t, prediction, float32(0.5))
			assert.LessOrEqual(t, prediction, float32(5))
		}
	}
}

func TestSVD_Fit_Synthetic(t *testing.T) {
	trainSet, testSet := newSyntheticData(24, 24, 0)
	m := NewSVD(Params{NFactors: 8, NEpochs: 50, Lr: 0.01, RandomState: 0})
	score, err := m.Fit(context.Background(), trainSet, testSet, NewFitConfig().SetVerbose(10))
	assert.NoError(t, err)
	assert.Greater(t, score.RMSE, float32(0))
	assert.Less(t, score.RMSE, float32(0.8))
	assert.LessOrEqual(t, score.MAE, score.RMSE)
}

func TestSVD_Predictable(t *testing.T) {
	data := newRatingScenario()
	m := NewSVD(Params{NFactors: 2, NEpochs: 10, RandomState: 42})
	_, err := m.Fit(context.Background(), data, data, NewFitConfig())
	assert.NoError(t, err)
	for userIndex := int32(0); userIndex < 2; userIndex++ {
		assert.True(t, m.IsUserPredictable(userIndex))
	}
	for itemIndex := int32(0); itemIndex < 3; itemIndex++ {
		assert.True(t, m.IsItemPredictable(itemIndex))
	}
	assert.False(t, m.IsUserPredictable(-1))
	assert.False(t, m.IsUserPredictable(math.MaxInt32))
	assert.False(t, m.IsItemPredictable(-1))
	assert.False(t, m.IsItemPredictable(math.MaxInt32))
}

func TestSVD_Marshal(t *testing.T) {
	data := newRatingScenario()
	m := NewSVD(Params{NFactors: 2, NEpochs: 100, RandomState: 42})
	_, err := m.Fit(context.Background(), data, data, NewFitConfig())
	require.NoError(t, err)
	// marshal and unmarshal
	buf := bytes.NewBuffer(nil)
	require.NoError(t, m.Marshal(buf))
	tmp := new(SVD)
	require.NoError(t, tmp.Unmarshal(buf))
	// the restored model predicts the same ratings
	assert.Equal(t, m.GetParams(), tmp.GetParams())
	assert.Equal(t, m.GlobalMean, tmp.GlobalMean)
	assert.Equal(t, m.MinRating, tmp.MinRating)
	assert.Equal(t, m.MaxRating, tmp.MaxRating)
	for _, userId := range []int64{1, 2} {
		for _, movieId := range []int64{10, 20, 30} {
			assert.Equal(t, m.Predict(userId, movieId), tmp.Predict(userId, movieId))
		}
	}
	assert.True(t, tmp.IsUserPredictable(tmp.GetUserIndex().Id(1)))
	assert.True(t, tmp.IsItemPredictable(tmp.GetItemIndex().Id(10)))
	assert.Equal(t, int32(-1), tmp.GetUserIndex().Id(999))
}

func TestSVD_Fit_InsufficientData(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		data := dataset.NewDataset(time.Now(), 0.5, 5)
		_, err := NewSVD(nil).Fit(context.Background(), data, data, NewFitConfig())
		assert.ErrorIs(t, err, ErrInsufficientData)
	})
	t.Run("single user", func(t *testing.T) {
		data := dataset.NewDataset(time.Now(), 0.5, 5)
		data.AddRating(1, 10, 3)
		data.AddRating(1, 20, 4)
		_, err := NewSVD(nil).Fit(context.Background(), data, data, NewFitConfig())
		assert.ErrorIs(t, err, ErrInsufficientData)
	})
	t.Run("single item", func(t *testing.T) {
		data := dataset.NewDataset(time.Now(), 0.5, 5)
		data.AddRating(1, 10, 3)
		data.AddRating(2, 10, 4)
		_, err := NewSVD(nil).Fit(context.Background(), data, data, NewFitConfig())
		assert.ErrorIs(t, err, ErrInsufficientData)
	})
}

func TestSVD_Fit_Diverge(t *testing.T) {
	trainSet, testSet := newSyntheticData(8, 8, 42)
	m := NewSVD(Params{NFactors: 4, NEpochs: 100, Lr: 10, RandomState: 42})
	_, err := m.Fit(context.Background(), trainSet, testSet, NewFitConfig())
	assert.ErrorIs(t, err, ErrDiverged)
	// no partial state survives a diverged fit
	assert.True(t, m.Invalid())
}

func TestSVD_Fit_Deterministic(t *testing.T) {
	trainSet, testSet := newSyntheticData(8, 8, 42)
	userId, movieId := firstRatedPair(trainSet)
	params := Params{NFactors: 4, NEpochs: 5, RandomState: 42}
	m1 := NewSVD(params)
	score1, err := m1.Fit(context.Background(), trainSet, testSet, NewFitConfig())
	assert.NoError(t, err)
	m2 := NewSVD(params)
	score2, err := m2.Fit(context.Background(), trainSet, testSet, NewFitConfig())
	assert.NoError(t, err)
	assert.Equal(t, score1, score2)
	assert.Equal(t, m1.Predict(userId, movieId), m2.Predict(userId, movieId))
	// a different seed leads to a different model
	m3 := NewSVD(Params{NFactors: 4, NEpochs: 5, RandomState: 123})
	_, err = m3.Fit(context.Background(), trainSet, testSet, NewFitConfig())
	assert.NoError(t, err)
	assert.NotEqual(t, m1.Predict(userId, movieId), m3.Predict(userId, movieId))
}

func TestSVD_Clear(t *testing.T) {
	m := NewSVD(nil)
	assert.True(t, m.Invalid())
	data := newRatingScenario()
	_, err := m.Fit(context.Background(), data, data, NewFitConfig())
	assert.NoError(t, err)
	assert.False(t, m.Invalid())
	m.Clear()
	assert.True(t, m.Invalid())
}
