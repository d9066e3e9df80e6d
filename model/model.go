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
	"fmt"
	"io"

	"github.com/c-bata/goptuna"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/knightrecs/knightrecs/base"
	"github.com/knightrecs/knightrecs/base/encoding"
	"github.com/knightrecs/knightrecs/dataset"
)

var (
	// ErrInsufficientData is returned when the train set has less than two
	// users, less than two items or no ratings at all.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrDiverged is returned when the training loss explodes or becomes
	// undefined.
	ErrDiverged = errors.New("training diverged")
)

// Model is the interface for all models. Any model in this package should
// implement it.
type Model interface {
	// Set parameters.
	SetParams(params Params)
	// Get parameters.
	GetParams() Params
	// Get parameters grid.
	GetParamsGrid() ParamsGrid
	// Clear model weights.
	Clear()
	// Invalid reports whether the model is ready for prediction.
	Invalid() bool
}

// MatrixFactorization is the interface of rating prediction models backed by
// latent factors.
type MatrixFactorization interface {
	Model
	// Fit a model with a train set and parameters. The test set is used to
	// track held-out accuracy across epochs.
	Fit(ctx context.Context, trainSet, testSet *dataset.Dataset, config *FitConfig) (Score, error)
	// Predict the rating given by a user (userId) to a movie (movieId).
	Predict(userId, movieId int64) float32
	// internalPredict predicts a rating given by a user index and an item index.
	internalPredict(userIndex, itemIndex int32) float32
	// GetUserIndex returns user index.
	GetUserIndex() *dataset.FreqDict
	// GetItemIndex returns item index.
	GetItemIndex() *dataset.FreqDict
	// IsUserPredictable returns false if the user has no feedback and its
	// embedding vector was never trained.
	IsUserPredictable(userIndex int32) bool
	// IsItemPredictable returns false if the item has no feedback and its
	// embedding vector was never trained.
	IsItemPredictable(itemIndex int32) bool
	// GetUserFactor returns the latent factor of a user.
	GetUserFactor(userIndex int32) []float32
	// GetItemFactor returns the latent factor of an item.
	GetItemFactor(itemIndex int32) []float32
	// SuggestParams suggests hyper-parameters for a tuning trial.
	SuggestParams(trial goptuna.Trial) Params
	// Marshal model into byte stream.
	Marshal(w io.Writer) error
	// Unmarshal model from byte stream.
	Unmarshal(r io.Reader) error
}

// BaseModel must be included by every model. Hyper-parameters and the random
// generator are managed by BaseModel.
type BaseModel struct {
	Params    Params               // Hyper-parameters
	rng       base.RandomGenerator // Random generator
	randState int64                // Random seed
}

// SetParams sets hyper-parameters for the BaseModel.
func (model *BaseModel) SetParams(params Params) {
	model.Params = params
	model.randState = model.Params.GetInt64(RandomState, 0)
	model.rng = base.NewRandomGenerator(model.randState)
}

// GetParams returns all hyper-parameters.
func (model *BaseModel) GetParams() Params {
	return model.Params
}

func (model *BaseModel) GetRandomGenerator() base.RandomGenerator {
	return model.rng
}

// Score records the held-out accuracy of a model.
type Score struct {
	RMSE float32
	MAE  float32
}

func (score Score) ZapFields() []zap.Field {
	return []zap.Field{
		zap.Float32("RMSE", score.RMSE),
		zap.Float32("MAE", score.MAE),
	}
}

func (score Score) GetValue() float32 {
	return score.RMSE
}

// BetterThan reports whether the score is better than s. Lower RMSE is better.
func (score Score) BetterThan(s Score) bool {
	return score.RMSE < s.RMSE
}

type FitConfig struct {
	Jobs    int
	Verbose int
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:    1,
		Verbose: 10,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

func (config *FitConfig) LoadDefaultIfNil() *FitConfig {
	if config == nil {
		return NewFitConfig()
	}
	return config
}

const headerSVD = "svd"

// MarshalModel writes a model with a header identifying its type.
func MarshalModel(w io.Writer, m MatrixFactorization) error {
	switch m.(type) {
	case *SVD:
		if err := encoding.WriteString(w, headerSVD); err != nil {
			return errors.Trace(err)
		}
	default:
		return errors.Errorf("unknown model: %v", m)
	}
	return m.Marshal(w)
}

// UnmarshalModel reads a model written by MarshalModel.
func UnmarshalModel(r io.Reader) (MatrixFactorization, error) {
	header, err := encoding.ReadString(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch header {
	case headerSVD:
		var svd SVD
		if err := svd.Unmarshal(r); err != nil {
			return nil, errors.Trace(err)
		}
		return &svd, nil
	}
	return nil, fmt.Errorf("unknown model: %v", header)
}

// Clone a model with deep copy.
func Clone(m MatrixFactorization) MatrixFactorization {
	var buf bytes.Buffer
	if err := MarshalModel(&buf, m); err != nil {
		panic(err)
	}
	copied, err := UnmarshalModel(&buf)
	if err != nil {
		panic(err)
	}
	copied.SetParams(copied.GetParams())
	return copied
}
