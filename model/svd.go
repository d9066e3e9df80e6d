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
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/c-bata/goptuna"
	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/knightrecs/knightrecs/base/encoding"
	"github.com/knightrecs/knightrecs/base/log"
	"github.com/knightrecs/knightrecs/base/progress"
	"github.com/knightrecs/knightrecs/common/floats"
	"github.com/knightrecs/knightrecs/dataset"
)

// divergenceTolerance is the allowed relative increase of the train cost
// between consecutive epochs.
const divergenceTolerance = 0.05

// SVD is the matrix factorization model popularized by Simon Funk during the
// Netflix Prize. The prediction \hat{r}_{ui} is set as:
//
//	\hat{r}_{ui} = \mu + b_u + b_i + q_i^T p_u
//
// and clipped to the rating scale. If user u is unknown, the bias b_u and the
// factors p_u are assumed to be zero. The same applies for item i with b_i
// and q_i.
type SVD struct {
	BaseModel
	UserIndex       *dataset.FreqDict
	ItemIndex       *dataset.FreqDict
	UserPredictable *bitset.BitSet
	ItemPredictable *bitset.BitSet
	// Model parameters
	UserFactor [][]float32 // p_u
	ItemFactor [][]float32 // q_i
	UserBias   []float32   // b_u
	ItemBias   []float32   // b_i
	GlobalMean float32     // mu
	MinRating  float32
	MaxRating  float32
	// Hyper parameters
	nFactors   int
	nEpochs    int
	lr         float32
	reg        float32
	initMean   float32
	initStdDev float32
}

// NewSVD creates a SVD model. Params:
//
//	Lr         - The learning rate of SGD. Default is 0.005.
//	Reg        - The regularization strength. Default is 0.02.
//	NFactors   - The number of latent factors. Default is 50.
//	NEpochs    - The number of iterations of the SGD procedure. Default is 20.
//	InitMean   - The mean of initial random latent factors. Default is 0.
//	InitStdDev - The standard deviation of initial random latent factors. Default is 0.1.
func NewSVD(params Params) *SVD {
	svd := new(SVD)
	svd.SetParams(params)
	return svd
}

func (svd *SVD) SetParams(params Params) {
	svd.BaseModel.SetParams(params)
	svd.nFactors = svd.Params.GetInt(NFactors, 50)
	svd.nEpochs = svd.Params.GetInt(NEpochs, 20)
	svd.lr = svd.Params.GetFloat32(Lr, 0.005)
	svd.reg = svd.Params.GetFloat32(Reg, 0.02)
	svd.initMean = svd.Params.GetFloat32(InitMean, 0)
	svd.initStdDev = svd.Params.GetFloat32(InitStdDev, 0.1)
}

func (svd *SVD) GetParamsGrid() ParamsGrid {
	return ParamsGrid{
		NFactors:   []interface{}{8, 16, 32, 50, 64, 96},
		Lr:         []interface{}{0.001, 0.005, 0.01, 0.05},
		Reg:        []interface{}{0.001, 0.01, 0.02, 0.1},
		InitStdDev: []interface{}{0.001, 0.005, 0.01, 0.05, 0.1},
	}
}

func (svd *SVD) SuggestParams(trial goptuna.Trial) Params {
	return Params{
		NFactors:   lo.Must(trial.SuggestStepInt(string(NFactors), 8, 96, 8)),
		Lr:         lo.Must(trial.SuggestLogFloat(string(Lr), 0.001, 0.1)),
		Reg:        lo.Must(trial.SuggestLogFloat(string(Reg), 0.001, 0.1)),
		InitStdDev: lo.Must(trial.SuggestLogFloat(string(InitStdDev), 0.001, 0.1)),
	}
}

// Init binds the model to the dictionaries of the train set and initializes
// biases and latent factors.
func (svd *SVD) Init(trainSet *dataset.Dataset) {
	svd.UserIndex = trainSet.GetUserDict()
	svd.ItemIndex = trainSet.GetItemDict()
	// set user trained flags
	svd.UserPredictable = bitset.New(uint(svd.UserIndex.Count()))
	for userIndex := int32(0); userIndex < svd.UserIndex.Count(); userIndex++ {
		if len(trainSet.GetUserFeedback()[userIndex]) > 0 {
			svd.UserPredictable.Set(uint(userIndex))
		}
	}
	// set item trained flags
	svd.ItemPredictable = bitset.New(uint(svd.ItemIndex.Count()))
	for itemIndex := int32(0); itemIndex < svd.ItemIndex.Count(); itemIndex++ {
		if len(trainSet.GetItemFeedback()[itemIndex]) > 0 {
			svd.ItemPredictable.Set(uint(itemIndex))
		}
	}
	// initialize parameters
	svd.GlobalMean = trainSet.Mean()
	svd.MinRating = trainSet.MinRating()
	svd.MaxRating = trainSet.MaxRating()
	svd.UserBias = make([]float32, svd.UserIndex.Count())
	svd.ItemBias = make([]float32, svd.ItemIndex.Count())
	svd.UserFactor = svd.GetRandomGenerator().NormalMatrix(int(svd.UserIndex.Count()), svd.nFactors, svd.initMean, svd.initStdDev)
	svd.ItemFactor = svd.GetRandomGenerator().NormalMatrix(int(svd.ItemIndex.Count()), svd.nFactors, svd.initMean, svd.initStdDev)
}

// Fit trains the model by stochastic gradient descent. Ratings of the train
// set are visited in a fresh random order every epoch.
func (svd *SVD) Fit(ctx context.Context, trainSet, testSet *dataset.Dataset, config *FitConfig) (Score, error) {
	config = config.LoadDefaultIfNil()
	if trainSet.Count() == 0 || trainSet.CountUsers() < 2 || trainSet.CountItems() < 2 {
		return Score{}, errors.Annotatef(ErrInsufficientData, "%d ratings, %d users, %d items",
			trainSet.Count(), trainSet.CountUsers(), trainSet.CountItems())
	}
	log.Logger().Info("fit SVD",
		zap.Int("train_set_size", trainSet.Count()),
		zap.Int("test_set_size", testSet.Count()),
		zap.Any("params", svd.GetParams()),
		zap.Any("config", config))
	svd.Init(trainSet)

	evalStart := time.Now()
	score := EvaluateRegression(svd, testSet, config.Jobs)
	evalTime := time.Since(evalStart)
	fields := append([]zap.Field{zap.String("eval_time", evalTime.String())}, score.ZapFields()...)
	log.Logger().Info(fmt.Sprintf("fit SVD %v/%v", 0, svd.nEpochs), fields...)

	// training buffers
	a := make([]float32, svd.nFactors)
	b := make([]float32, svd.nFactors)
	userBuf := make([]float32, svd.nFactors)
	prevCost := float32(0)

	_, span := progress.Start(ctx, "SVD.Fit", svd.nEpochs)
	for epoch := 1; epoch <= svd.nEpochs; epoch++ {
		fitStart := time.Now()
		cost := float32(0)
		perm := svd.GetRandomGenerator().Perm(trainSet.Count())
		for _, i := range perm {
			userIndex, itemIndex, rating := trainSet.Get(i)
			userFactor := svd.UserFactor[userIndex]
			itemFactor := svd.ItemFactor[itemIndex]
			// Compute error: e_{ui} = r_{ui} - \hat{r}_{ui}
			grad := rating - svd.internalPredict(userIndex, itemIndex)
			cost += grad * grad
			// Update user bias: b_u <- b_u + \gamma (e_{ui} - \lambda b_u)
			svd.UserBias[userIndex] += svd.lr * (grad - svd.reg*svd.UserBias[userIndex])
			// Update item bias: b_i <- b_i + \gamma (e_{ui} - \lambda b_i)
			svd.ItemBias[itemIndex] += svd.lr * (grad - svd.reg*svd.ItemBias[itemIndex])
			// Update user latent factor: p_u <- p_u + \gamma (e_{ui} q_i - \lambda p_u)
			copy(userBuf, userFactor)
			floats.MulConstTo(itemFactor, grad, a)
			floats.MulConstAdd(userFactor, -svd.reg, a)
			floats.MulConstAdd(a, svd.lr, userFactor)
			// Update item latent factor: q_i <- q_i + \gamma (e_{ui} p_u - \lambda q_i)
			// using the user factor before its update on this rating.
			floats.MulConstTo(userBuf, grad, b)
			floats.MulConstAdd(itemFactor, -svd.reg, b)
			floats.MulConstAdd(b, svd.lr, itemFactor)
		}
		fitTime := time.Since(fitStart)
		if math32.IsNaN(cost) || math32.IsInf(cost, 0) {
			err := errors.Annotatef(ErrDiverged, "epoch %d: cost is not finite", epoch)
			span.Fail(err)
			svd.Clear()
			return Score{}, err
		}
		if epoch > 1 && prevCost > 0 && cost > prevCost*(1+divergenceTolerance) {
			err := errors.Annotatef(ErrDiverged, "epoch %d: cost increased from %v to %v", epoch, prevCost, cost)
			span.Fail(err)
			svd.Clear()
			return Score{}, err
		}
		prevCost = cost
		if epoch%config.Verbose == 0 || epoch == svd.nEpochs {
			evalStart = time.Now()
			score = EvaluateRegression(svd, testSet, config.Jobs)
			evalTime = time.Since(evalStart)
			fields = append([]zap.Field{
				zap.String("fit_time", fitTime.String()),
				zap.String("eval_time", evalTime.String()),
			}, score.ZapFields()...)
			log.Logger().Info(fmt.Sprintf("fit SVD %v/%v", epoch, svd.nEpochs), fields...)
		}
		span.Add(1)
	}
	span.End()
	log.Logger().Info("fit SVD complete", score.ZapFields()...)
	return score, nil
}

// Predict returns the predicted rating given by a user to a movie, clipped to
// the rating scale.
func (svd *SVD) Predict(userId, movieId int64) float32 {
	userIndex := svd.UserIndex.Id(userId)
	itemIndex := svd.ItemIndex.Id(movieId)
	if userIndex < 0 {
		log.Logger().Warn("unknown user", zap.Int64("user_id", userId))
	}
	if itemIndex < 0 {
		log.Logger().Warn("unknown movie", zap.Int64("movie_id", movieId))
	}
	return svd.internalPredict(userIndex, itemIndex)
}

func (svd *SVD) internalPredict(userIndex, itemIndex int32) float32 {
	ret := svd.GlobalMean
	// + b_u
	if userIndex >= 0 {
		ret += svd.UserBias[userIndex]
	}
	// + b_i
	if itemIndex >= 0 {
		ret += svd.ItemBias[itemIndex]
	}
	// + q_i^T p_u
	if userIndex >= 0 && itemIndex >= 0 {
		ret += floats.Dot(svd.UserFactor[userIndex], svd.ItemFactor[itemIndex])
	}
	return svd.clip(ret)
}

func (svd *SVD) clip(rating float32) float32 {
	return math32.Min(math32.Max(rating, svd.MinRating), svd.MaxRating)
}

// IsUserPredictable returns false if the user has no feedback and its embedding vector was never trained.
func (svd *SVD) IsUserPredictable(userIndex int32) bool {
	if userIndex >= svd.UserIndex.Count() || userIndex < 0 {
		return false
	}
	return svd.UserPredictable.Test(uint(userIndex))
}

// IsItemPredictable returns false if the item has no feedback and its embedding vector was never trained.
func (svd *SVD) IsItemPredictable(itemIndex int32) bool {
	if itemIndex >= svd.ItemIndex.Count() || itemIndex < 0 {
		return false
	}
	return svd.ItemPredictable.Test(uint(itemIndex))
}

func (svd *SVD) GetUserIndex() *dataset.FreqDict {
	return svd.UserIndex
}

func (svd *SVD) GetItemIndex() *dataset.FreqDict {
	return svd.ItemIndex
}

func (svd *SVD) GetUserFactor(userIndex int32) []float32 {
	return svd.UserFactor[userIndex]
}

func (svd *SVD) GetItemFactor(itemIndex int32) []float32 {
	return svd.ItemFactor[itemIndex]
}

func (svd *SVD) Clear() {
	svd.UserIndex = nil
	svd.ItemIndex = nil
	svd.UserFactor = nil
	svd.ItemFactor = nil
	svd.UserBias = nil
	svd.ItemBias = nil
}

func (svd *SVD) Invalid() bool {
	return svd == nil ||
		svd.UserIndex == nil ||
		svd.ItemIndex == nil ||
		svd.UserFactor == nil ||
		svd.ItemFactor == nil
}

// Marshal model into byte stream. Only predictable users and items are
// written.
func (svd *SVD) Marshal(w io.Writer) error {
	// write params
	if err := encoding.WriteGob(w, svd.Params); err != nil {
		return errors.Trace(err)
	}
	// write rating scale
	if err := binary.Write(w, binary.LittleEndian, svd.GlobalMean); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, svd.MinRating); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, svd.MaxRating); err != nil {
		return errors.Trace(err)
	}
	// write predictable user count
	if err := binary.Write(w, binary.LittleEndian, int64(svd.UserPredictable.Count())); err != nil {
		return errors.Trace(err)
	}
	// write user biases and latent factors
	for userIndex := int32(0); userIndex < svd.UserIndex.Count(); userIndex++ {
		if svd.UserPredictable.Test(uint(userIndex)) {
			userId, _ := svd.UserIndex.Value(userIndex)
			if err := binary.Write(w, binary.LittleEndian, userId); err != nil {
				return errors.Trace(err)
			}
			if err := binary.Write(w, binary.LittleEndian, svd.UserBias[userIndex]); err != nil {
				return errors.Trace(err)
			}
			if err := encoding.WriteVector(w, svd.UserFactor[userIndex]); err != nil {
				return errors.Trace(err)
			}
		}
	}
	// write predictable item count
	if err := binary.Write(w, binary.LittleEndian, int64(svd.ItemPredictable.Count())); err != nil {
		return errors.Trace(err)
	}
	// write item biases and latent factors
	for itemIndex := int32(0); itemIndex < svd.ItemIndex.Count(); itemIndex++ {
		if svd.ItemPredictable.Test(uint(itemIndex)) {
			itemId, _ := svd.ItemIndex.Value(itemIndex)
			if err := binary.Write(w, binary.LittleEndian, itemId); err != nil {
				return errors.Trace(err)
			}
			if err := binary.Write(w, binary.LittleEndian, svd.ItemBias[itemIndex]); err != nil {
				return errors.Trace(err)
			}
			if err := encoding.WriteVector(w, svd.ItemFactor[itemIndex]); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// Unmarshal model from byte stream.
func (svd *SVD) Unmarshal(r io.Reader) error {
	// read params
	if err := encoding.ReadGob(r, &svd.Params); err != nil {
		return errors.Trace(err)
	}
	svd.SetParams(svd.Params)
	// read rating scale
	if err := binary.Read(r, binary.LittleEndian, &svd.GlobalMean); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &svd.MinRating); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &svd.MaxRating); err != nil {
		return errors.Trace(err)
	}
	// read user biases and latent factors
	var userCount int64
	if err := binary.Read(r, binary.LittleEndian, &userCount); err != nil {
		return errors.Trace(err)
	}
	svd.UserIndex = dataset.NewFreqDict()
	svd.UserPredictable = bitset.New(uint(userCount))
	svd.UserBias = make([]float32, userCount)
	svd.UserFactor = make([][]float32, userCount)
	for i := int64(0); i < userCount; i++ {
		var userId int64
		if err := binary.Read(r, binary.LittleEndian, &userId); err != nil {
			return errors.Trace(err)
		}
		userIndex := svd.UserIndex.Add(userId)
		svd.UserPredictable.Set(uint(userIndex))
		if err := binary.Read(r, binary.LittleEndian, &svd.UserBias[userIndex]); err != nil {
			return errors.Trace(err)
		}
		svd.UserFactor[userIndex] = make([]float32, svd.nFactors)
		if err := encoding.ReadVector(r, svd.UserFactor[userIndex]); err != nil {
			return errors.Trace(err)
		}
	}
	// read item biases and latent factors
	var itemCount int64
	if err := binary.Read(r, binary.LittleEndian, &itemCount); err != nil {
		return errors.Trace(err)
	}
	svd.ItemIndex = dataset.NewFreqDict()
	svd.ItemPredictable = bitset.New(uint(itemCount))
	svd.ItemBias = make([]float32, itemCount)
	svd.ItemFactor = make([][]float32, itemCount)
	for i := int64(0); i < itemCount; i++ {
		var itemId int64
		if err := binary.Read(r, binary.LittleEndian, &itemId); err != nil {
			return errors.Trace(err)
		}
		itemIndex := svd.ItemIndex.Add(itemId)
		svd.ItemPredictable.Set(uint(itemIndex))
		if err := binary.Read(r, binary.LittleEndian, &svd.ItemBias[itemIndex]); err != nil {
			return errors.Trace(err)
		}
		svd.ItemFactor[itemIndex] = make([]float32, svd.nFactors)
		if err := encoding.ReadVector(r, svd.ItemFactor[itemIndex]); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
