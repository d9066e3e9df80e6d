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

package logics

import (
	"context"
	"math"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"modernc.org/mathutil"

	"github.com/knightrecs/knightrecs/common/parallel"
	"github.com/knightrecs/knightrecs/dataset"
	"github.com/knightrecs/knightrecs/model"
)

// DefaultMaxN bounds the number of recommendations of a single request.
const DefaultMaxN = 100

var (
	// ErrUserNotExist is returned when a user is unknown to the trained model.
	ErrUserNotExist = errors.NotFoundf("user")
	// ErrItemNotExist is returned when a movie is unknown to the trained model.
	ErrItemNotExist = errors.NotFoundf("movie")
	// ErrInvalidParameter is returned when a request parameter is out of range.
	ErrInvalidParameter = errors.NotValidf("parameter")
)

// Recommendation is a movie scored for a user.
type Recommendation struct {
	MovieId         int64   `json:"movieId"`
	Title           string  `json:"title"`
	Genres          string  `json:"genres"`
	PredictedRating float64 `json:"predicted_rating"`
}

// ScoredMovie is a movie scored by similarity to another movie.
type ScoredMovie struct {
	MovieId int64   `json:"movieId"`
	Title   string  `json:"title"`
	Genres  string  `json:"genres"`
	Score   float64 `json:"score"`
}

// Recommender ranks movies for users with a trained model. Its state is
// immutable after construction, concurrent requests share it safely.
type Recommender struct {
	model      model.MatrixFactorization
	movies     map[int64]dataset.Movie
	profiles   map[int64]mapset.Set[int64]
	candidates []int32
	maxN       int
	jobs       int
}

// NewRecommender creates a Recommender from a trained model, the rating
// history of every user and the movie catalog. Candidates are movies the
// model can predict that also appear in the catalog.
func NewRecommender(m model.MatrixFactorization, profiles map[int64][]int64,
	movies map[int64]dataset.Movie, maxN, jobs int) *Recommender {
	if maxN <= 0 {
		maxN = DefaultMaxN
	}
	if jobs <= 0 {
		jobs = 1
	}
	r := &Recommender{
		model:    m,
		movies:   movies,
		profiles: make(map[int64]mapset.Set[int64], len(profiles)),
		maxN:     maxN,
		jobs:     jobs,
	}
	for userId, movieIds := range profiles {
		r.profiles[userId] = mapset.NewSet(movieIds...)
	}
	for itemIndex := int32(0); itemIndex < m.GetItemIndex().Count(); itemIndex++ {
		if !m.IsItemPredictable(itemIndex) {
			continue
		}
		if movieId, ok := m.GetItemIndex().Value(itemIndex); ok {
			if _, exist := movies[movieId]; exist {
				r.candidates = append(r.candidates, itemIndex)
			}
		}
	}
	return r
}

// Recommend returns the top n movies for a user, best first. Movies the user
// has rated are excluded before ranking. Ties are broken by ascending movie
// id, so the result is deterministic.
func (r *Recommender) Recommend(userId int64, n int) ([]Recommendation, error) {
	if n < 0 {
		return nil, errors.Annotatef(ErrInvalidParameter, "n = %d", n)
	}
	userIndex := r.model.GetUserIndex().Id(userId)
	if !r.model.IsUserPredictable(userIndex) {
		return nil, errors.Annotatef(ErrUserNotExist, "user %d", userId)
	}
	n = mathutil.Min(n, r.maxN)
	if n == 0 {
		return []Recommendation{}, nil
	}
	// drop everything the user has rated before ranking
	excludeSet := r.profiles[userId]
	if excludeSet == nil {
		excludeSet = mapset.NewSet[int64]()
	}
	type scoredId struct {
		movieId int64
		score   float32
	}
	candidates := make([]scoredId, 0, len(r.candidates))
	for _, itemIndex := range r.candidates {
		movieId, _ := r.model.GetItemIndex().Value(itemIndex)
		if !excludeSet.Contains(movieId) {
			candidates = append(candidates, scoredId{movieId: movieId})
		}
	}
	_ = parallel.For(context.Background(), len(candidates), r.jobs, func(i int) {
		candidates[i].score = r.model.Predict(userId, candidates[i].movieId)
	})
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].movieId < candidates[j].movieId
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return lo.Map(candidates, func(c scoredId, _ int) Recommendation {
		movie := r.movies[c.movieId]
		return Recommendation{
			MovieId:         c.movieId,
			Title:           movie.Title,
			Genres:          movie.Genres,
			PredictedRating: roundRating(c.score),
		}
	}), nil
}

// roundRating rounds the reported rating to two decimals. Ranking happens on
// the unrounded score.
func roundRating(score float32) float64 {
	return math.Round(float64(score)*100) / 100
}
