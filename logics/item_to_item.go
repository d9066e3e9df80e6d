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
	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"modernc.org/mathutil"

	"github.com/knightrecs/knightrecs/common/floats"
	"github.com/knightrecs/knightrecs/common/heap"
)

// Neighbors returns the n movies most similar to a movie by the cosine of
// their latent factors.
func (r *Recommender) Neighbors(movieId int64, n int) ([]ScoredMovie, error) {
	if n < 0 {
		return nil, errors.Annotatef(ErrInvalidParameter, "n = %d", n)
	}
	itemIndex := r.model.GetItemIndex().Id(movieId)
	if !r.model.IsItemPredictable(itemIndex) {
		return nil, errors.Annotatef(ErrItemNotExist, "movie %d", movieId)
	}
	n = mathutil.Min(n, r.maxN)
	if n == 0 {
		return []ScoredMovie{}, nil
	}
	vector := r.model.GetItemFactor(itemIndex)
	filter := heap.NewTopKFilter[int64, float64](n)
	for _, candidate := range r.candidates {
		if candidate == itemIndex {
			continue
		}
		similarity := cosine(vector, r.model.GetItemFactor(candidate))
		if !math32.IsNaN(similarity) {
			candidateId, _ := r.model.GetItemIndex().Value(candidate)
			filter.Push(candidateId, float64(similarity))
		}
	}
	return lo.Map(filter.PopAll(), func(elem heap.Elem[int64, float64], _ int) ScoredMovie {
		movie := r.movies[elem.Value]
		return ScoredMovie{
			MovieId: elem.Value,
			Title:   movie.Title,
			Genres:  movie.Genres,
			Score:   elem.Weight,
		}
	}), nil
}

func cosine(a, b []float32) float32 {
	return floats.Dot(a, b) / (math32.Sqrt(floats.Dot(a, a)) * math32.Sqrt(floats.Dot(b, b)))
}
