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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeighbors(t *testing.T) {
	recommender := NewRecommender(newFixtureModel(), nil, newFixtureMovies(), 0, 1)
	// movie 30 points halfway between the axes of movies 10 and 20
	neighbors, err := recommender.Neighbors(10, 5)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, int64(30), neighbors[0].MovieId)
	assert.Equal(t, "Heat (1995)", neighbors[0].Title)
	assert.InDelta(t, 0.7071, neighbors[0].Score, 1e-4)
	assert.Equal(t, int64(20), neighbors[1].MovieId)
	assert.InDelta(t, 0, neighbors[1].Score, 1e-4)
	// truncate to n
	neighbors, err = recommender.Neighbors(10, 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, int64(30), neighbors[0].MovieId)
}

func TestNeighbors_UnknownMovie(t *testing.T) {
	recommender := NewRecommender(newFixtureModel(), nil, newFixtureMovies(), 0, 1)
	// never seen
	_, err := recommender.Neighbors(999, 5)
	assert.ErrorIs(t, err, ErrItemNotExist)
	// in the catalog but never trained
	_, err = recommender.Neighbors(50, 5)
	assert.ErrorIs(t, err, ErrItemNotExist)
}

func TestNeighbors_N(t *testing.T) {
	recommender := NewRecommender(newFixtureModel(), nil, newFixtureMovies(), 0, 1)
	_, err := recommender.Neighbors(10, -1)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	neighbors, err := recommender.Neighbors(10, 0)
	assert.NoError(t, err)
	assert.Empty(t, neighbors)
}
