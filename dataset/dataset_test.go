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

package dataset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDataset_AddRating(t *testing.T) {
	dataSet := NewDataset(time.Now(), 0.5, 5)
	dataSet.AddRating(1, 10, 5)
	dataSet.AddRating(1, 20, 3)
	dataSet.AddRating(2, 10, 4)
	dataSet.AddRating(2, 30, 2)
	assert.Equal(t, 4, dataSet.Count())
	assert.Equal(t, 2, dataSet.CountUsers())
	assert.Equal(t, 3, dataSet.CountItems())
	assert.InDelta(t, 3.5, dataSet.Mean(), 1e-6)
	userIndex, itemIndex, rating := dataSet.Get(2)
	assert.Equal(t, int32(1), userIndex)
	assert.Equal(t, int32(0), itemIndex)
	assert.Equal(t, float32(4), rating)
	assert.Equal(t, [][]int32{{0, 1}, {0, 2}}, dataSet.GetUserFeedback())
	assert.Equal(t, [][]int32{{0, 1}, {0}, {1}}, dataSet.GetItemFeedback())
	assert.Equal(t, float32(0.5), dataSet.MinRating())
	assert.Equal(t, float32(5), dataSet.MaxRating())
}

func TestDataset_Mean(t *testing.T) {
	dataSet := NewDataset(time.Now(), 0.5, 5)
	assert.Zero(t, dataSet.Mean())
	dataSet.AddRating(1, 10, 1)
	dataSet.AddRating(2, 10, 4)
	assert.InDelta(t, 2.5, dataSet.Mean(), 1e-6)
}

func TestDataset_SubSet(t *testing.T) {
	dataSet := NewDataset(time.Now(), 0.5, 5)
	dataSet.AddRating(1, 10, 5)
	dataSet.AddRating(1, 20, 3)
	dataSet.AddRating(2, 10, 4)
	dataSet.AddRating(2, 30, 2)
	sub := dataSet.SubSet([]int{0, 3})
	assert.Equal(t, 2, sub.Count())
	assert.Same(t, dataSet.GetUserDict(), sub.GetUserDict())
	assert.Same(t, dataSet.GetItemDict(), sub.GetItemDict())
	userIndex, itemIndex, rating := sub.Get(0)
	assert.Equal(t, int32(0), userIndex)
	assert.Equal(t, int32(0), itemIndex)
	assert.Equal(t, float32(5), rating)
	userIndex, itemIndex, rating = sub.Get(1)
	assert.Equal(t, int32(1), userIndex)
	assert.Equal(t, int32(2), itemIndex)
	assert.Equal(t, float32(2), rating)
	// Feedback slices span the shared dictionaries but contain only the
	// selected ratings.
	assert.Len(t, sub.GetUserFeedback(), 2)
	assert.Len(t, sub.GetItemFeedback(), 3)
	assert.Equal(t, [][]int32{{0}, {2}}, sub.GetUserFeedback())
	assert.Equal(t, [][]int32{{0}, nil, {1}}, sub.GetItemFeedback())
}

func TestDataset_UserProfiles(t *testing.T) {
	dataSet := NewDataset(time.Now(), 0.5, 5)
	dataSet.AddRating(1, 30, 5)
	dataSet.AddRating(1, 10, 3)
	dataSet.AddRating(1, 30, 4)
	dataSet.AddRating(2, 20, 2)
	profiles := dataSet.UserProfiles()
	assert.Len(t, profiles, 2)
	assert.Equal(t, []int64{10, 30}, profiles[1])
	assert.Equal(t, []int64{20}, profiles[2])
}

func TestLoadRatings(t *testing.T) {
	path := writeTempFile(t, "ratings.csv", `userId,movieId,rating,timestamp
1,10,5.0,964982703
1,20,3.0,964981247
2,10,4.0,964982224
2,30,2.0,964983815
`)
	dataSet, err := LoadRatings(path, 0.5, 5)
	assert.NoError(t, err)
	assert.Equal(t, 4, dataSet.Count())
	assert.Equal(t, 2, dataSet.CountUsers())
	assert.Equal(t, 3, dataSet.CountItems())
	assert.Equal(t, int32(0), dataSet.GetUserDict().Id(1))
	assert.Equal(t, int32(1), dataSet.GetUserDict().Id(2))
	assert.Equal(t, int32(2), dataSet.GetItemDict().Id(30))
	userIndex, itemIndex, rating := dataSet.Get(0)
	assert.Equal(t, int32(0), userIndex)
	assert.Equal(t, int32(0), itemIndex)
	assert.Equal(t, float32(5), rating)
}

func TestLoadRatings_NoHeader(t *testing.T) {
	path := writeTempFile(t, "ratings.csv", "1,10,5.0,964982703\n2,10,4.0,964982224\n")
	dataSet, err := LoadRatings(path, 0.5, 5)
	assert.NoError(t, err)
	assert.Equal(t, 2, dataSet.Count())
}

func TestLoadRatings_NoTimestamp(t *testing.T) {
	path := writeTempFile(t, "ratings.csv", "userId,movieId,rating\n1,10,5.0\n")
	dataSet, err := LoadRatings(path, 0.5, 5)
	assert.NoError(t, err)
	assert.Equal(t, 1, dataSet.Count())
}

func TestLoadRatings_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing fields", "userId,movieId,rating,timestamp\n1,10\n"},
		{"bad user id", "userId,movieId,rating,timestamp\nx,10,5.0,1\n"},
		{"bad movie id", "userId,movieId,rating,timestamp\n1,x,5.0,1\n"},
		{"bad rating", "userId,movieId,rating,timestamp\n1,10,x,1\n"},
		{"rating above scale", "userId,movieId,rating,timestamp\n1,10,9.0,1\n"},
		{"rating below scale", "userId,movieId,rating,timestamp\n1,10,0.0,1\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := writeTempFile(t, "ratings.csv", c.content)
			_, err := LoadRatings(path, 0.5, 5)
			assert.ErrorIs(t, err, ErrInvalidData)
		})
	}
}

func TestLoadRatings_FileNotFound(t *testing.T) {
	_, err := LoadRatings(filepath.Join(t.TempDir(), "nope.csv"), 0.5, 5)
	assert.Error(t, err)
}

func TestLoadMovies(t *testing.T) {
	path := writeTempFile(t, "movies.csv", `movieId,title,genres
10,"Matrix, The (1999)",Action|Sci-Fi
20,Toy Story (1995),Adventure|Animation|Children
30,Unlabeled Film,(no genres listed)
`)
	movies, err := LoadMovies(path)
	assert.NoError(t, err)
	assert.Len(t, movies, 3)
	assert.Equal(t, Movie{MovieId: 10, Title: "Matrix, The (1999)", Genres: "Action|Sci-Fi"}, movies[10])
	assert.Equal(t, "Adventure|Animation|Children", movies[20].Genres)
	assert.Equal(t, "(no genres listed)", movies[30].Genres)
}

func TestLoadMovies_Invalid(t *testing.T) {
	path := writeTempFile(t, "movies.csv", "movieId,title,genres\nx,Title,Comedy\n")
	_, err := LoadMovies(path)
	assert.ErrorIs(t, err, ErrInvalidData)
}
