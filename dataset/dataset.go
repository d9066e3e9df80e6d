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
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"

	"github.com/knightrecs/knightrecs/common/util"
)

var ErrInvalidData = errors.NotValidf("rating data")

// Dataset stores explicit feedback as parallel columns of user index, item
// index and rating value. User and item identifiers are mapped to dense
// indices by two dictionaries which may be shared between splits.
type Dataset struct {
	timestamp    time.Time
	userDict     *FreqDict
	itemDict     *FreqDict
	userIndices  []int32
	itemIndices  []int32
	ratings      []float32
	userFeedback [][]int32
	itemFeedback [][]int32
	minRating    float32
	maxRating    float32
}

func NewDataset(timestamp time.Time, minRating, maxRating float32) *Dataset {
	return &Dataset{
		timestamp: timestamp,
		userDict:  NewFreqDict(),
		itemDict:  NewFreqDict(),
		minRating: minRating,
		maxRating: maxRating,
	}
}

func (d *Dataset) GetTimestamp() time.Time {
	return d.timestamp
}

func (d *Dataset) GetUserDict() *FreqDict {
	return d.userDict
}

func (d *Dataset) GetItemDict() *FreqDict {
	return d.itemDict
}

func (d *Dataset) GetUserFeedback() [][]int32 {
	return d.userFeedback
}

func (d *Dataset) GetItemFeedback() [][]int32 {
	return d.itemFeedback
}

func (d *Dataset) MinRating() float32 {
	return d.minRating
}

func (d *Dataset) MaxRating() float32 {
	return d.maxRating
}

func (d *Dataset) Count() int {
	return len(d.ratings)
}

func (d *Dataset) CountUsers() int {
	return int(d.userDict.Count())
}

func (d *Dataset) CountItems() int {
	return int(d.itemDict.Count())
}

// Get returns the i-th rating as (user index, item index, rating).
func (d *Dataset) Get(i int) (int32, int32, float32) {
	return d.userIndices[i], d.itemIndices[i], d.ratings[i]
}

// Mean returns the mean of all ratings.
func (d *Dataset) Mean() float32 {
	if len(d.ratings) == 0 {
		return 0
	}
	sum := float64(0)
	for _, rating := range d.ratings {
		sum += float64(rating)
	}
	return float32(sum / float64(len(d.ratings)))
}

// AddRating appends a rating, registering the user and item if unseen.
func (d *Dataset) AddRating(userId, movieId int64, rating float32) {
	userIndex := d.userDict.Add(userId)
	itemIndex := d.itemDict.Add(movieId)
	for int(userIndex) >= len(d.userFeedback) {
		d.userFeedback = append(d.userFeedback, nil)
	}
	for int(itemIndex) >= len(d.itemFeedback) {
		d.itemFeedback = append(d.itemFeedback, nil)
	}
	d.userFeedback[userIndex] = append(d.userFeedback[userIndex], itemIndex)
	d.itemFeedback[itemIndex] = append(d.itemFeedback[itemIndex], userIndex)
	d.userIndices = append(d.userIndices, userIndex)
	d.itemIndices = append(d.itemIndices, itemIndex)
	d.ratings = append(d.ratings, rating)
}

// SubSet returns a dataset containing the selected ratings. The returned
// dataset shares the dictionaries of the receiver so that indices stay
// comparable across splits.
func (d *Dataset) SubSet(indices []int) *Dataset {
	sub := NewDataset(d.timestamp, d.minRating, d.maxRating)
	sub.userDict = d.userDict
	sub.itemDict = d.itemDict
	sub.userFeedback = make([][]int32, d.userDict.Count())
	sub.itemFeedback = make([][]int32, d.itemDict.Count())
	for _, i := range indices {
		userIndex, itemIndex, rating := d.Get(i)
		sub.userIndices = append(sub.userIndices, userIndex)
		sub.itemIndices = append(sub.itemIndices, itemIndex)
		sub.ratings = append(sub.ratings, rating)
		sub.userFeedback[userIndex] = append(sub.userFeedback[userIndex], itemIndex)
		sub.itemFeedback[itemIndex] = append(sub.itemFeedback[itemIndex], userIndex)
	}
	return sub
}

// UserProfiles returns the distinct rated movies of each user, sorted by
// movie identifier.
func (d *Dataset) UserProfiles() map[int64][]int64 {
	profiles := make(map[int64][]int64, d.CountUsers())
	for userIndex, feedback := range d.userFeedback {
		userId, ok := d.userDict.Value(int32(userIndex))
		if !ok {
			continue
		}
		rated := mapset.NewSetWithSize[int64](len(feedback))
		for _, itemIndex := range feedback {
			if itemId, ok := d.itemDict.Value(itemIndex); ok {
				rated.Add(itemId)
			}
		}
		movies := rated.ToSlice()
		slices.Sort(movies)
		profiles[userId] = movies
	}
	return profiles
}

// Movie is the metadata of a single movie.
type Movie struct {
	MovieId int64  `json:"movieId"`
	Title   string `json:"title"`
	Genres  string `json:"genres"`
}

// LoadRatings reads a ratings CSV with columns userId,movieId,rating and an
// optional trailing timestamp column. The timestamp column is ignored.
func LoadRatings(path string, minRating, maxRating float32) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	data := NewDataset(time.Now(), minRating, maxRating)
	scanner := bufio.NewScanner(file)
	row := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		row++
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if row == 1 {
			// The first line may be a header.
			if _, err := strconv.ParseInt(fields[0], 10, 64); err != nil {
				continue
			}
		}
		if len(fields) < 3 {
			return nil, errors.Annotatef(ErrInvalidData, "row %d: expect userId,movieId,rating", row)
		}
		userId, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, errors.Annotatef(ErrInvalidData, "row %d: user id %q", row, fields[0])
		}
		movieId, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, errors.Annotatef(ErrInvalidData, "row %d: movie id %q", row, fields[1])
		}
		rating, err := util.ParseFloat[float32](fields[2])
		if err != nil {
			return nil, errors.Annotatef(ErrInvalidData, "row %d: rating %q", row, fields[2])
		}
		if math32.IsNaN(rating) || math32.IsInf(rating, 0) || rating < minRating || rating > maxRating {
			return nil, errors.Annotatef(ErrInvalidData, "row %d: rating %v out of scale [%v,%v]",
				row, rating, minRating, maxRating)
		}
		data.AddRating(userId, movieId, rating)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}

// LoadMovies reads a movies CSV with columns movieId,title,genres. Titles may
// be quoted and contain commas.
func LoadMovies(path string) (map[int64]Movie, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	reader := csv.NewReader(bufio.NewReader(file))
	reader.FieldsPerRecord = -1
	movies := make(map[int64]Movie)
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Trace(err)
		}
		row++
		if len(record) < 3 {
			return nil, errors.Annotatef(ErrInvalidData, "movies row %d: expect movieId,title,genres", row)
		}
		movieId, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			if row == 1 {
				continue
			}
			return nil, errors.Annotatef(ErrInvalidData, "movies row %d: movie id %q", row, record[0])
		}
		movies[movieId] = Movie{
			MovieId: movieId,
			Title:   record[1],
			Genres:  record[2],
		}
	}
	return movies, nil
}
