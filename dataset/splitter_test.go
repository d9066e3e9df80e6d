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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newSplitterDataset() *Dataset {
	dataSet := NewDataset(time.Now(), 0.5, 5)
	for userId := int64(1); userId <= 10; userId++ {
		for movieId := int64(10); movieId <= 100; movieId += 10 {
			rating := float32((userId+movieId)%9)/2 + 0.5
			dataSet.AddRating(userId, movieId, rating)
		}
	}
	return dataSet
}

func TestSplitRatio(t *testing.T) {
	dataSet := newSplitterDataset()
	train, test := SplitRatio(dataSet, 0.2, 42)
	assert.Equal(t, 80, train.Count())
	assert.Equal(t, 20, test.Count())
	assert.Same(t, dataSet.GetUserDict(), train.GetUserDict())
	assert.Same(t, dataSet.GetUserDict(), test.GetUserDict())
	assert.Same(t, dataSet.GetItemDict(), test.GetItemDict())
	// Every rating lands in exactly one split.
	trainFeedback, testFeedback := 0, 0
	for _, feedback := range train.GetUserFeedback() {
		trainFeedback += len(feedback)
	}
	for _, feedback := range test.GetUserFeedback() {
		testFeedback += len(feedback)
	}
	assert.Equal(t, dataSet.Count(), trainFeedback+testFeedback)
}

func TestSplitRatio_Deterministic(t *testing.T) {
	first, firstTest := SplitRatio(newSplitterDataset(), 0.2, 42)
	second, secondTest := SplitRatio(newSplitterDataset(), 0.2, 42)
	assert.Equal(t, first.Count(), second.Count())
	for i := 0; i < first.Count(); i++ {
		firstUser, firstItem, firstRating := first.Get(i)
		secondUser, secondItem, secondRating := second.Get(i)
		assert.Equal(t, firstUser, secondUser)
		assert.Equal(t, firstItem, secondItem)
		assert.Equal(t, firstRating, secondRating)
	}
	assert.Equal(t, firstTest.Count(), secondTest.Count())
}

func TestSplitRatio_Seed(t *testing.T) {
	first, _ := SplitRatio(newSplitterDataset(), 0.2, 42)
	second, _ := SplitRatio(newSplitterDataset(), 0.2, 43)
	different := false
	for i := 0; i < first.Count() && !different; i++ {
		firstUser, firstItem, _ := first.Get(i)
		secondUser, secondItem, _ := second.Get(i)
		if firstUser != secondUser || firstItem != secondItem {
			different = true
		}
	}
	assert.True(t, different)
}

func TestSplitRatio_Empty(t *testing.T) {
	dataSet := NewDataset(time.Now(), 0.5, 5)
	train, test := SplitRatio(dataSet, 0.2, 42)
	assert.Zero(t, train.Count())
	assert.Zero(t, test.Count())
}
