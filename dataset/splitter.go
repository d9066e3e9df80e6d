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
	"github.com/knightrecs/knightrecs/base"
)

// SplitRatio splits ratings into a train set and a test set by ratio. The
// same seed always produces the same split. Both splits share the
// dictionaries of the source dataset.
func SplitRatio(data *Dataset, testRatio float32, seed int64) (*Dataset, *Dataset) {
	testSize := int(float64(data.Count()) * float64(testRatio))
	rng := base.NewRandomGenerator(seed)
	perm := rng.Perm(data.Count())
	train := data.SubSet(perm[testSize:])
	test := data.SubSet(perm[:testSize])
	return train, test
}
