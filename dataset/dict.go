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

// FreqDict maps external 64-bit identifiers to dense 32-bit indices and
// tracks how often each identifier was added.
type FreqDict struct {
	vi  map[int64]int32
	iv  []int64
	cnt []int32
}

func NewFreqDict() *FreqDict {
	return &FreqDict{vi: make(map[int64]int32)}
}

func (d *FreqDict) Count() int32 {
	return int32(len(d.iv))
}

// Add returns the index of v, inserting it if unseen, and increments its
// frequency.
func (d *FreqDict) Add(v int64) int32 {
	if id, ok := d.vi[v]; ok {
		d.cnt[id]++
		return id
	}
	id := int32(len(d.iv))
	d.vi[v] = id
	d.iv = append(d.iv, v)
	d.cnt = append(d.cnt, 1)
	return id
}

// Id returns the index of v, or -1 if v was never added.
func (d *FreqDict) Id(v int64) int32 {
	if id, ok := d.vi[v]; ok {
		return id
	}
	return -1
}

// Value returns the identifier at index id.
func (d *FreqDict) Value(id int32) (int64, bool) {
	if id < 0 || id >= int32(len(d.iv)) {
		return 0, false
	}
	return d.iv[id], true
}

func (d *FreqDict) Freq(id int32) int32 {
	if id < 0 || id >= int32(len(d.cnt)) {
		return 0
	}
	return d.cnt[id]
}

// Values returns all identifiers in index order.
func (d *FreqDict) Values() []int64 {
	return d.iv
}
