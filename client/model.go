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

package client

import "time"

type ErrorMessage string

func (e ErrorMessage) Error() string {
	return string(e)
}

// Recommendation is one scored movie of a recommendation response.
type Recommendation struct {
	MovieId         int64   `json:"movieId"`
	Title           string  `json:"title"`
	Genres          string  `json:"genres"`
	PredictedRating float64 `json:"predicted_rating"`
}

// RecommendResponse is the body of the recommendation endpoint.
type RecommendResponse struct {
	UserId          int64            `json:"user_id"`
	Recommendations []Recommendation `json:"recommendations"`
	Count           int              `json:"count"`
}

// ScoredMovie is a movie scored by similarity to another movie.
type ScoredMovie struct {
	MovieId int64   `json:"movieId"`
	Title   string  `json:"title"`
	Genres  string  `json:"genres"`
	Score   float64 `json:"score"`
}

// NeighborsResponse is the body of the neighbors endpoint.
type NeighborsResponse struct {
	MovieId   int64         `json:"movie_id"`
	Neighbors []ScoredMovie `json:"neighbors"`
	Count     int           `json:"count"`
}

// ServiceInfo describes the service on the root path.
type ServiceInfo struct {
	Service     string   `json:"service"`
	Status      string   `json:"status"`
	Version     string   `json:"version"`
	ModelLoaded bool     `json:"model_loaded"`
	Endpoints   []string `json:"endpoints"`
}

// VersionInfo describes the build of the server.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// ModelInfo describes the model snapshot loaded by the server.
type ModelInfo struct {
	SnapshotId string
	CreatedAt  time.Time
	Score      ModelScore
}

type ModelScore struct {
	RMSE float32
	MAE  float32
}
