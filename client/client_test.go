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

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

var serverEndpoint string

func init() {
	serverEndpoint = os.Getenv("KNIGHTRECS_SERVER_ENDPOINT")
}

func newStubServer(t *testing.T, apiKey string, routes map[string]any) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, apiKey, r.Header.Get("X-API-Key"))
		body, exist := routes[r.URL.Path]
		if !exist {
			http.Error(w, "page not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(body))
	}))
}

func TestGetRecommend(t *testing.T) {
	expected := RecommendResponse{
		UserId: 1,
		Recommendations: []Recommendation{
			{MovieId: 20, Title: "Jumanji (1995)", Genres: "Adventure|Children|Fantasy", PredictedRating: 3.5},
			{MovieId: 30, Title: "Heat (1995)", Genres: "Action|Crime|Thriller", PredictedRating: 3.25},
		},
		Count: 2,
	}
	srv := newStubServer(t, "secret", map[string]any{"/api/recommend/1": expected})
	defer srv.Close()
	client := NewKnightClient(srv.URL, "secret")
	resp, err := client.GetRecommend(context.Background(), 1, 2)
	assert.NoError(t, err)
	assert.Equal(t, expected, resp)
}

func TestGetNeighbors(t *testing.T) {
	expected := NeighborsResponse{
		MovieId: 10,
		Neighbors: []ScoredMovie{
			{MovieId: 30, Title: "Heat (1995)", Genres: "Action|Crime|Thriller", Score: 0.7},
		},
		Count: 1,
	}
	srv := newStubServer(t, "secret", map[string]any{"/api/item/10/neighbors": expected})
	defer srv.Close()
	client := NewKnightClient(srv.URL, "secret")
	resp, err := client.GetNeighbors(context.Background(), 10, 1)
	assert.NoError(t, err)
	assert.Equal(t, expected, resp)
}

func TestErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "user 999: user not found", http.StatusNotFound)
	}))
	defer srv.Close()
	client := NewKnightClient(srv.URL, "")
	_, err := client.GetRecommend(context.Background(), 999, 5)
	assert.ErrorContains(t, err, "user not found")
}

// KnightClientTestSuite runs against a live server, set KNIGHTRECS_SERVER_ENDPOINT
// to enable it.
type KnightClientTestSuite struct {
	suite.Suite
	client *KnightClient
}

func (suite *KnightClientTestSuite) SetupSuite() {
	if serverEndpoint == "" {
		suite.T().Skip("KNIGHTRECS_SERVER_ENDPOINT is not set")
	}
	suite.client = NewKnightClient(serverEndpoint, os.Getenv("KNIGHTRECS_SERVER_API_KEY"))
}

func (suite *KnightClientTestSuite) TestHealth() {
	ctx := context.Background()
	info, err := suite.client.Health(ctx)
	suite.NoError(err)
	suite.Equal("knightrecs", info.Service)
	suite.Equal("running", info.Status)
}

func (suite *KnightClientTestSuite) TestVersion() {
	ctx := context.Background()
	info, err := suite.client.GetVersion(ctx)
	suite.NoError(err)
	suite.NotEmpty(info.Version)
	suite.NotEmpty(info.GoVersion)
}

func (suite *KnightClientTestSuite) TestRecommend() {
	ctx := context.Background()
	resp, err := suite.client.GetRecommend(ctx, 1, 5)
	suite.NoError(err)
	suite.Equal(int64(1), resp.UserId)
	suite.Equal(len(resp.Recommendations), resp.Count)
	suite.LessOrEqual(resp.Count, 5)
	suite.True(sort.SliceIsSorted(resp.Recommendations, func(i, j int) bool {
		return resp.Recommendations[i].PredictedRating > resp.Recommendations[j].PredictedRating
	}))
	for _, recommendation := range resp.Recommendations {
		suite.NotEmpty(recommendation.Title)
	}
}

func (suite *KnightClientTestSuite) TestNeighbors() {
	ctx := context.Background()
	resp, err := suite.client.GetNeighbors(ctx, 1, 5)
	suite.NoError(err)
	suite.Equal(int64(1), resp.MovieId)
	suite.Equal(len(resp.Neighbors), resp.Count)
	for _, neighbor := range resp.Neighbors {
		suite.NotEqual(int64(1), neighbor.MovieId)
	}
}

func TestKnightClientTestSuite(t *testing.T) {
	suite.Run(t, new(KnightClientTestSuite))
}
