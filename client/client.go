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

// Package client is a typed HTTP client for the recommender API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type KnightClient struct {
	entryPoint string
	apiKey     string
	httpClient http.Client
}

func NewKnightClient(entryPoint, apiKey string) *KnightClient {
	return &KnightClient{
		entryPoint: entryPoint,
		apiKey:     apiKey,
	}
}

func request[Response any](ctx context.Context, c *KnightClient, method, url string) (result Response, err error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return result, err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()
	buf := new(strings.Builder)
	if _, err = io.Copy(buf, resp.Body); err != nil {
		return result, err
	}
	if resp.StatusCode != http.StatusOK {
		return result, ErrorMessage(buf.String())
	}
	err = json.Unmarshal([]byte(buf.String()), &result)
	return result, err
}

// GetRecommend returns the top n recommendations for a user.
func (c *KnightClient) GetRecommend(ctx context.Context, userId int64, n int) (RecommendResponse, error) {
	return request[RecommendResponse](ctx, c, "GET",
		c.entryPoint+fmt.Sprintf("/api/recommend/%d?n=%d", userId, n))
}

// GetNeighbors returns the n movies most similar to a movie.
func (c *KnightClient) GetNeighbors(ctx context.Context, movieId int64, n int) (NeighborsResponse, error) {
	return request[NeighborsResponse](ctx, c, "GET",
		c.entryPoint+fmt.Sprintf("/api/item/%d/neighbors?n=%d", movieId, n))
}

// GetModel returns the meta of the model snapshot loaded by the server.
func (c *KnightClient) GetModel(ctx context.Context) (ModelInfo, error) {
	return request[ModelInfo](ctx, c, "GET", c.entryPoint+"/api/model")
}

// GetVersion returns the build of the server.
func (c *KnightClient) GetVersion(ctx context.Context) (VersionInfo, error) {
	return request[VersionInfo](ctx, c, "GET", c.entryPoint+"/api/version")
}

// Health returns the service descriptor of the root path.
func (c *KnightClient) Health(ctx context.Context) (ServiceInfo, error) {
	return request[ServiceInfo](ctx, c, "GET", c.entryPoint+"/")
}
