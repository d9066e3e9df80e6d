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

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/knightrecs/knightrecs/base/log"
	"github.com/knightrecs/knightrecs/cmd/version"
	"github.com/knightrecs/knightrecs/common/util"
	"github.com/knightrecs/knightrecs/config"
	"github.com/knightrecs/knightrecs/dataset"
	"github.com/knightrecs/knightrecs/logics"
	"github.com/knightrecs/knightrecs/storage"
)

// ErrModelNotLoaded is returned while no model snapshot has been loaded yet.
var ErrModelNotLoaded = errors.NotAssignedf("model")

const defaultSyncPeriod = 10 * time.Second

// RestServer implements a REST-ful API server. The model snapshot is read
// from a ModelStore in the background and held for the lifetime of the
// process. Requests arriving before the snapshot is loaded are answered
// with 503.
type RestServer struct {
	Config     *config.Config
	HttpHost   string
	HttpPort   int
	WebService *restful.WebService

	store      *storage.ModelStore
	movies     map[int64]dataset.Movie
	syncPeriod time.Duration
	testMode   bool

	modelMutex  sync.RWMutex
	meta        storage.Meta
	recommender *logics.Recommender

	cache *ttlcache.Cache[string, RecommendResponse]
}

// NewRestServer creates a server that serves snapshots from store and movie
// titles from the catalog.
func NewRestServer(cfg *config.Config, store *storage.ModelStore, movies map[int64]dataset.Movie) *RestServer {
	return &RestServer{
		Config:     cfg,
		HttpHost:   cfg.Server.HttpHost,
		HttpPort:   cfg.Server.HttpPort,
		WebService: new(restful.WebService),
		store:      store,
		movies:     movies,
		syncPeriod: defaultSyncPeriod,
		cache: ttlcache.New[string, RecommendResponse](
			ttlcache.WithTTL[string, RecommendResponse](cfg.Recommend.CacheExpire),
			ttlcache.WithCapacity[string, RecommendResponse](uint64(cfg.Recommend.CacheSize)),
		),
	}
}

// RecommendResponse is the body of the recommendation endpoint.
type RecommendResponse struct {
	UserId          int64                   `json:"user_id"`
	Recommendations []logics.Recommendation `json:"recommendations"`
	Count           int                     `json:"count"`
}

// NeighborsResponse is the body of the neighbors endpoint.
type NeighborsResponse struct {
	MovieId   int64                `json:"movie_id"`
	Neighbors []logics.ScoredMovie `json:"neighbors"`
	Count     int                  `json:"count"`
}

// RootResponse describes the service on the root path.
type RootResponse struct {
	Service     string   `json:"service"`
	Status      string   `json:"status"`
	Version     string   `json:"version"`
	ModelLoaded bool     `json:"model_loaded"`
	Endpoints   []string `json:"endpoints"`
}

// Serve starts the model sync loop and the HTTP server.
func (s *RestServer) Serve() {
	go s.cache.Start()
	go s.Sync()
	s.StartHttpServer()
}

// Sync polls the store until the first snapshot appears and loads it. A
// running server never swaps the loaded snapshot, retraining takes effect on
// restart. A corrupted snapshot aborts the server.
func (s *RestServer) Sync() {
	defer util.CheckPanic()
	for {
		var snapshot *storage.Snapshot
		var err error
		if snapshot, err = s.store.Load(); err != nil {
			if errors.Is(err, storage.ErrCorruptedModel) {
				log.Logger().Fatal("corrupted model snapshot", zap.Error(err))
			}
			log.Logger().Debug("waiting for model snapshot", zap.Error(err))
			goto sleep
		}
		s.SetSnapshot(snapshot)
		return
	sleep:
		if s.testMode {
			return
		}
		time.Sleep(s.syncPeriod)
	}
}

// SetSnapshot installs a loaded snapshot and drops cached responses computed
// from the previous one.
func (s *RestServer) SetSnapshot(snapshot *storage.Snapshot) {
	recommender := logics.NewRecommender(snapshot.Model, snapshot.Profiles, s.movies,
		s.Config.Recommend.MaxN, s.Config.Train.Jobs)
	s.modelMutex.Lock()
	s.meta = snapshot.Meta
	s.recommender = recommender
	s.modelMutex.Unlock()
	s.cache.DeleteAll()
	ModelLoaded.Set(1)
	ModelRMSE.Set(float64(snapshot.Meta.Score.RMSE))
	log.Logger().Info("load model snapshot",
		zap.String("snapshot_id", snapshot.Meta.SnapshotId),
		zap.Float32("rmse", snapshot.Meta.Score.RMSE))
}

// Recommender returns the current recommender, nil while no model is loaded.
func (s *RestServer) Recommender() *logics.Recommender {
	s.modelMutex.RLock()
	defer s.modelMutex.RUnlock()
	return s.recommender
}

// Meta returns the meta of the loaded snapshot.
func (s *RestServer) Meta() storage.Meta {
	s.modelMutex.RLock()
	defer s.modelMutex.RUnlock()
	return s.meta
}

// StartHttpServer starts the REST-ful API server.
func (s *RestServer) StartHttpServer() {
	// register restful APIs
	s.CreateWebService()
	restful.DefaultContainer.Add(s.WebService)
	// register openapi spec
	specConfig := restfulspec.Config{
		WebServices: restful.RegisteredWebServices(),
		APIPath:     "/apidocs.json",
	}
	restful.DefaultContainer.Add(restfulspec.NewOpenAPIService(specConfig))
	// register prometheus
	http.Handle("/metrics", promhttp.Handler())
	// register service descriptor
	http.HandleFunc("/", s.handleRoot)

	log.Logger().Info("start http server",
		zap.String("url", fmt.Sprintf("http://%s:%d", s.HttpHost, s.HttpPort)))
	log.Logger().Fatal("failed to start http server",
		zap.Error(http.ListenAndServe(fmt.Sprintf("%s:%d", s.HttpHost, s.HttpPort), nil)))
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	chain.ProcessFilter(req, resp)
	log.Logger().Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()))
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(LogFilter)

	// Get recommendation for a user
	ws.Route(ws.GET("/recommend/{user-id}").To(s.getRecommend).
		Doc("Get top-N recommendations for a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommend"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("integer")).
		Param(ws.QueryParameter("n", "number of returned movies").DataType("integer")).
		Writes(RecommendResponse{}))
	// Get neighbors of a movie
	ws.Route(ws.GET("/item/{item-id}/neighbors").To(s.getNeighbors).
		Doc("Get movies with the most similar latent factors.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommend"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("item-id", "identifier of the movie").DataType("integer")).
		Param(ws.QueryParameter("n", "number of returned movies").DataType("integer")).
		Writes(NeighborsResponse{}))
	// Get version
	ws.Route(ws.GET("/version").To(s.getVersion).
		Doc("Get the version of the server.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Writes(version.Info{}))
	// Get model meta
	ws.Route(ws.GET("/model").To(s.getModel).
		Doc("Get the meta of the loaded model snapshot.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Writes(storage.Meta{}))
}

func (s *RestServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(RootResponse{
		Service:     "knightrecs",
		Status:      "running",
		Version:     version.Version,
		ModelLoaded: s.Recommender() != nil,
		Endpoints: []string{
			"/api/recommend/{user-id}",
			"/api/item/{item-id}/neighbors",
			"/api/model",
			"/api/version",
			"/apidocs.json",
			"/metrics",
		},
	}); err != nil {
		log.Logger().Error("failed to write json", zap.Error(err))
	}
}

func (s *RestServer) getRecommend(request *restful.Request, response *restful.Response) {
	// Authorize
	if !s.auth(request, response) {
		return
	}
	start := time.Now()
	// Parse parameters
	userId, err := ParseId(request, "user-id")
	if err != nil {
		BadRequest(response, err)
		return
	}
	n, err := ParseInt(request, "n", s.Config.Recommend.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	recommender := s.Recommender()
	if recommender == nil {
		ServiceUnavailable(response, errors.Trace(ErrModelNotLoaded))
		return
	}
	// Lookup cache
	key := fmt.Sprintf("%d/%d", userId, n)
	if item := s.cache.Get(key); item != nil {
		CacheHitCount.Inc()
		Ok(response, item.Value())
		return
	}
	CacheMissCount.Inc()
	recommendations, err := recommender.Recommend(userId, n)
	if err != nil {
		writeError(response, err)
		return
	}
	result := RecommendResponse{
		UserId:          userId,
		Recommendations: recommendations,
		Count:           len(recommendations),
	}
	s.cache.Set(key, result, ttlcache.DefaultTTL)
	GetRecommendSeconds.Observe(time.Since(start).Seconds())
	Ok(response, result)
}

func (s *RestServer) getNeighbors(request *restful.Request, response *restful.Response) {
	// Authorize
	if !s.auth(request, response) {
		return
	}
	start := time.Now()
	// Parse parameters
	movieId, err := ParseId(request, "item-id")
	if err != nil {
		BadRequest(response, err)
		return
	}
	n, err := ParseInt(request, "n", s.Config.Recommend.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	recommender := s.Recommender()
	if recommender == nil {
		ServiceUnavailable(response, errors.Trace(ErrModelNotLoaded))
		return
	}
	neighbors, err := recommender.Neighbors(movieId, n)
	if err != nil {
		writeError(response, err)
		return
	}
	GetNeighborsSeconds.Observe(time.Since(start).Seconds())
	Ok(response, NeighborsResponse{
		MovieId:   movieId,
		Neighbors: neighbors,
		Count:     len(neighbors),
	})
}

func (s *RestServer) getVersion(request *restful.Request, response *restful.Response) {
	// Authorize
	if !s.auth(request, response) {
		return
	}
	Ok(response, version.Build())
}

func (s *RestServer) getModel(request *restful.Request, response *restful.Response) {
	// Authorize
	if !s.auth(request, response) {
		return
	}
	if s.Recommender() == nil {
		ServiceUnavailable(response, errors.Trace(ErrModelNotLoaded))
		return
	}
	Ok(response, s.Meta())
}

// ParseInt parses integers from the query parameter.
func ParseInt(request *restful.Request, name string, fallback int) (value int, err error) {
	valueString := request.QueryParameter(name)
	value, err = strconv.Atoi(valueString)
	if err != nil && valueString == "" {
		value = fallback
		err = nil
	}
	return
}

// ParseId parses an integer identifier from the path parameter.
func ParseId(request *restful.Request, name string) (int64, error) {
	value, err := strconv.ParseInt(request.PathParameter(name), 10, 64)
	if err != nil {
		return 0, errors.Errorf("%s must be an integer", name)
	}
	return value, nil
}

// writeError maps domain errors to status codes.
func writeError(response *restful.Response, err error) {
	switch {
	case errors.Is(err, logics.ErrInvalidParameter):
		BadRequest(response, err)
	case errors.Is(err, logics.ErrUserNotExist), errors.Is(err, logics.ErrItemNotExist):
		PageNotFound(response, err)
	case errors.Is(err, ErrModelNotLoaded):
		ServiceUnavailable(response, err)
	default:
		InternalServerError(response, err)
	}
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.Logger().Error("bad request", zap.Error(err))
	if err = response.WriteError(http.StatusBadRequest, err); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// InternalServerError returns an internal server error.
func InternalServerError(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.Logger().Error("internal server error", zap.Error(err))
	if err = response.WriteError(http.StatusInternalServerError, err); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// PageNotFound returns a not found error.
func PageNotFound(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteError(http.StatusNotFound, err); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// ServiceUnavailable returns a service unavailable error.
func ServiceUnavailable(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.Logger().Warn("service unavailable", zap.Error(err))
	if err = response.WriteError(http.StatusServiceUnavailable, err); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteAsJson(content); err != nil {
		log.Logger().Error("failed to write json", zap.Error(err))
	}
}

// Text returns a plain text.
func Text(response *restful.Response, content string) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if _, err := response.Write([]byte(content)); err != nil {
		log.Logger().Error("failed to write text", zap.Error(err))
	}
}

func (s *RestServer) auth(request *restful.Request, response *restful.Response) bool {
	if s.Config.Server.APIKey == "" {
		return true
	}
	apikey := request.HeaderParameter("X-API-Key")
	if apikey == s.Config.Server.APIKey {
		return true
	}
	log.Logger().Error("unauthorized", zap.String("X-API-Key", apikey))
	if err := response.WriteError(http.StatusUnauthorized, fmt.Errorf("unauthorized")); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
	return false
}
