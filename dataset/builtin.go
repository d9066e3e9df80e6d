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
	"archive/zip"
	"io"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/knightrecs/knightrecs/base/log"
)

const datasetBaseURL = "https://files.grouplens.org/datasets/movielens/"

var (
	datasetDir string
	tempDir    string
)

func init() {
	usr, err := user.Current()
	if err != nil {
		log.Logger().Fatal("failed to get current user", zap.Error(err))
	}
	datasetDir = filepath.Join(usr.HomeDir, ".knightrecs", "dataset")
	tempDir = filepath.Join(usr.HomeDir, ".knightrecs", "temp")
}

// LoadDataFromBuiltIn downloads a MovieLens dataset if it is absent from the
// local cache and loads its ratings and movies.
func LoadDataFromBuiltIn(name string, minRating, maxRating float32) (*Dataset, map[int64]Movie, error) {
	dir, err := downloadAndUnzip(name)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	ratings, err := LoadRatings(filepath.Join(dir, "ratings.csv"), minRating, maxRating)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	movies, err := LoadMovies(filepath.Join(dir, "movies.csv"))
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return ratings, movies, nil
}

func downloadAndUnzip(name string) (string, error) {
	extractDir := filepath.Join(datasetDir, name)
	if _, err := os.Stat(extractDir); err == nil {
		return extractDir, nil
	} else if !os.IsNotExist(err) {
		return "", errors.Trace(err)
	}
	archivePath := filepath.Join(tempDir, name+".zip")
	if _, err := os.Stat(archivePath); os.IsNotExist(err) {
		if err := downloadFromUrl(datasetBaseURL+name+".zip", archivePath); err != nil {
			return "", errors.Trace(err)
		}
	}
	if _, err := unzip(archivePath, datasetDir); err != nil {
		return "", errors.Trace(err)
	}
	return extractDir, nil
}

func downloadFromUrl(src, dst string) error {
	log.Logger().Info("download dataset",
		zap.String("source", src),
		zap.String("destination", dst))
	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return errors.Trace(err)
	}
	output, err := os.Create(dst)
	if err != nil {
		return errors.Trace(err)
	}
	defer output.Close()
	response, err := http.Get(src)
	if err != nil {
		return errors.Trace(err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return errors.Errorf("download %s: %s", src, response.Status)
	}
	pbReader := progressbar.NewReader(response.Body, progressbar.DefaultBytes(
		response.ContentLength,
		"Downloading "+filepath.Base(src),
	))
	if _, err := io.Copy(output, &pbReader); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func unzip(src, dst string) ([]string, error) {
	var fileNames []string
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer r.Close()
	for _, f := range r.File {
		filePath := filepath.Join(dst, f.Name)
		// Check for ZipSlip.
		if !strings.HasPrefix(filePath, filepath.Clean(dst)+string(os.PathSeparator)) {
			return fileNames, errors.Errorf("%s: illegal file path", filePath)
		}
		fileNames = append(fileNames, filePath)
		if f.FileInfo().IsDir() {
			if err = os.MkdirAll(filePath, os.ModePerm); err != nil {
				return fileNames, errors.Trace(err)
			}
			continue
		}
		if err = os.MkdirAll(filepath.Dir(filePath), os.ModePerm); err != nil {
			return fileNames, errors.Trace(err)
		}
		outFile, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return fileNames, errors.Trace(err)
		}
		rc, err := f.Open()
		if err != nil {
			_ = outFile.Close()
			return fileNames, errors.Trace(err)
		}
		_, err = io.Copy(outFile, rc)
		// Close before the next iteration of the loop.
		_ = outFile.Close()
		_ = rc.Close()
		if err != nil {
			return fileNames, errors.Trace(err)
		}
	}
	return fileNames, nil
}
