// Command classify sends a directory of images to a serving endpoint
// and prints the ranked classes for each.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"

	"github.com/nvr-ai/go-serving/images"
	"github.com/nvr-ai/go-serving/serving"
	"github.com/nvr-ai/go-serving/util"
)

const (
	// DefaultURL targets a local servingd instance.
	DefaultURL = "http://localhost:8080/v1/predict"
)

// classifyInput pairs a file path with its sniffed encoded image.
type classifyInput struct {
	path  string
	image images.Image
}

func main() {
	var (
		dir       string
		url       string
		k         int
		fit       bool
		labelPath string
	)

	flag.StringVar(&dir, "dir", "", "Directory of JPEG or PNG images to classify")
	flag.StringVar(&url, "url", DefaultURL, "Predict endpoint URL")
	flag.IntVar(&k, "k", 0, "Ranking depth, 0 uses the server default")
	flag.BoolVar(&fit, "fit", false, "Resize images to the model input size before sending")
	flag.StringVar(&labelPath, "labels", "", "Optional label file, one class name per line")
	flag.Parse()

	if dir == "" {
		log.Fatal("-dir is required")
	}

	files, err := util.LoadDirectoryImageFiles(dir)
	if err != nil {
		log.Fatalf("Failed to load images: %v", err)
	}

	inputs, skipped := keepSupported(files)
	for _, path := range skipped {
		log.Printf("Skipping %s: not a JPEG or PNG", path)
	}
	if len(inputs) == 0 {
		log.Fatalf("No supported images found in %s", dir)
	}

	var labels []string
	if labelPath != "" {
		labels, err = util.LoadLabels(labelPath)
		if err != nil {
			log.Fatalf("Failed to load labels: %v", err)
		}
	}

	config := serving.DefaultConfig()
	payload := make([][]byte, len(inputs))
	for i, input := range inputs {
		data := input.image.Data
		if fit {
			data, err = images.Fit(data, config.Width, config.Height)
			if err != nil {
				log.Fatalf("Failed to fit %s: %v", input.path, err)
			}
		}
		payload[i] = data
	}

	response, err := predict(url, serving.PredictRequest{Images: payload, K: k}, len(inputs))
	if err != nil {
		log.Fatalf("Predict failed: %v", err)
	}

	for i, result := range response.Results {
		fmt.Printf("%s (%s)\n", filepath.Base(inputs[i].path), inputs[i].image.Format)
		for j, class := range result.Classes {
			name := fmt.Sprintf("class %d", class)
			if class < len(labels) {
				name = labels[class]
			}
			fmt.Printf("  %d. %-30s %.4f\n", j+1, name, result.Probabilities[j])
		}
	}
}

// keepSupported splits loaded files into uploadable inputs and the
// paths whose bytes match no supported image signature.
func keepSupported(files []util.ImageFile) ([]classifyInput, []string) {
	inputs := make([]classifyInput, 0, len(files))
	var skipped []string

	for _, file := range files {
		img := images.NewImage(file.Data)
		if img.Format == images.FormatUnknown {
			skipped = append(skipped, file.Path)
			continue
		}

		inputs = append(inputs, classifyInput{path: file.Path, image: img})
	}

	return inputs, skipped
}

// predict posts the request document and decodes the ranked response.
// The response must carry exactly want results, one per uploaded image.
func predict(url string, request serving.PredictRequest, want int) (*serving.PredictResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	response, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return nil, fmt.Errorf("server returned status %d: %s", response.StatusCode, detail)
	}

	var parsed serving.PredictResponse
	if err := json.NewDecoder(response.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	if len(parsed.Results) != want {
		return nil, fmt.Errorf("server returned %d results for %d images", len(parsed.Results), want)
	}

	return &parsed, nil
}
