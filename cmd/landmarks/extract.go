package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/2beens/posecoach/internal/pose"
	"github.com/2beens/posecoach/pkg"

	log "github.com/sirupsen/logrus"
)

type extractResult struct {
	Image     string
	Output    string
	Landmarks int
	NoPose    bool
	Err       error
}

// extractAll runs the estimator over every numbered .jpg in inDir, in number order.
// A failing image is reported in its result; only setup errors and
// cancellation stop the run.
func extractAll(ctx context.Context, estimator pose.Estimator, inDir, outDir string) ([]extractResult, error) {
	images, err := pkg.ListNumberedFiles(inDir, ".jpg")
	if err != nil {
		return nil, fmt.Errorf("list images in %s: %w", inDir, err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no poseN.jpg images in %s", inDir)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	results := make([]extractResult, 0, len(images))
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, extractOne(ctx, estimator, img, outDir))
	}
	return results, nil
}

func extractOne(ctx context.Context, estimator pose.Estimator, img pkg.NumberedFile, outDir string) extractResult {
	stem := strings.TrimSuffix(img.Name, filepath.Ext(img.Name))
	res := extractResult{
		Image:  img.Name,
		Output: filepath.Join(outDir, stem+".json"),
	}

	data, err := os.ReadFile(img.Path)
	if err != nil {
		res.Err = err
		return res
	}

	landmarks, err := estimator.Estimate(ctx, data)
	if errors.Is(err, pose.ErrNoPose) {
		res.NoPose = true
		return res
	}
	if err != nil {
		res.Err = fmt.Errorf("estimate: %w", err)
		return res
	}

	encoded, err := pose.MarshalLandmarks(landmarks)
	if err != nil {
		res.Err = err
		return res
	}
	if err := os.WriteFile(res.Output, encoded, 0o644); err != nil {
		res.Err = err
		return res
	}

	log.Debugf("%s -> %s", img.Path, res.Output)
	res.Landmarks = len(landmarks)
	return res
}
