// Command landmarks pre-computes the reference landmark files: every poseN.jpg
// in the input folder goes through the pose estimator and the result is saved
// as poseN.json in the output folder.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/2beens/posecoach/internal/config"
	"github.com/2beens/posecoach/internal/pose"

	"github.com/akamensky/argparse"
	log "github.com/sirupsen/logrus"
)

func main() {
	parser := argparse.NewParser("landmarks", "Extract reference pose landmarks from images")
	input := parser.String("i", "input", &argparse.Options{Help: "Folder with poseN.jpg reference images", Default: "static/poses"})
	output := parser.String("o", "output", &argparse.Options{Help: "Folder for the poseN.json landmark files", Default: "pose_landmarks"})
	estimatorURL := parser.String("e", "estimator", &argparse.Options{Help: "Pose estimator service base URL", Required: true})
	estimatorType := parser.Selector("t", "type", []string{config.EstimatorHTTP, config.EstimatorWebSocket}, &argparse.Options{Help: "Pose estimator transport", Default: config.EstimatorHTTP})
	timeoutSec := parser.Int("", "timeout", &argparse.Options{Help: "Estimator timeout in seconds", Default: 30})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Debug logging"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	timeout := time.Duration(*timeoutSec) * time.Second
	var estimator pose.Estimator
	if *estimatorType == config.EstimatorWebSocket {
		estimator = pose.NewWSEstimator(*estimatorURL, timeout)
	} else {
		estimator = pose.NewHTTPEstimator(pose.HTTPEstimatorParams{
			BaseURL: *estimatorURL,
			Timeout: timeout,
		})
	}
	defer func() {
		if err := estimator.Close(); err != nil {
			log.Errorf("close estimator: %s", err)
		}
	}()

	results, err := extractAll(ctx, estimator, *input, *output)
	if err != nil {
		log.Fatalf("extract landmarks: %s", err)
	}

	saved := 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Printf("%s: failed: %s\n", r.Image, r.Err)
		case r.NoPose:
			fmt.Printf("%s: no pose detected\n", r.Image)
		default:
			saved++
			fmt.Printf("%s: saved %s (%d landmarks)\n", r.Image, r.Output, r.Landmarks)
		}
	}
	fmt.Printf("done: %d of %d reference poses saved to %s\n", saved, len(results), *output)
}
