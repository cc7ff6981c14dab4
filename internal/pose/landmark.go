package pose

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Landmark is a single body keypoint in normalized image coordinates.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility,omitempty"`
}

type Landmarks []Landmark

// Reference is the pre-recorded pose for one step of the sequence.
type Reference struct {
	Step      int       `json:"step"`
	Name      string    `json:"name"`
	File      string    `json:"file"`
	Landmarks Landmarks `json:"landmarks"`
}

type landmarksDocument struct {
	Landmarks Landmarks `json:"landmarks"`
}

// Similarity scores how close live is to reference, from 0 to 100.
// Sets of different length score 0. Only x, y and z take part.
func Similarity(reference, live Landmarks) float64 {
	if len(reference) != len(live) || len(reference) == 0 {
		return 0
	}

	var sum float64
	for i := range reference {
		dx := reference[i].X - live[i].X
		dy := reference[i].Y - live[i].Y
		dz := reference[i].Z - live[i].Z
		sum += dx*dx + dy*dy + dz*dz
	}
	dist := math.Sqrt(sum)
	maxDist := math.Sqrt(float64(3 * len(reference)))

	return math.Max(0, 100-dist/maxDist*100)
}

// ParseLandmarks decodes either the estimator document form
// {"landmarks":[{"x":..,"y":..,"z":..}]} or a bare list of [x, y, z] triples.
func ParseLandmarks(data []byte) (Landmarks, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty landmarks data")
	}

	if trimmed[0] == '[' {
		var triples [][]float64
		if err := json.Unmarshal(trimmed, &triples); err != nil {
			return nil, fmt.Errorf("decode landmark triples: %w", err)
		}
		landmarks := make(Landmarks, 0, len(triples))
		for i, t := range triples {
			if len(t) < 3 {
				return nil, fmt.Errorf("landmark %d: expected 3 coordinates, got %d", i, len(t))
			}
			lm := Landmark{X: t[0], Y: t[1], Z: t[2]}
			if len(t) > 3 {
				lm.Visibility = t[3]
			}
			landmarks = append(landmarks, lm)
		}
		return landmarks, nil
	}

	var doc landmarksDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode landmarks document: %w", err)
	}
	return doc.Landmarks, nil
}

// MarshalLandmarks encodes landmarks in the document form.
func MarshalLandmarks(landmarks Landmarks) ([]byte, error) {
	return json.MarshalIndent(landmarksDocument{Landmarks: landmarks}, "", "  ")
}
