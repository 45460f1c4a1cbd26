package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zsiec/camreplay/internal/collection"
	"github.com/zsiec/camreplay/internal/source"
	"github.com/zsiec/camreplay/internal/timeline"
)

var errNoClips = errors.New("no clips found")

var clipExts = map[string]bool{".h264": true, ".264": true}

// scanDir groups the clips in dir into segments by the creation time encoded
// in their names, one source per camera file.
func scanDir(dir string, fps float64) ([]collection.Segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	var opts []source.Option
	if fps > 0 {
		opts = append(opts, source.WithFrameRate(fps))
	}

	byTime := make(map[time.Time]*collection.Segment)
	for _, e := range entries {
		if e.IsDir() || !clipExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		created, camera, err := timeline.ParseClipName(e.Name())
		if err != nil || camera == "" {
			slog.Debug("skipping file", "name", e.Name(), "error", err)
			continue
		}
		seg, ok := byTime[created]
		if !ok {
			seg = &collection.Segment{
				Name:    created.Format("2006-01-02_15-04-05"),
				Created: created,
			}
			byTime[created] = seg
		}
		seg.Sources = append(seg.Sources, source.NewFile(camera, filepath.Join(dir, e.Name()), opts...))
	}
	if len(byTime) == 0 {
		return nil, fmt.Errorf("scan %s: %w", dir, errNoClips)
	}

	segments := make([]collection.Segment, 0, len(byTime))
	for _, seg := range byTime {
		sort.Slice(seg.Sources, func(i, j int) bool {
			return seg.Sources[i].Camera() < seg.Sources[j].Camera()
		})
		segments = append(segments, *seg)
	}
	collection.Sort(segments)

	slog.Info("recording scanned", "dir", dir, "segments", len(segments),
		"first", segments[0].Name, "last", segments[len(segments)-1].Name)
	return segments, nil
}
